package atproto

import (
	"sync"
	"time"
)

const (
	cbCooldown  = 5 * time.Minute
	cbThreshold = 3 // consecutive failures before the circuit opens
)

// endpointCircuit is a per-endpoint circuit breaker, generalized from the
// teacher's per-relay breaker (internal/nostr/relay.go's relayCircuit) to the
// PDS/search endpoint this client calls. Bluesky's search API often has
// elevated error rates during incidents; tripping the breaker stops a
// failing backfill run from hammering it every poll.
type endpointCircuit struct {
	mu        sync.Mutex
	failCount int
	openedAt  time.Time
	open      bool
}

// isOpen reports whether the endpoint should currently be bypassed. Once
// cbCooldown has elapsed the circuit closes fully and its failure count is
// reset, so it reopens only after a fresh run of consecutive failures.
func (cb *endpointCircuit) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.open {
		return false
	}
	if time.Since(cb.openedAt) >= cbCooldown {
		cb.open = false
		cb.failCount = 0
		return false
	}
	return true
}

func (cb *endpointCircuit) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failCount++
	if !cb.open && cb.failCount >= cbThreshold {
		cb.open = true
		cb.openedAt = time.Now()
	}
}

func (cb *endpointCircuit) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.open = false
	cb.failCount = 0
}

// EndpointStatus describes one endpoint's circuit-breaker state, surfaced by
// the admin/metrics endpoint.
type EndpointStatus struct {
	Endpoint          string
	CircuitOpen       bool
	FailCount         int
	CooldownRemaining int // seconds remaining until the circuit resets
}

func (cb *endpointCircuit) status(endpoint string) EndpointStatus {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	open := cb.open && time.Since(cb.openedAt) < cbCooldown
	var remaining int
	if open {
		if r := cbCooldown - time.Since(cb.openedAt); r > 0 {
			remaining = int(r.Seconds())
		}
	}
	return EndpointStatus{
		Endpoint:          endpoint,
		CircuitOpen:       open,
		FailCount:         cb.failCount,
		CooldownRemaining: remaining,
	}
}

// EndpointStatuses reports the circuit-breaker state of every endpoint this
// client has called.
func (c *Client) EndpointStatuses() []EndpointStatus {
	c.circuitsMu.Lock()
	defer c.circuitsMu.Unlock()
	statuses := make([]EndpointStatus, 0, len(c.circuits))
	for endpoint, cb := range c.circuits {
		statuses = append(statuses, cb.status(endpoint))
	}
	return statuses
}

func (c *Client) circuitFor(endpoint string) *endpointCircuit {
	c.circuitsMu.Lock()
	defer c.circuitsMu.Unlock()
	if cb, ok := c.circuits[endpoint]; ok {
		return cb
	}
	cb := &endpointCircuit{}
	c.circuits[endpoint] = cb
	return cb
}
