package engagement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doceazedo/devlogs-feed/internal/config"
	"github.com/doceazedo/devlogs-feed/internal/store"
)

type fakeBackend struct {
	replies        []string
	reposts        []string
	likeCount      int
	repliesWindow  int
	repostsWindow  int
	actorFrequency map[string]int
	upserted       store.EngagementCounters
	flagged        []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{actorFrequency: map[string]int{}}
}

func (f *fakeBackend) InsertReply(parentURI, eventURI, actorDID string, ts int64) error {
	f.replies = append(f.replies, eventURI)
	return nil
}
func (f *fakeBackend) InsertRepost(parentURI, eventURI, actorDID string, ts int64) error {
	f.reposts = append(f.reposts, eventURI)
	return nil
}
func (f *fakeBackend) RepliesInWindow(parentURI string, sinceTs int64) (int, error) {
	return f.repliesWindow, nil
}
func (f *fakeBackend) RepostsInWindow(parentURI string, sinceTs int64) (int, error) {
	return f.repostsWindow, nil
}
func (f *fakeBackend) ReplyCount(parentURI string) (int, error)  { return len(f.replies), nil }
func (f *fakeBackend) RepostCount(parentURI string) (int, error) { return len(f.reposts), nil }
func (f *fakeBackend) LikeCount(postURI string) (int, error)     { return f.likeCount, nil }
func (f *fakeBackend) ActorRepostFrequency(actorDID string, sinceTs int64) (int, error) {
	return f.actorFrequency[actorDID], nil
}
func (f *fakeBackend) UpsertEngagement(postURI string, c store.EngagementCounters) error {
	f.upserted = c
	return nil
}
func (f *fakeBackend) FlagSpammer(did, reason string, frequency *float64, flaggedAt int64, autoDetected bool) error {
	f.flagged = append(f.flagged, did)
	return nil
}

func testConfigs() (config.SpamConfig, config.EngagementConfig) {
	return config.SpamConfig{VelocityWindowHours: 1, RepostThreshold: 3},
		config.EngagementConfig{WeightReply: 1, WeightRepost: 1, WeightLike: 1}
}

func TestRecordReplyUpdatesCounters(t *testing.T) {
	backend := newFakeBackend()
	spamCfg, engCfg := testConfigs()
	tracker := New(backend, spamCfg, engCfg)

	require.NoError(t, tracker.RecordReply("at://parent", "at://reply1", "did:plc:a", 100))
	assert.Equal(t, 1, backend.upserted.ReplyCount)
}

func TestRecordRepostBelowThresholdSucceeds(t *testing.T) {
	backend := newFakeBackend()
	spamCfg, engCfg := testConfigs()
	tracker := New(backend, spamCfg, engCfg)

	err := tracker.RecordRepost("at://parent", "at://repost1", "did:plc:a", 100)
	require.NoError(t, err)
	assert.Len(t, backend.reposts, 1)
	assert.Empty(t, backend.flagged)
}

func TestRecordRepostAtThresholdFlagsSpammer(t *testing.T) {
	backend := newFakeBackend()
	backend.actorFrequency["did:plc:spammer"] = 3
	spamCfg, engCfg := testConfigs()
	tracker := New(backend, spamCfg, engCfg)

	err := tracker.RecordRepost("at://parent", "at://repost1", "did:plc:spammer", 100)
	assert.ErrorIs(t, err, ErrSpamDetected)
	assert.Contains(t, backend.flagged, "did:plc:spammer")
	assert.Empty(t, backend.reposts, "the spam-triggering repost itself must not be recorded")
}

func TestVelocityScoreWeightsReplyRepostLike(t *testing.T) {
	backend := newFakeBackend()
	backend.repliesWindow = 2
	backend.repostsWindow = 1
	backend.likeCount = 10
	spamCfg, engCfg := testConfigs()
	tracker := New(backend, spamCfg, engCfg)

	require.NoError(t, tracker.RecordLike("at://post", 100))
	expected := engCfg.WeightReply*2 + engCfg.WeightRepost*1 + 0.1*engCfg.WeightLike*10
	assert.InDelta(t, expected, backend.upserted.VelocityScore, 0.001)
}
