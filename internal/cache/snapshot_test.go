package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

func testCacheConfig() Config {
	return Config{
		SnapshotKeyPrefix: "pulse-guard:session:",
		ConfidenceSuffix:  ":confidence",
		LockSuffix:        ":lock",
		EpisodeKeyPrefix:  "pulse-guard:episode:",
		SnapshotTTL:       300,
	}
}

func setupCache(t *testing.T) (*miniredis.Miniredis, *SnapshotCache) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	return mr, NewSnapshotCache(testCacheConfig(), client, zap.NewNop())
}

func TestPutGetConfidence(t *testing.T) {
	mr, c := setupCache(t)
	ctx := context.Background()

	state := models.ConfidenceState{
		Score:    64,
		Tier:     models.TierArmed,
		TierName: "armed",
		History: []models.Signal{
			{Kind: models.SignalVoice, Magnitude: 80},
		},
	}

	require.NoError(t, c.PutConfidence(ctx, "s1", state))

	got, err := c.GetConfidence(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 64.0, got.Score)
	assert.Equal(t, "armed", got.TierName)
	require.Len(t, got.History, 1)
	assert.Equal(t, models.SignalVoice, got.History[0].Kind)

	// TTL 已设置
	ttl := mr.TTL("pulse-guard:session:s1:confidence")
	assert.Greater(t, ttl, time.Duration(0))
}

func TestGetConfidence_Missing(t *testing.T) {
	_, c := setupCache(t)

	got, err := c.GetConfidence(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPutGetLockState(t *testing.T) {
	_, c := setupCache(t)
	ctx := context.Background()

	now := time.Now().Truncate(time.Second)
	lock := &models.EvidenceLock{
		LockID:      "l1",
		IncidentRef: "i1",
		State:       models.LockCancellable,
		LockedAt:    now,
		GraceUntil:  now.Add(10 * time.Minute),
	}

	require.NoError(t, c.PutLockState(ctx, "s1", lock))

	got, err := c.GetLockState(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "l1", got.LockID)
	assert.Equal(t, models.LockCancellable, got.State)
}

func TestMarkEpisode_Deduplicates(t *testing.T) {
	mr, c := setupCache(t)
	ctx := context.Background()

	ok, err := c.MarkEpisode(ctx, "s1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	// 周期内重复标记失败
	ok, err = c.MarkEpisode(ctx, "s1", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	// TTL 过期后重新允许
	mr.FastForward(11 * time.Second)
	ok, err = c.MarkEpisode(ctx, "s1", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSnapshotExpiry(t *testing.T) {
	mr, c := setupCache(t)
	ctx := context.Background()

	require.NoError(t, c.PutConfidence(ctx, "s1", models.ConfidenceState{Score: 10}))

	mr.FastForward(301 * time.Second)

	got, err := c.GetConfidence(ctx, "s1")
	require.NoError(t, err)
	assert.Nil(t, got)
}
