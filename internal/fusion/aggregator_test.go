package fusion

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

func testWeights() models.WeightTable {
	return models.WeightTable{
		models.SignalMotion:     30,
		models.SignalVoice:      50,
		models.SignalInactivity: 20,
		models.SignalLocation:   25,
		models.SignalTime:       10,
		models.SignalPattern:    35,
	}
}

func newTestAggregator(t *testing.T, base time.Time) *Aggregator {
	t.Helper()
	agg := NewAggregator(testWeights(), 20, 10*time.Minute, zap.NewNop())
	agg.now = func() time.Time { return base }
	return agg
}

func TestAggregator_EmptyHistoryScoreZero(t *testing.T) {
	agg := newTestAggregator(t, time.Now())

	state := agg.State()

	assert.Equal(t, 0.0, state.Score)
	assert.Empty(t, state.History)
}

func TestAggregator_TwoSignalScenario(t *testing.T) {
	// 场景：voice 80 @t0，motion 80 @t0+1s（默认权重）
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(t, t0)

	agg.Add(models.Signal{Kind: models.SignalVoice, Magnitude: 80, ObservedAt: t0})

	t1 := t0.Add(time.Second)
	agg.now = func() time.Time { return t1 }
	state := agg.Add(models.Signal{Kind: models.SignalMotion, Magnitude: 80, ObservedAt: t1})

	// voice: 80*50/100=40（衰减约 1/600），motion: 80*30/100=24 → round(≈63.9)=64
	assert.Equal(t, 64.0, state.Score)
	assert.Greater(t, state.Score, 30.0, "must exceed monitoring threshold")

	// 重放相同输入得到相同分数（确定性）
	agg2 := newTestAggregator(t, t0)
	agg2.Add(models.Signal{Kind: models.SignalVoice, Magnitude: 80, ObservedAt: t0})
	agg2.now = func() time.Time { return t1 }
	state2 := agg2.Add(models.Signal{Kind: models.SignalMotion, Magnitude: 80, ObservedAt: t1})
	assert.Equal(t, state.Score, state2.Score)
}

func TestAggregator_DecayMonotonicNonIncreasing(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(t, t0)

	agg.Add(models.Signal{Kind: models.SignalVoice, Magnitude: 90, ObservedAt: t0})
	agg.Add(models.Signal{Kind: models.SignalMotion, Magnitude: 70, ObservedAt: t0})

	// 无新信号时，分数随时间单调不增
	prev := agg.ScoreAt(t0)
	for i := 1; i <= 12; i++ {
		score := agg.ScoreAt(t0.Add(time.Duration(i) * time.Minute))
		assert.LessOrEqual(t, score, prev, "score must not increase at +%dm", i)
		prev = score
	}

	// 衰减窗口（10分钟）后贡献归零
	assert.Equal(t, 0.0, agg.ScoreAt(t0.Add(11*time.Minute)))
}

func TestAggregator_HistoryEviction(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(testWeights(), 20, 10*time.Minute, zap.NewNop())
	agg.now = func() time.Time { return t0 }

	// 插入 25 条，只保留最后 20 条（先进先出）
	for i := 0; i < 25; i++ {
		agg.Add(models.Signal{
			Kind:       models.SignalTime,
			Magnitude:  float64(i),
			ObservedAt: t0,
			Note:       fmt.Sprintf("sig-%d", i),
		})
	}

	state := agg.State()
	require.Len(t, state.History, 20)
	assert.Equal(t, "sig-5", state.History[0].Note)
	assert.Equal(t, "sig-24", state.History[19].Note)
}

func TestAggregator_ScoreClampedAt100(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(t, t0)

	for i := 0; i < 10; i++ {
		agg.Add(models.Signal{Kind: models.SignalVoice, Magnitude: 100, ObservedAt: t0})
	}

	assert.Equal(t, 100.0, agg.State().Score)
}

func TestAggregator_Reset(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := newTestAggregator(t, t0)

	agg.Add(models.Signal{Kind: models.SignalVoice, Magnitude: 80, ObservedAt: t0})
	require.NotZero(t, agg.State().Score)

	agg.Reset()

	state := agg.State()
	assert.Equal(t, 0.0, state.Score)
	assert.Empty(t, state.History)
}
