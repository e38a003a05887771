package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pulse-guard/internal/models"
)

func TestRiskTable_TierBoundaries(t *testing.T) {
	table := DefaultRiskTable()

	tests := []struct {
		score float64
		want  models.RiskTier
	}{
		{0, models.TierSafe},
		{29, models.TierSafe},
		{30, models.TierMonitoring},
		{59, models.TierMonitoring},
		{60, models.TierArmed},
		{79, models.TierArmed},
		{80, models.TierCritical},
		{100, models.TierCritical},
	}

	for _, tt := range tests {
		got := table.Tier(tt.score, models.TierSafe)
		assert.Equal(t, tt.want, got, "score=%v", tt.score)
	}
}

func TestRiskTable_UpgradeImmediate(t *testing.T) {
	table := DefaultRiskTable()

	assert.Equal(t, models.TierCritical, table.Tier(85, models.TierSafe))
	assert.Equal(t, models.TierArmed, table.Tier(65, models.TierMonitoring))
}

func TestRiskTable_DowngradeHysteresis(t *testing.T) {
	table := DefaultRiskTable()

	// critical 阈值 80，死区 5：75-79 维持 critical，低于 75 降级
	assert.Equal(t, models.TierCritical, table.Tier(78, models.TierCritical))
	assert.Equal(t, models.TierCritical, table.Tier(75, models.TierCritical))
	assert.Equal(t, models.TierArmed, table.Tier(74, models.TierCritical))

	// armed 阈值 60：55-59 维持 armed
	assert.Equal(t, models.TierArmed, table.Tier(56, models.TierArmed))
	assert.Equal(t, models.TierMonitoring, table.Tier(54, models.TierArmed))

	// 大幅跌落可直接降到 safe
	assert.Equal(t, models.TierSafe, table.Tier(3, models.TierCritical))
}

func TestRiskTable_Deterministic(t *testing.T) {
	table := DefaultRiskTable()

	// 相同输入序列产生相同等级序列
	scores := []float64{10, 35, 62, 81, 77, 73, 58, 20}
	run := func() []models.RiskTier {
		tier := models.TierSafe
		out := make([]models.RiskTier, 0, len(scores))
		for _, s := range scores {
			tier = table.Tier(s, tier)
			out = append(out, tier)
		}
		return out
	}

	assert.Equal(t, run(), run())
}
