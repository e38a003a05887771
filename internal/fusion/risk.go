package fusion

import "pulse-guard/internal/models"

// RiskTable 风险分级阈值表
//
// 等级按阈值严格升序：safe < monitoring < armed < critical。
// 升级即时生效；降级要求分数跌破原等级阈值减去 Hysteresis 死区，
// 防止噪声输入导致等级抖动。
type RiskTable struct {
	Monitoring float64 // 进入 monitoring 的分数下限
	Armed      float64 // 进入 armed 的分数下限
	Critical   float64 // 进入 critical 的分数下限
	Hysteresis float64 // 降级死区
}

// DefaultRiskTable 默认阈值表
func DefaultRiskTable() RiskTable {
	return RiskTable{
		Monitoring: 30,
		Armed:      60,
		Critical:   80,
		Hysteresis: 5,
	}
}

// tierOf 纯阈值映射（不含死区）
func (r RiskTable) tierOf(score float64) models.RiskTier {
	switch {
	case score >= r.Critical:
		return models.TierCritical
	case score >= r.Armed:
		return models.TierArmed
	case score >= r.Monitoring:
		return models.TierMonitoring
	default:
		return models.TierSafe
	}
}

// threshold 各等级的进入阈值
func (r RiskTable) threshold(tier models.RiskTier) float64 {
	switch tier {
	case models.TierCritical:
		return r.Critical
	case models.TierArmed:
		return r.Armed
	case models.TierMonitoring:
		return r.Monitoring
	default:
		return 0
	}
}

// Tier 根据当前分数与上一等级计算新等级（纯函数）
func (r RiskTable) Tier(score float64, prev models.RiskTier) models.RiskTier {
	raw := r.tierOf(score)
	if raw >= prev {
		return raw
	}

	// 降级需要跌破原等级阈值减去死区
	if score >= r.threshold(prev)-r.Hysteresis {
		return prev
	}
	return raw
}
