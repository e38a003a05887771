// Package fusion 提供危险信号融合功能
//
// 主要功能：
// - 置信度聚合：对有界信号历史做时间衰减加权求和，得到 0-100 危险置信度
// - 风险分级：按阈值表将置信度映射到离散风险等级（带降级死区）
// - 意图复核：自主响应前的双通道短窗口佐证检查
//
// 包内组件不做并发保护，写入串行化由监控会话负责（单写者约束）。
package fusion

import (
	"math"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// Aggregator 置信度聚合器
//
// 维护有界信号历史（旧信号先淘汰），每次插入同步重算分数：
//
//	score = clamp(round(Σ magnitude_i * weight[kind_i] * decay(age_i) / 100), 0, 100)
//	decay(age) = max(0, 1 - age/decayWindow)
//
// 线性衰减到零，过期信号停止贡献但不会瞬间消失（避免分数悬崖）。
type Aggregator struct {
	weights  models.WeightTable
	capacity int
	decay    time.Duration
	logger   *zap.Logger

	history    []models.Signal
	lastUpdate time.Time

	now func() time.Time
}

// NewAggregator 创建置信度聚合器
func NewAggregator(weights models.WeightTable, capacity int, decay time.Duration, logger *zap.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = 20
	}
	if decay <= 0 {
		decay = 10 * time.Minute
	}

	return &Aggregator{
		weights:  weights,
		capacity: capacity,
		decay:    decay,
		logger:   logger,
		history:  make([]models.Signal, 0, capacity),
		now:      time.Now,
	}
}

// Add 加入信号并重算置信度，返回最新状态
// 超出容量时淘汰最旧信号
func (a *Aggregator) Add(sig models.Signal) models.ConfidenceState {
	if len(a.history) >= a.capacity {
		a.history = a.history[1:]
	}
	a.history = append(a.history, sig)
	a.lastUpdate = a.now()

	state := a.State()

	a.logger.Debug("Signal aggregated",
		zap.String("kind", string(sig.Kind)),
		zap.Float64("magnitude", sig.Magnitude),
		zap.Float64("score", state.Score),
		zap.Int("history_size", len(a.history)),
	)

	return state
}

// ScoreAt 计算给定时刻的置信度（不修改状态）
func (a *Aggregator) ScoreAt(at time.Time) float64 {
	var sum float64
	for _, sig := range a.history {
		age := at.Sub(sig.ObservedAt)
		factor := 1 - float64(age)/float64(a.decay)
		if factor <= 0 {
			continue
		}
		if factor > 1 {
			factor = 1
		}
		sum += sig.Magnitude * a.weights.Weight(sig.Kind) * factor / 100
	}

	score := math.Round(sum)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// State 返回当前状态快照（历史为副本，等级字段由调用方填充）
func (a *Aggregator) State() models.ConfidenceState {
	history := make([]models.Signal, len(a.history))
	copy(history, a.history)

	return models.ConfidenceState{
		Score:      a.ScoreAt(a.now()),
		History:    history,
		LastUpdate: a.lastUpdate,
	}
}

// Reset 清空历史与分数（用户排除误报后调用）
func (a *Aggregator) Reset() {
	a.history = a.history[:0]
	a.lastUpdate = a.now()
}
