package fusion

import (
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// VerificationState 意图复核状态快照
type VerificationState struct {
	ConfirmationScore float64   `json:"confirmation_score"`
	KeywordHits       int       `json:"keyword_hits"`
	ScreamHits        int       `json:"scream_hits"`
	WindowStart       time.Time `json:"window_start"`
	Confirmed         bool      `json:"confirmed"`
}

// GateConfig 意图复核配置
type GateConfig struct {
	Window           time.Duration // 滑动窗口长度
	ConfirmThreshold float64       // 确认阈值
	KeywordWeight    float64       // 关键词通道贡献上限
	ScreamWeight     float64       // 尖叫通道贡献上限
}

// DefaultGateConfig 默认复核配置
// 单通道贡献上限低于确认阈值：任何单一传感器都不足以确认
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Window:           30 * time.Second,
		ConfirmThreshold: 100,
		KeywordWeight:    60,
		ScreamWeight:     60,
	}
}

type gateHit struct {
	kind         models.SignalKind
	contribution float64
	at           time.Time
}

// VerificationGate 意图复核门
//
// critical 等级允许触发自主响应前的二次佐证：要求短窗口内
// 至少两类独立信号（求救关键词 + 尖叫/痛苦声学模式）共同出现。
// 每个通道的贡献按权重上限封顶，单一通道永远达不到确认阈值。
// 确认回调恰好触发一次，随后内部计数全部重置。
type VerificationGate struct {
	config GateConfig
	logger *zap.Logger

	hits      []gateHit
	confirmed bool
	onConfirm func(VerificationState)

	now func() time.Time
}

// NewVerificationGate 创建意图复核门
func NewVerificationGate(cfg GateConfig, onConfirm func(VerificationState), logger *zap.Logger) *VerificationGate {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Second
	}

	return &VerificationGate{
		config:    cfg,
		logger:    logger,
		onConfirm: onConfirm,
		now:       time.Now,
	}
}

// RegisterKeyword 登记求救关键词命中，confidence [0,1]
// 返回本次登记是否触发确认
func (g *VerificationGate) RegisterKeyword(confidence float64) bool {
	return g.register(models.SignalVoice, confidence*g.config.KeywordWeight)
}

// RegisterScream 登记尖叫/痛苦声学命中，confidence [0,1]
func (g *VerificationGate) RegisterScream(confidence float64) bool {
	return g.register(models.SignalPattern, confidence*g.config.ScreamWeight)
}

func (g *VerificationGate) register(kind models.SignalKind, contribution float64) bool {
	now := g.now()
	g.evict(now)

	if contribution < 0 {
		contribution = 0
	}
	g.hits = append(g.hits, gateHit{kind: kind, contribution: contribution, at: now})

	state := g.stateAt(now)

	g.logger.Debug("Verification hit registered",
		zap.String("channel", string(kind)),
		zap.Float64("contribution", contribution),
		zap.Float64("confirmation_score", state.ConfirmationScore),
	)

	if state.ConfirmationScore >= g.config.ConfirmThreshold {
		state.Confirmed = true

		g.logger.Info("Intent verification confirmed",
			zap.Float64("confirmation_score", state.ConfirmationScore),
			zap.Int("keyword_hits", state.KeywordHits),
			zap.Int("scream_hits", state.ScreamHits),
		)

		// 恰好触发一次，随后重置窗口
		callback := g.onConfirm
		g.Reset()

		if callback != nil {
			callback(state)
		}
		return true
	}

	return false
}

// evict 淘汰窗口外的命中
func (g *VerificationGate) evict(now time.Time) {
	cutoff := now.Add(-g.config.Window)
	kept := g.hits[:0]
	for _, h := range g.hits {
		if h.at.After(cutoff) {
			kept = append(kept, h)
		}
	}
	g.hits = kept
}

// stateAt 计算窗口内状态（各通道贡献封顶后求和）
func (g *VerificationGate) stateAt(now time.Time) VerificationState {
	var keywordSum, screamSum float64
	var keywordHits, screamHits int
	var windowStart time.Time

	for _, h := range g.hits {
		if windowStart.IsZero() || h.at.Before(windowStart) {
			windowStart = h.at
		}
		if h.kind == models.SignalVoice {
			keywordSum += h.contribution
			keywordHits++
		} else {
			screamSum += h.contribution
			screamHits++
		}
	}

	if keywordSum > g.config.KeywordWeight {
		keywordSum = g.config.KeywordWeight
	}
	if screamSum > g.config.ScreamWeight {
		screamSum = g.config.ScreamWeight
	}

	return VerificationState{
		ConfirmationScore: keywordSum + screamSum,
		KeywordHits:       keywordHits,
		ScreamHits:        screamHits,
		WindowStart:       windowStart,
		Confirmed:         g.confirmed,
	}
}

// State 返回当前复核状态快照
func (g *VerificationGate) State() VerificationState {
	now := g.now()
	g.evict(now)
	return g.stateAt(now)
}

// Reset 清空窗口与计数
func (g *VerificationGate) Reset() {
	g.hits = g.hits[:0]
	g.confirmed = false
}
