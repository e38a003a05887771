// Package session 监控会话（融合管线的单一逻辑拥有者）
//
// 所有传感器生产者并发运行，但对置信度状态与复核门的写入
// 都经由会话互斥串行化（单写者约束）：历史追加 + 分数重算保持原子，
// 信号按到达顺序处理，不重排、不合批。
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/fusion"
	"pulse-guard/internal/models"
	"pulse-guard/internal/orchestrator"
)

var (
	// ErrSessionStopped 会话已停止，迟到信号被拒绝
	ErrSessionStopped = errors.New("monitoring session stopped")
	// ErrSensorUnavailable 传感器不受支持（仅禁用该信号源，不致命）
	ErrSensorUnavailable = errors.New("sensor unavailable")
)

// Responder 响应触发接口（由 orchestrator 实现）
type Responder interface {
	Trigger(ctx context.Context, tc orchestrator.TriggerContext) (*models.Incident, error)
}

// SnapshotSink 状态快照发布接口（UI 渲染用，尽力而为）
type SnapshotSink interface {
	PutConfidence(ctx context.Context, sessionID string, state models.ConfidenceState) error
}

// Config 会话配置
type Config struct {
	SessionID string

	Weights         models.WeightTable
	HistoryCapacity int
	Decay           time.Duration
	Risk            fusion.RiskTable
	Gate            fusion.GateConfig

	Keywords            []string
	ScreamThreshold     float64 // 尖叫置信度登记下限
	InactivityCheck     time.Duration
	InactivityThreshold time.Duration
	LocationPoll        time.Duration
	LocationTimeout     time.Duration
	SpeechRestartBase   time.Duration
	SpeechRestartMax    time.Duration
}

// Session 监控会话
type Session struct {
	config    Config
	logger    *zap.Logger
	responder Responder
	snapshots SnapshotSink

	speech   SpeechStream
	motion   MotionStream
	location LocationSource

	mu           sync.Mutex
	agg          *fusion.Aggregator
	gate         *fusion.VerificationGate
	tier         models.RiskTier
	tierSince    time.Time
	autonomous   bool
	running      bool
	stopped      bool
	lastActivity time.Time
	lateDropped  int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	now func() time.Time
}

// New 创建监控会话
func New(
	cfg Config,
	speech SpeechStream,
	motion MotionStream,
	location LocationSource,
	responder Responder,
	snapshots SnapshotSink,
	logger *zap.Logger,
) *Session {
	if cfg.ScreamThreshold <= 0 {
		cfg.ScreamThreshold = 0.5
	}

	s := &Session{
		config:    cfg,
		logger:    logger,
		responder: responder,
		snapshots: snapshots,
		speech:    speech,
		motion:    motion,
		location:  location,
		tier:      models.TierSafe,
		now:       time.Now,
	}

	s.agg = fusion.NewAggregator(cfg.Weights, cfg.HistoryCapacity, cfg.Decay, logger)
	// 确认回调在会话互斥内被调用，直接读取会话字段是安全的
	s.gate = fusion.NewVerificationGate(cfg.Gate, s.onVerified, logger)
	s.tierSince = s.now()
	s.lastActivity = s.now()

	return s
}

// Start 启动会话与所有传感器生产者
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("session already running")
	}
	s.running = true
	s.stopped = false

	sessionCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("Monitoring session started",
		zap.String("session_id", s.config.SessionID),
	)

	s.startProducers(sessionCtx)
	return nil
}

// Stop 确定性停止：取消所有生产者并等待退出
// 停止后的迟到信号被拒绝，不会再触及置信度状态
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopped = true
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()

	if s.motion != nil {
		if err := s.motion.Stop(); err != nil {
			s.logger.Warn("Failed to stop motion stream",
				zap.Error(err),
			)
		}
	}

	s.logger.Info("Monitoring session stopped",
		zap.String("session_id", s.config.SessionID),
	)
}

// AddSignal 加入归一化信号并推进风险状态机
func (s *Session) AddSignal(sig models.Signal) (models.ConfidenceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		s.lateDropped++
		s.logger.Debug("Late signal rejected after stop",
			zap.String("kind", string(sig.Kind)),
			zap.Int("late_dropped", s.lateDropped),
		)
		return models.ConfidenceState{}, ErrSessionStopped
	}
	if !sig.Kind.Valid() {
		return models.ConfidenceState{}, errors.New("invalid signal kind")
	}

	state := s.agg.Add(sig)

	prev := s.tier
	next := s.config.Risk.Tier(state.Score, prev)
	if next != prev {
		s.tier = next
		s.tierSince = s.now()
		s.logger.Info("Risk tier transition",
			zap.String("session_id", s.config.SessionID),
			zap.String("from", prev.String()),
			zap.String("to", next.String()),
			zap.Float64("score", state.Score),
		)

		if next == models.TierCritical && !s.autonomous {
			// 仅更新UI状态，不自动触发（alert-only 配置）
			s.logger.Warn("Critical tier reached with autonomous mode disabled, alert only",
				zap.String("session_id", s.config.SessionID),
			)
		}
	}

	state.Tier = s.tier
	state.TierName = s.tier.String()
	state.TierSince = s.tierSince

	s.publishSnapshot(state)

	return state, nil
}

// registerKeyword 向复核门登记关键词命中（会话互斥内）
func (s *Session) registerKeyword(confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.gate.RegisterKeyword(confidence)
}

// registerScream 向复核门登记尖叫命中（会话互斥内）
func (s *Session) registerScream(confidence float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.gate.RegisterScream(confidence)
}

// onVerified 复核门确认回调
// 只有 critical 等级且自主模式开启时才触发响应；
// 其余情况只记录（单传感器误报在这里被压制）
func (s *Session) onVerified(state fusion.VerificationState) {
	if s.tier != models.TierCritical || !s.autonomous {
		s.logger.Info("Verification confirmed outside critical/autonomous, no action",
			zap.String("tier", s.tier.String()),
			zap.Bool("autonomous", s.autonomous),
		)
		return
	}

	score := s.agg.ScoreAt(s.now())

	// 触发在互斥外异步执行，响应编排不阻塞融合管线
	go func() {
		if _, err := s.responder.Trigger(context.Background(), orchestrator.TriggerContext{
			SessionID: s.config.SessionID,
			Cause:     "verified_fusion",
			Score:     score,
			Tier:      models.TierCritical,
		}); err != nil && !errors.Is(err, orchestrator.ErrEpisodeActive) {
			s.logger.Error("Failed to trigger autonomous response",
				zap.Error(err),
			)
		}
	}()
}

// TriggerSOS 手动SOS：绕过意图复核（设计如此），仍受事件周期守卫约束
func (s *Session) TriggerSOS(ctx context.Context) (*models.Incident, error) {
	s.mu.Lock()
	score := s.agg.ScoreAt(s.now())
	tier := s.tier
	s.mu.Unlock()

	return s.responder.Trigger(ctx, orchestrator.TriggerContext{
		SessionID: s.config.SessionID,
		Cause:     "manual_sos",
		Score:     score,
		Tier:      tier,
	})
}

// SetAutonomous 开关自主响应模式
func (s *Session) SetAutonomous(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.autonomous = enabled
	s.logger.Info("Autonomous mode toggled",
		zap.String("session_id", s.config.SessionID),
		zap.Bool("enabled", enabled),
	)
}

// Autonomous 返回自主模式开关状态
func (s *Session) Autonomous() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autonomous
}

// Reset 清空分数、历史与复核窗口，回到 safe（用户排除误报后调用）
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.agg.Reset()
	s.gate.Reset()
	s.tier = models.TierSafe
	s.tierSince = s.now()

	s.logger.Info("Danger score reset",
		zap.String("session_id", s.config.SessionID),
	)
}

// Snapshot 返回当前置信度状态快照
func (s *Session) Snapshot() models.ConfidenceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.agg.State()
	state.Tier = s.tier
	state.TierName = s.tier.String()
	state.TierSince = s.tierSince
	return state
}

// VerificationSnapshot 返回复核门状态快照
func (s *Session) VerificationSnapshot() fusion.VerificationState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.State()
}

// markActivity 记录用户活动（静止检测的基准）
func (s *Session) markActivity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = s.now()
}

// idleDuration 当前空闲时长
func (s *Session) idleDuration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Sub(s.lastActivity)
}

// publishSnapshot 推送快照到缓存，失败只记录（调用方已持有互斥）
func (s *Session) publishSnapshot(state models.ConfidenceState) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.PutConfidence(context.Background(), s.config.SessionID, state); err != nil {
		s.logger.Warn("Failed to publish confidence snapshot",
			zap.Error(err),
		)
	}
}

// containsKeyword 检查转写文本是否命中求救关键词
func (s *Session) containsKeyword(transcript string) bool {
	lower := strings.ToLower(transcript)
	for _, kw := range s.config.Keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
