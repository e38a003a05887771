package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/normalizer"
)

// SpeechEvent 语音识别事件（外部检测器给出置信度）
type SpeechEvent struct {
	Transcript string
	Confidence float64 // 内容/声学压力置信度 [0,1]
	Scream     float64 // 尖叫/痛苦声学模式置信度 [0,1]
}

// SpeechStream 连续语音识别流
// Listen 阻塞消费事件直到 ctx 取消或流出错；瞬时错误可重启，
// 返回 ErrSensorUnavailable 表示永久不可用（仅禁用该信号源）
type SpeechStream interface {
	Listen(ctx context.Context, handler func(SpeechEvent)) error
}

// MotionStream 运动事件流（三轴加速度）
type MotionStream interface {
	Start(ctx context.Context, handler func(x, y, z float64)) error
	Stop() error
}

// LocationSource 位置/地理围栏判定源
type LocationSource interface {
	Check(ctx context.Context) (zone string, inside bool, riskLevel float64, err error)
}

// startProducers 启动所有传感器生产者
// 每个生产者绑定会话上下文；Stop 取消上下文后全部确定性退出
func (s *Session) startProducers(ctx context.Context) {
	if s.speech != nil {
		s.wg.Add(1)
		go s.runSpeech(ctx)
	}
	if s.motion != nil {
		s.wg.Add(1)
		go s.runMotion(ctx)
	}
	if s.config.InactivityCheck > 0 {
		s.wg.Add(1)
		go s.runInactivity(ctx)
	}
	if s.location != nil && s.config.LocationPoll > 0 {
		s.wg.Add(1)
		go s.runLocation(ctx)
	}
}

// runSpeech 语音生产者：瞬时错误带退避自动重启，永久错误只禁用语音源
func (s *Session) runSpeech(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.config.SpeechRestartBase
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := s.config.SpeechRestartMax
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}

	for {
		started := time.Now()
		err := s.speech.Listen(ctx, s.handleSpeech)

		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrSensorUnavailable) {
			s.logger.Warn("Speech recognition unsupported, voice signal source disabled",
				zap.String("session_id", s.config.SessionID),
			)
			return
		}

		// 稳定运行过的流重置退避
		if time.Since(started) > maxBackoff {
			backoff = s.config.SpeechRestartBase
			if backoff <= 0 {
				backoff = time.Second
			}
		}

		s.logger.Info("Speech stream ended, restarting",
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// handleSpeech 处理单条语音事件
func (s *Session) handleSpeech(ev SpeechEvent) {
	s.markActivity()

	sig := normalizer.FromSpeech(ev.Transcript, ev.Confidence)
	if _, err := s.AddSignal(sig); err != nil {
		return // 会话已停止
	}

	// 复核门两个独立通道
	if s.containsKeyword(ev.Transcript) {
		s.registerKeyword(ev.Confidence)
	}
	if ev.Scream >= s.config.ScreamThreshold {
		s.registerScream(ev.Scream)
	}
}

// runMotion 运动生产者
func (s *Session) runMotion(ctx context.Context) {
	defer s.wg.Done()

	err := s.motion.Start(ctx, s.handleMotion)
	if err != nil && ctx.Err() == nil {
		s.logger.Warn("Motion stream unavailable, motion signal source disabled",
			zap.String("session_id", s.config.SessionID),
			zap.Error(err),
		)
	}
}

// handleMotion 处理单条运动事件
func (s *Session) handleMotion(x, y, z float64) {
	sig := normalizer.FromMotion(x, y, z)

	// 明显运动刷新活动基准
	if sig.Magnitude > 10 {
		s.markActivity()
	}

	_, _ = s.AddSignal(sig)
}

// runInactivity 静止轮询：空闲达到阈值一半后开始产生 inactivity 信号
func (s *Session) runInactivity(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.InactivityCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			idle := s.idleDuration()
			if idle < s.config.InactivityThreshold/2 {
				continue
			}
			sig := normalizer.FromInactivity(idle, s.config.InactivityThreshold)
			_, _ = s.AddSignal(sig)
		}
	}
}

// runLocation 位置轮询：离开安全区时产生 location 信号
func (s *Session) runLocation(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.LocationPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.config.LocationTimeout)
			zone, inside, risk, err := s.location.Check(checkCtx)
			cancel()

			if err != nil {
				s.logger.Debug("Location check failed",
					zap.Error(err),
				)
				continue
			}
			if inside {
				continue
			}

			sig := normalizer.FromGeofence(zone, inside, risk)
			_, _ = s.AddSignal(sig)
		}
	}
}
