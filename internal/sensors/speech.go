package sensors

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pulse-guard/internal/session"
)

// SpeechSource MQTT 语音转写源
// 设备端识别器把转写与声学置信度发布到主题，这里转成语音事件流
type SpeechSource struct {
	topic      string
	qos        byte
	subscriber Subscriber
	logger     *zap.Logger
}

// NewSpeechSource 创建语音转写源
func NewSpeechSource(topic string, qos byte, subscriber Subscriber, logger *zap.Logger) *SpeechSource {
	return &SpeechSource{
		topic:      topic,
		qos:        qos,
		subscriber: subscriber,
		logger:     logger,
	}
}

// speechReading 语音转写载荷
type speechReading struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Scream     float64 `json:"scream"`
}

// Listen 订阅转写主题并阻塞消费到 ctx 取消
func (s *SpeechSource) Listen(ctx context.Context, handler func(session.SpeechEvent)) error {
	err := s.subscriber.Subscribe(s.topic, s.qos, func(topic string, payload []byte) error {
		var reading speechReading
		if err := json.Unmarshal(payload, &reading); err != nil {
			return fmt.Errorf("failed to unmarshal speech reading: %w", err)
		}
		handler(session.SpeechEvent{
			Transcript: reading.Transcript,
			Confidence: reading.Confidence,
			Scream:     reading.Scream,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to speech topic: %w", err)
	}

	s.logger.Info("Speech source started",
		zap.String("topic", s.topic),
	)

	<-ctx.Done()

	if err := s.subscriber.Unsubscribe(s.topic); err != nil {
		s.logger.Warn("Failed to unsubscribe from speech topic",
			zap.Error(err),
		)
	}

	return ctx.Err()
}
