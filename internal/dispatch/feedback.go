package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// FeedbackNotifier 本地反馈通知器
// 触发后通过设备端 UI 主题请求震动/提示音确认
type FeedbackNotifier struct {
	topic     string
	qos       byte
	publisher Publisher
	logger    *zap.Logger
}

// NewFeedbackNotifier 创建本地反馈通知器
func NewFeedbackNotifier(topic string, qos byte, publisher Publisher, logger *zap.Logger) *FeedbackNotifier {
	return &FeedbackNotifier{
		topic:     topic,
		qos:       qos,
		publisher: publisher,
		logger:    logger,
	}
}

// RequestFeedback 请求一次本地反馈（haptic / audio）
func (f *FeedbackNotifier) RequestFeedback(ctx context.Context, kind string) error {
	payload, err := json.Marshal(map[string]string{
		"kind":         kind,
		"requested_at": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal feedback payload: %w", err)
	}

	if err := f.publisher.Publish(f.topic, f.qos, false, payload); err != nil {
		return fmt.Errorf("failed to request local feedback: %w", err)
	}

	f.logger.Debug("Local feedback requested",
		zap.String("kind", kind),
	)

	return nil
}
