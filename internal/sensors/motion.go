// Package sensors MQTT 传感器接入适配器
//
// 设备端（穿戴/手机）把原始读数发布到 MQTT 主题，
// 这里订阅并转成会话生产者消费的事件流。
package sensors

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pulse-guard/pkg/mqtt"
)

// Subscriber MQTT 订阅接口（由 pkg/mqtt 客户端实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MotionSource MQTT 运动数据源（三轴加速度）
type MotionSource struct {
	topic      string
	qos        byte
	subscriber Subscriber
	logger     *zap.Logger
}

// NewMotionSource 创建运动数据源
func NewMotionSource(topic string, qos byte, subscriber Subscriber, logger *zap.Logger) *MotionSource {
	return &MotionSource{
		topic:      topic,
		qos:        qos,
		subscriber: subscriber,
		logger:     logger,
	}
}

// motionReading 运动读数载荷
type motionReading struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Start 订阅运动主题并阻塞到 ctx 取消
func (m *MotionSource) Start(ctx context.Context, handler func(x, y, z float64)) error {
	err := m.subscriber.Subscribe(m.topic, m.qos, func(topic string, payload []byte) error {
		var reading motionReading
		if err := json.Unmarshal(payload, &reading); err != nil {
			return fmt.Errorf("failed to unmarshal motion reading: %w", err)
		}
		handler(reading.X, reading.Y, reading.Z)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to motion topic: %w", err)
	}

	m.logger.Info("Motion source started",
		zap.String("topic", m.topic),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (m *MotionSource) Stop() error {
	if err := m.subscriber.Unsubscribe(m.topic); err != nil {
		return fmt.Errorf("failed to unsubscribe from motion topic: %w", err)
	}
	return nil
}
