package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// Publisher MQTT 发布接口（由 pkg/mqtt 客户端实现）
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// Config 分发配置
type Config struct {
	AlertTopicPrefix   string // 如 "pulse-guard/alerts/"
	ReleaseTopicPrefix string // 如 "pulse-guard/evidence/"
	QoS                byte
}

// Dispatcher MQTT 通知分发器
// 报警按联系人逐个发布；单个联系人失败不阻断其余联系人
type Dispatcher struct {
	config    Config
	publisher Publisher
	logger    *zap.Logger
}

// NewDispatcher 创建通知分发器
func NewDispatcher(cfg Config, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		config:    cfg,
		publisher: publisher,
		logger:    logger,
	}
}

// alertPayload 报警消息载荷
type alertPayload struct {
	Contact   string   `json:"contact"`
	Message   string   `json:"message"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	SentAt    string   `json:"sent_at"`
}

// SendEmergencyAlert 向全部联系人分发紧急报警
func (d *Dispatcher) SendEmergencyAlert(ctx context.Context, contacts []models.EmergencyContact, message string, lat, lng *float64) error {
	if len(contacts) == 0 {
		return fmt.Errorf("no contacts to notify")
	}

	var failed int
	for _, contact := range contacts {
		payload := alertPayload{
			Contact:   contact.Name,
			Message:   message,
			Latitude:  lat,
			Longitude: lng,
			SentAt:    time.Now().Format(time.RFC3339),
		}

		jsonData, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal alert payload: %w", err)
		}

		topic := d.config.AlertTopicPrefix + contact.Topic
		if err := d.publisher.Publish(topic, d.config.QoS, false, jsonData); err != nil {
			failed++
			d.logger.Error("Failed to dispatch alert to contact",
				zap.String("contact_id", contact.ContactID),
				zap.String("topic", topic),
				zap.Error(err),
			)
			continue
		}

		d.logger.Info("Emergency alert dispatched",
			zap.String("contact_id", contact.ContactID),
			zap.String("topic", topic),
		)
	}

	if failed == len(contacts) {
		return fmt.Errorf("failed to dispatch alert to all %d contacts", failed)
	}

	return nil
}

// releasePayload 证据释放载荷（只含哈希与元信息，不含原始内容）
type releasePayload struct {
	LockID      string               `json:"lock_id"`
	IncidentRef string               `json:"incident_ref"`
	LockedAt    time.Time            `json:"locked_at"`
	ReleasedAt  *time.Time           `json:"released_at,omitempty"`
	Items       []models.EvidenceItem `json:"items"`
}

// SendEvidenceRelease 发布释放的密封证据集
func (d *Dispatcher) SendEvidenceRelease(ctx context.Context, lock models.EvidenceLock, items []models.EvidenceItem) error {
	payload := releasePayload{
		LockID:      lock.LockID,
		IncidentRef: lock.IncidentRef,
		LockedAt:    lock.LockedAt,
		ReleasedAt:  lock.ReleasedAt,
		Items:       items,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal release payload: %w", err)
	}

	topic := d.config.ReleaseTopicPrefix + lock.IncidentRef
	if err := d.publisher.Publish(topic, d.config.QoS, false, jsonData); err != nil {
		return fmt.Errorf("failed to publish evidence release: %w", err)
	}

	d.logger.Info("Evidence release published",
		zap.String("lock_id", lock.LockID),
		zap.String("topic", topic),
		zap.Int("item_count", len(items)),
	)

	return nil
}
