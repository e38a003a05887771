package models

import (
	"encoding/json"
	"time"
)

// Incident 事故记录
type Incident struct {
	IncidentID  string          `json:"incident_id"`
	SessionID   string          `json:"session_id"`
	Cause       string          `json:"cause"` // verified_fusion / manual_sos
	Score       float64         `json:"score"`
	Tier        string          `json:"tier"`
	Status      string          `json:"status"` // active / closed
	TriggeredAt time.Time       `json:"triggered_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
	Metadata    json.RawMessage `json:"metadata"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Alert 报警记录（引用事故与位置）
type Alert struct {
	AlertID          string          `json:"alert_id"`
	IncidentID       string          `json:"incident_id"`
	Message          string          `json:"message"`
	Latitude         *float64        `json:"latitude,omitempty"`
	Longitude        *float64        `json:"longitude,omitempty"`
	NotifiedContacts json.RawMessage `json:"notified_contacts"` // 已通知联系人ID列表
	DispatchedAt     time.Time       `json:"dispatched_at"`
	CreatedAt        time.Time       `json:"created_at"`
}

// EmergencyContact 紧急联系人
type EmergencyContact struct {
	ContactID string    `json:"contact_id"`
	Name      string    `json:"name"`
	Topic     string    `json:"topic"` // 通知分发主题段（由外部投递层消费）
	Priority  int       `json:"priority"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
