package models

import "time"

// LockState 证据锁状态
type LockState string

const (
	LockUnlocked    LockState = "unlocked"
	LockCancellable LockState = "locked_cancellable" // 宽限期内，可撤销
	LockFinal       LockState = "locked_final"       // 宽限期后，不可撤销
	LockReleased    LockState = "released"
)

// EvidenceLock 证据锁记录
type EvidenceLock struct {
	LockID        string    `json:"lock_id"`
	IncidentRef   string    `json:"incident_ref"`
	State         LockState `json:"state"`
	LockedAt      time.Time `json:"locked_at"`
	GraceUntil    time.Time `json:"grace_until"`     // lockedAt + 宽限期
	AutoReleaseAt time.Time `json:"auto_release_at"`
	ReleasedAt    *time.Time `json:"released_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Cancellable 是否仍可撤销
func (l *EvidenceLock) Cancellable(now time.Time) bool {
	return l.State == LockCancellable && now.Before(l.GraceUntil)
}

// EvidenceItem 证据项（内容哈希为防篡改原语）
type EvidenceItem struct {
	ItemID      string    `json:"item_id"`
	LockID      string    `json:"lock_id"`
	Kind        string    `json:"kind"` // audio / photo / transcript / location
	ContentHash string    `json:"content_hash"` // SHA-256 十六进制
	CapturedAt  time.Time `json:"captured_at"`
}
