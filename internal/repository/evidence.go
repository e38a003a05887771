package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// EvidenceRepository 证据锁仓库
// 锁状态机的权威副本在内存引擎，这里持久化轨迹供审计与重启恢复
type EvidenceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewEvidenceRepository 创建证据锁仓库
func NewEvidenceRepository(db *sql.DB, logger *zap.Logger) *EvidenceRepository {
	return &EvidenceRepository{
		db:     db,
		logger: logger,
	}
}

// CreateLock 创建证据锁记录
func (r *EvidenceRepository) CreateLock(ctx context.Context, lock *models.EvidenceLock) error {
	if lock == nil {
		return fmt.Errorf("lock is required")
	}
	if lock.LockID == "" {
		return fmt.Errorf("lock_id is required")
	}
	if lock.IncidentRef == "" {
		return fmt.Errorf("incident_ref is required")
	}

	query := `
		INSERT INTO evidence_locks (
			lock_id,
			incident_ref,
			state,
			locked_at,
			grace_until,
			auto_release_at,
			released_at,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		lock.LockID,
		lock.IncidentRef,
		string(lock.State),
		lock.LockedAt,
		lock.GraceUntil,
		lock.AutoReleaseAt,
		lock.ReleasedAt,
		lock.CreatedAt,
		lock.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create evidence lock: %w", err)
	}

	return nil
}

// AddItem 追加证据项（内容哈希在入库前计算）
func (r *EvidenceRepository) AddItem(ctx context.Context, item *models.EvidenceItem) error {
	if item == nil {
		return fmt.Errorf("item is required")
	}
	if item.ItemID == "" {
		return fmt.Errorf("item_id is required")
	}
	if item.LockID == "" {
		return fmt.Errorf("lock_id is required")
	}
	if item.ContentHash == "" {
		return fmt.Errorf("content_hash is required")
	}

	query := `
		INSERT INTO evidence_items (
			item_id,
			lock_id,
			kind,
			content_hash,
			captured_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		item.ItemID,
		item.LockID,
		item.Kind,
		item.ContentHash,
		item.CapturedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to add evidence item: %w", err)
	}

	return nil
}

// UpdateLockState 推进锁状态
func (r *EvidenceRepository) UpdateLockState(ctx context.Context, lockID string, state models.LockState, releasedAt *time.Time) error {
	if lockID == "" {
		return fmt.Errorf("lock_id is required")
	}

	query := `
		UPDATE evidence_locks
		SET state = $1,
		    released_at = $2,
		    updated_at = CURRENT_TIMESTAMP
		WHERE lock_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, string(state), releasedAt, lockID)
	if err != nil {
		return fmt.Errorf("failed to update evidence lock state: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("evidence lock not found: lock_id=%s", lockID)
	}

	return nil
}

// GetLock 根据 lock_id 获取证据锁
func (r *EvidenceRepository) GetLock(ctx context.Context, lockID string) (*models.EvidenceLock, error) {
	if lockID == "" {
		return nil, fmt.Errorf("lock_id is required")
	}

	query := `
		SELECT
			lock_id,
			incident_ref,
			state,
			locked_at,
			grace_until,
			auto_release_at,
			released_at,
			created_at,
			updated_at
		FROM evidence_locks
		WHERE lock_id = $1
	`

	var lock models.EvidenceLock
	var state string
	var releasedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, lockID).Scan(
		&lock.LockID,
		&lock.IncidentRef,
		&state,
		&lock.LockedAt,
		&lock.GraceUntil,
		&lock.AutoReleaseAt,
		&releasedAt,
		&lock.CreatedAt,
		&lock.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("evidence lock not found: lock_id=%s", lockID)
		}
		return nil, fmt.Errorf("failed to get evidence lock: %w", err)
	}

	lock.State = models.LockState(state)
	if releasedAt.Valid {
		lock.ReleasedAt = &releasedAt.Time
	}

	return &lock, nil
}

// ListItems 获取锁下全部证据项（采集顺序）
func (r *EvidenceRepository) ListItems(ctx context.Context, lockID string) ([]models.EvidenceItem, error) {
	if lockID == "" {
		return nil, fmt.Errorf("lock_id is required")
	}

	query := `
		SELECT
			item_id,
			lock_id,
			kind,
			content_hash,
			captured_at
		FROM evidence_items
		WHERE lock_id = $1
		ORDER BY captured_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, lockID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence items: %w", err)
	}
	defer rows.Close()

	items := []models.EvidenceItem{}
	for rows.Next() {
		var item models.EvidenceItem
		err := rows.Scan(
			&item.ItemID,
			&item.LockID,
			&item.Kind,
			&item.ContentHash,
			&item.CapturedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evidence item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate evidence items: %w", err)
	}

	return items, nil
}
