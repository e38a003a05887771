// Package evidence 证据锁引擎（防篡改、定时释放、反胁迫撤销窗口）
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

var (
	// ErrLockFinalized 宽限期已过，撤销被拒绝（反胁迫不变量）
	ErrLockFinalized = errors.New("lock finalized: cancellation window has closed")
	// ErrInvalidTransition 非法状态迁移（如向已释放的锁添加证据）
	ErrInvalidTransition = errors.New("invalid lock transition")
	// ErrNoActiveLock 当前没有激活的证据锁
	ErrNoActiveLock = errors.New("no active evidence lock")
)

// Store 证据持久化接口（由 repository 层实现，失败只上报不重试）
type Store interface {
	CreateLock(ctx context.Context, lock *models.EvidenceLock) error
	AddItem(ctx context.Context, item *models.EvidenceItem) error
	UpdateLockState(ctx context.Context, lockID string, state models.LockState, releasedAt *time.Time) error
}

// ReleaseSink 释放时接收密封证据集的通知接口
type ReleaseSink interface {
	SendEvidenceRelease(ctx context.Context, lock models.EvidenceLock, items []models.EvidenceItem) error
}

// Engine 证据锁引擎
//
// 状态机：unlocked → locked(cancellable) → locked(final) → released。
// 宽限期（默认10分钟）内用户可撤销；宽限期后撤销必须失败且不改变状态——
// 此时试图撤销的可能正是被胁迫的用户本人，约束在状态侧强制执行。
// ReleaseNow 立即释放，任何时刻都允许（只会比自动释放做得更多，不会更少）。
// 自动释放由引擎自有的循环定时器驱动，独立于监控会话的生命周期。
type Engine struct {
	mu sync.Mutex

	grace         time.Duration
	checkInterval time.Duration
	store         Store
	sink          ReleaseSink
	logger        *zap.Logger

	lock  *models.EvidenceLock
	items []models.EvidenceItem

	cancelTicker context.CancelFunc
	done         chan struct{}

	now func() time.Time
}

// NewEngine 创建证据锁引擎
func NewEngine(grace, checkInterval time.Duration, store Store, sink ReleaseSink, logger *zap.Logger) *Engine {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}

	return &Engine{
		grace:         grace,
		checkInterval: checkInterval,
		store:         store,
		sink:          sink,
		logger:        logger,
		now:           time.Now,
	}
}

// Activate 激活证据锁，进入 locked(cancellable)
// autoReleaseHours: 自动释放倒计时（小时）
func (e *Engine) Activate(ctx context.Context, incidentRef string, autoReleaseHours int) (models.EvidenceLock, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock != nil && e.lock.State != models.LockReleased {
		return models.EvidenceLock{}, fmt.Errorf("lock already active: %w", ErrInvalidTransition)
	}
	if autoReleaseHours <= 0 {
		return models.EvidenceLock{}, fmt.Errorf("auto release hours must be positive")
	}

	now := e.now()
	lock := &models.EvidenceLock{
		LockID:        uuid.New().String(),
		IncidentRef:   incidentRef,
		State:         models.LockCancellable,
		LockedAt:      now,
		GraceUntil:    now.Add(e.grace),
		AutoReleaseAt: now.Add(time.Duration(autoReleaseHours) * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	e.lock = lock
	e.items = nil

	if e.store != nil {
		if err := e.store.CreateLock(ctx, lock); err != nil {
			// 持久化失败不回滚内存状态，证据锁语义优先于存储
			e.logger.Error("Failed to persist evidence lock",
				zap.String("lock_id", lock.LockID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Evidence lock activated",
		zap.String("lock_id", lock.LockID),
		zap.String("incident_ref", incidentRef),
		zap.Time("grace_until", lock.GraceUntil),
		zap.Time("auto_release_at", lock.AutoReleaseAt),
	)

	return *lock, nil
}

// AddEvidence 添加证据项（两种 locked 状态下均允许）
// 插入时即计算内容哈希：后续内容与哈希不符即视为被篡改
func (e *Engine) AddEvidence(ctx context.Context, kind string, content []byte) (models.EvidenceItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock == nil {
		return models.EvidenceItem{}, ErrNoActiveLock
	}
	if e.lock.State != models.LockCancellable && e.lock.State != models.LockFinal {
		return models.EvidenceItem{}, fmt.Errorf("cannot add evidence in state %s: %w", e.lock.State, ErrInvalidTransition)
	}

	item := models.EvidenceItem{
		ItemID:      uuid.New().String(),
		LockID:      e.lock.LockID,
		Kind:        kind,
		ContentHash: HashContent(content),
		CapturedAt:  e.now(),
	}
	e.items = append(e.items, item)

	if e.store != nil {
		if err := e.store.AddItem(ctx, &item); err != nil {
			e.logger.Error("Failed to persist evidence item",
				zap.String("item_id", item.ItemID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Evidence item sealed",
		zap.String("lock_id", e.lock.LockID),
		zap.String("item_id", item.ItemID),
		zap.String("kind", kind),
	)

	return item, nil
}

// Cancel 撤销证据锁
// 仅在 now < lockedAt + 宽限期时成功；之后一律返回 ErrLockFinalized 且状态不变
func (e *Engine) Cancel(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock == nil || e.lock.State == models.LockReleased {
		return ErrNoActiveLock
	}

	now := e.now()
	if e.lock.State == models.LockFinal || !now.Before(e.lock.GraceUntil) {
		// 宽限期已过：先落实 final 状态，再拒绝
		e.finalizeLocked(ctx, now)
		e.logger.Warn("Lock cancellation rejected",
			zap.String("lock_id", e.lock.LockID),
			zap.Time("grace_until", e.lock.GraceUntil),
		)
		return ErrLockFinalized
	}

	lockID := e.lock.LockID
	e.lock.State = models.LockUnlocked
	e.lock.UpdatedAt = now

	if e.store != nil {
		if err := e.store.UpdateLockState(ctx, lockID, models.LockUnlocked, nil); err != nil {
			e.logger.Error("Failed to persist lock cancellation",
				zap.String("lock_id", lockID),
				zap.Error(err),
			)
		}
	}

	e.lock = nil
	e.items = nil

	e.logger.Info("Evidence lock cancelled within grace period",
		zap.String("lock_id", lockID),
	)

	return nil
}

// ReleaseNow 立即释放（任何 locked 状态下都允许）
func (e *Engine) ReleaseNow(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock == nil || e.lock.State == models.LockReleased {
		return ErrNoActiveLock
	}
	if e.lock.State != models.LockCancellable && e.lock.State != models.LockFinal {
		return fmt.Errorf("cannot release in state %s: %w", e.lock.State, ErrInvalidTransition)
	}

	e.releaseLocked(ctx, e.now())
	return nil
}

// Verify 校验证据内容是否与插入时的哈希一致
func (e *Engine) Verify(itemID string, content []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, item := range e.items {
		if item.ItemID == itemID {
			return item.ContentHash == HashContent(content), nil
		}
	}
	return false, fmt.Errorf("evidence item not found: %s", itemID)
}

// Snapshot 返回当前锁与证据项的只读快照
func (e *Engine) Snapshot() (models.EvidenceLock, []models.EvidenceItem, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock == nil {
		return models.EvidenceLock{}, nil, false
	}

	items := make([]models.EvidenceItem, len(e.items))
	copy(items, e.items)
	return *e.lock, items, true
}

// Start 启动释放检查定时器（独立于监控会话生命周期）
func (e *Engine) Start(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.cancelTicker = cancel
	e.done = make(chan struct{})
	done := e.done
	e.mu.Unlock()

	go func() {
		defer close(done)

		ticker := time.NewTicker(e.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				e.tick(tickCtx)
			}
		}
	}()
}

// Stop 停止释放检查定时器
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel := e.cancelTicker
	done := e.done
	e.cancelTicker = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// tick 定时检查：宽限期到期落实 final，释放时刻到期执行释放
func (e *Engine) tick(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lock == nil {
		return
	}

	now := e.now()
	if e.lock.State == models.LockCancellable && !now.Before(e.lock.GraceUntil) {
		e.finalizeLocked(ctx, now)
	}
	if (e.lock.State == models.LockCancellable || e.lock.State == models.LockFinal) &&
		!now.Before(e.lock.AutoReleaseAt) {
		e.releaseLocked(ctx, now)
	}
}

// finalizeLocked 落实 locked(final)，调用方必须已持有锁
func (e *Engine) finalizeLocked(ctx context.Context, now time.Time) {
	if e.lock.State != models.LockCancellable {
		return
	}

	e.lock.State = models.LockFinal
	e.lock.UpdatedAt = now

	if e.store != nil {
		if err := e.store.UpdateLockState(ctx, e.lock.LockID, models.LockFinal, nil); err != nil {
			e.logger.Error("Failed to persist lock finalization",
				zap.String("lock_id", e.lock.LockID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Evidence lock finalized, cancellation no longer possible",
		zap.String("lock_id", e.lock.LockID),
	)
}

// releaseLocked 执行释放并移交密封证据集，调用方必须已持有锁
func (e *Engine) releaseLocked(ctx context.Context, now time.Time) {
	e.lock.State = models.LockReleased
	e.lock.ReleasedAt = &now
	e.lock.UpdatedAt = now

	if e.store != nil {
		if err := e.store.UpdateLockState(ctx, e.lock.LockID, models.LockReleased, &now); err != nil {
			e.logger.Error("Failed to persist lock release",
				zap.String("lock_id", e.lock.LockID),
				zap.Error(err),
			)
		}
	}

	if e.sink != nil {
		items := make([]models.EvidenceItem, len(e.items))
		copy(items, e.items)
		if err := e.sink.SendEvidenceRelease(ctx, *e.lock, items); err != nil {
			e.logger.Error("Failed to hand off released evidence",
				zap.String("lock_id", e.lock.LockID),
				zap.Error(err),
			)
		}
	}

	e.logger.Info("Evidence lock released",
		zap.String("lock_id", e.lock.LockID),
		zap.Int("item_count", len(e.items)),
	)
}

// HashContent 计算证据内容的 SHA-256 十六进制哈希
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
