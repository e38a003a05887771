package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

type fakeSink struct {
	released []models.EvidenceLock
	items    [][]models.EvidenceItem
}

func (f *fakeSink) SendEvidenceRelease(_ context.Context, lock models.EvidenceLock, items []models.EvidenceItem) error {
	f.released = append(f.released, lock)
	f.items = append(f.items, items)
	return nil
}

func newTestEngine(t *testing.T, base time.Time, sink ReleaseSink) *Engine {
	t.Helper()
	e := NewEngine(10*time.Minute, 30*time.Second, nil, sink, zap.NewNop())
	e.now = func() time.Time { return base }
	return e
}

func TestEngine_ActivateAndSnapshot(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	lock, err := e.Activate(context.Background(), "incident-1", 24)

	require.NoError(t, err)
	assert.Equal(t, models.LockCancellable, lock.State)
	assert.Equal(t, base.Add(10*time.Minute), lock.GraceUntil)
	assert.Equal(t, base.Add(24*time.Hour), lock.AutoReleaseAt)

	snap, items, ok := e.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, lock.LockID, snap.LockID)
	assert.Empty(t, items)
}

func TestEngine_DoubleActivateRejected(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)

	_, err = e.Activate(context.Background(), "incident-2", 24)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_CancelWithinGrace(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)

	// lockedAt + 9分钟：仍可撤销
	e.now = func() time.Time { return base.Add(9 * time.Minute) }
	err = e.Cancel(context.Background())

	require.NoError(t, err)
	_, _, ok := e.Snapshot()
	assert.False(t, ok)
}

func TestEngine_CancelAfterGraceFinalized(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)

	// lockedAt + 11分钟：撤销必须失败且状态不变
	e.now = func() time.Time { return base.Add(11 * time.Minute) }
	err = e.Cancel(context.Background())

	assert.ErrorIs(t, err, ErrLockFinalized)

	snap, _, ok := e.Snapshot()
	require.True(t, ok)
	assert.Equal(t, models.LockFinal, snap.State)

	// 重复撤销同样失败
	assert.ErrorIs(t, e.Cancel(context.Background()), ErrLockFinalized)
}

func TestEngine_CancelGraceBoundary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// now < graceUntil 成功
	e1 := newTestEngine(t, base, nil)
	_, err := e1.Activate(context.Background(), "i", 24)
	require.NoError(t, err)
	e1.now = func() time.Time { return base.Add(10*time.Minute - time.Millisecond) }
	assert.NoError(t, e1.Cancel(context.Background()))

	// now == graceUntil 恰好失败
	e2 := newTestEngine(t, base, nil)
	_, err = e2.Activate(context.Background(), "i", 24)
	require.NoError(t, err)
	e2.now = func() time.Time { return base.Add(10 * time.Minute) }
	assert.ErrorIs(t, e2.Cancel(context.Background()), ErrLockFinalized)
}

func TestEngine_AddEvidenceAndVerify(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)

	content := []byte("audio recording bytes")
	item, err := e.AddEvidence(context.Background(), "audio", content)
	require.NoError(t, err)
	assert.Equal(t, HashContent(content), item.ContentHash)

	// 相同内容重哈希一致
	ok, err := e.Verify(item.ItemID, content)
	require.NoError(t, err)
	assert.True(t, ok)

	// 篡改后哈希不一致
	ok, err = e.Verify(item.ItemID, []byte("tampered bytes"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_AddEvidenceInFinalState(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)

	// 宽限期后仍可添加证据
	e.now = func() time.Time { return base.Add(15 * time.Minute) }
	_ = e.Cancel(context.Background()) // 落实 final

	_, err = e.AddEvidence(context.Background(), "photo", []byte("jpeg"))
	assert.NoError(t, err)
}

func TestEngine_AddEvidenceWithoutLock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, nil)

	_, err := e.AddEvidence(context.Background(), "audio", []byte("x"))

	assert.ErrorIs(t, err, ErrNoActiveLock)
}

func TestEngine_AutoRelease(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeSink{}
	e := newTestEngine(t, base, sink)

	_, err := e.Activate(context.Background(), "incident-1", 1)
	require.NoError(t, err)
	_, err = e.AddEvidence(context.Background(), "audio", []byte("x"))
	require.NoError(t, err)

	// 释放时刻之前 tick 无效果
	e.now = func() time.Time { return base.Add(30 * time.Minute) }
	e.tick(context.Background())
	snap, _, _ := e.Snapshot()
	assert.Equal(t, models.LockFinal, snap.State)

	// 释放时刻之后 tick 执行释放并移交证据集
	e.now = func() time.Time { return base.Add(61 * time.Minute) }
	e.tick(context.Background())

	snap, _, _ = e.Snapshot()
	assert.Equal(t, models.LockReleased, snap.State)
	require.Len(t, sink.released, 1)
	require.Len(t, sink.items[0], 1)

	// 释放后不可再添加证据
	_, err = e.AddEvidence(context.Background(), "audio", []byte("late"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestEngine_ReleaseNowAlwaysPermitted(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sink := &fakeSink{}
	e := newTestEngine(t, base, sink)

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)

	// 宽限期内也允许立即释放
	require.NoError(t, e.ReleaseNow(context.Background()))

	snap, _, _ := e.Snapshot()
	assert.Equal(t, models.LockReleased, snap.State)
	assert.Len(t, sink.released, 1)

	// 重复释放报 ErrNoActiveLock
	assert.ErrorIs(t, e.ReleaseNow(context.Background()), ErrNoActiveLock)
}

func TestEngine_ReactivateAfterRelease(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newTestEngine(t, base, &fakeSink{})

	_, err := e.Activate(context.Background(), "incident-1", 24)
	require.NoError(t, err)
	require.NoError(t, e.ReleaseNow(context.Background()))

	// 释放后可为新事故重新激活
	lock, err := e.Activate(context.Background(), "incident-2", 24)
	require.NoError(t, err)
	assert.Equal(t, "incident-2", lock.IncidentRef)
	assert.Equal(t, models.LockCancellable, lock.State)
}

func TestHashContent_RoundTrip(t *testing.T) {
	content := []byte("the same content")

	assert.Equal(t, HashContent(content), HashContent(content))
	assert.NotEqual(t, HashContent(content), HashContent([]byte("different")))
	assert.Len(t, HashContent(content), 64)
}
