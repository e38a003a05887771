package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

func setupMockEvidenceDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *EvidenceRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewEvidenceRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestCreateLock_Success(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	now := time.Now()
	lock := &models.EvidenceLock{
		LockID:        uuid.New().String(),
		IncidentRef:   "i1",
		State:         models.LockCancellable,
		LockedAt:      now,
		GraceUntil:    now.Add(10 * time.Minute),
		AutoReleaseAt: now.Add(24 * time.Hour),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	mock.ExpectExec(`INSERT INTO evidence_locks`).
		WithArgs(
			lock.LockID, lock.IncidentRef, "locked_cancellable",
			lock.LockedAt, lock.GraceUntil, lock.AutoReleaseAt,
			nil, lock.CreatedAt, lock.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateLock(context.Background(), lock)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateLock_MissingIncidentRef(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	err := repo.CreateLock(context.Background(), &models.EvidenceLock{LockID: "l1"})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "incident_ref is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddItem_Success(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	item := &models.EvidenceItem{
		ItemID:      uuid.New().String(),
		LockID:      "l1",
		Kind:        "transcript",
		ContentHash: "ab12",
		CapturedAt:  time.Now(),
	}

	mock.ExpectExec(`INSERT INTO evidence_items`).
		WithArgs(item.ItemID, item.LockID, item.Kind, item.ContentHash, item.CapturedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.AddItem(context.Background(), item)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAddItem_MissingHash(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	err := repo.AddItem(context.Background(), &models.EvidenceItem{
		ItemID: "it1",
		LockID: "l1",
		Kind:   "audio",
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "content_hash is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLockState_Success(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	releasedAt := time.Now()

	mock.ExpectExec(`UPDATE evidence_locks`).
		WithArgs("released", releasedAt, "l1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateLockState(context.Background(), "l1", models.LockReleased, &releasedAt)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateLockState_NotFound(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE evidence_locks`).
		WithArgs("locked_final", nil, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateLockState(context.Background(), "missing", models.LockFinal, nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLock_Success(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"lock_id", "incident_ref", "state", "locked_at",
		"grace_until", "auto_release_at", "released_at",
		"created_at", "updated_at",
	}).AddRow(
		"l1", "i1", "locked_final", now,
		now.Add(10*time.Minute), now.Add(24*time.Hour), nil,
		now, now,
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("l1").
		WillReturnRows(rows)

	lock, err := repo.GetLock(context.Background(), "l1")

	require.NoError(t, err)
	assert.Equal(t, models.LockFinal, lock.State)
	assert.Nil(t, lock.ReleasedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListItems_Success(t *testing.T) {
	db, mock, repo := setupMockEvidenceDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"item_id", "lock_id", "kind", "content_hash", "captured_at",
	}).AddRow(
		"it1", "l1", "audio", "aa11", now,
	).AddRow(
		"it2", "l1", "location", "bb22", now.Add(time.Minute),
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs("l1").
		WillReturnRows(rows)

	items, err := repo.ListItems(context.Background(), "l1")

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "audio", items[0].Kind)
	assert.Equal(t, "bb22", items[1].ContentHash)
	require.NoError(t, mock.ExpectationsWereMet())
}
