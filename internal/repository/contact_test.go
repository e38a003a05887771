package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

func setupMockContactDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *ContactRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewContactRepository(db, zap.NewNop())
	return db, mock, repo
}

func TestListActiveContacts_Success(t *testing.T) {
	db, mock, repo := setupMockContactDB(t)
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows([]string{
		"contact_id", "name", "topic", "priority", "active", "created_at",
	}).AddRow(
		"c1", "Ana", "ana", 1, true, now,
	).AddRow(
		"c2", "Ben", "ben", 2, true, now,
	)

	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	contacts, err := repo.ListActiveContacts(context.Background())

	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "Ana", contacts[0].Name)
	assert.Equal(t, 1, contacts[0].Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListActiveContacts_Empty(t *testing.T) {
	db, mock, repo := setupMockContactDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows([]string{
		"contact_id", "name", "topic", "priority", "active", "created_at",
	}))

	contacts, err := repo.ListActiveContacts(context.Background())

	require.NoError(t, err)
	assert.Empty(t, contacts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateContact_Success(t *testing.T) {
	db, mock, repo := setupMockContactDB(t)
	defer db.Close()

	now := time.Now()
	contact := &models.EmergencyContact{
		ContactID: "c1",
		Name:      "Ana",
		Topic:     "ana",
		Priority:  1,
		Active:    true,
		CreatedAt: now,
	}

	mock.ExpectExec(`INSERT INTO emergency_contacts`).
		WithArgs("c1", "Ana", "ana", 1, true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CreateContact(context.Background(), contact)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateContact_MissingTopic(t *testing.T) {
	db, mock, repo := setupMockContactDB(t)
	defer db.Close()

	err := repo.CreateContact(context.Background(), &models.EmergencyContact{
		ContactID: "c1",
		Name:      "Ana",
	})

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "topic is required")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetContactActive_NotFound(t *testing.T) {
	db, mock, repo := setupMockContactDB(t)
	defer db.Close()

	mock.ExpectExec(`UPDATE emergency_contacts`).
		WithArgs(false, "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetContactActive(context.Background(), "missing", false)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "contact not found")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteContact_Success(t *testing.T) {
	db, mock, repo := setupMockContactDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM emergency_contacts`).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteContact(context.Background(), "c1")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
