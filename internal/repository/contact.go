package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// ContactRepository 紧急联系人仓库
type ContactRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewContactRepository 创建紧急联系人仓库
func NewContactRepository(db *sql.DB, logger *zap.Logger) *ContactRepository {
	return &ContactRepository{
		db:     db,
		logger: logger,
	}
}

// ListActiveContacts 获取启用的联系人（按优先级升序，响应分发顺序）
func (r *ContactRepository) ListActiveContacts(ctx context.Context) ([]models.EmergencyContact, error) {
	query := `
		SELECT
			contact_id,
			name,
			topic,
			priority,
			active,
			created_at
		FROM emergency_contacts
		WHERE active = TRUE
		ORDER BY priority ASC, created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active contacts: %w", err)
	}
	defer rows.Close()

	contacts := []models.EmergencyContact{}
	for rows.Next() {
		var contact models.EmergencyContact
		err := rows.Scan(
			&contact.ContactID,
			&contact.Name,
			&contact.Topic,
			&contact.Priority,
			&contact.Active,
			&contact.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, contact)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}

	return contacts, nil
}

// CreateContact 创建联系人
func (r *ContactRepository) CreateContact(ctx context.Context, contact *models.EmergencyContact) error {
	if contact == nil {
		return fmt.Errorf("contact is required")
	}
	if contact.ContactID == "" {
		return fmt.Errorf("contact_id is required")
	}
	if contact.Name == "" {
		return fmt.Errorf("name is required")
	}
	if contact.Topic == "" {
		return fmt.Errorf("topic is required")
	}

	query := `
		INSERT INTO emergency_contacts (
			contact_id,
			name,
			topic,
			priority,
			active,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		contact.ContactID,
		contact.Name,
		contact.Topic,
		contact.Priority,
		contact.Active,
		contact.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}

	return nil
}

// SetContactActive 启用/停用联系人
func (r *ContactRepository) SetContactActive(ctx context.Context, contactID string, active bool) error {
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE emergency_contacts SET active = $1 WHERE contact_id = $2`,
		active, contactID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("contact not found: contact_id=%s", contactID)
	}

	return nil
}

// DeleteContact 删除联系人
func (r *ContactRepository) DeleteContact(ctx context.Context, contactID string) error {
	if contactID == "" {
		return fmt.Errorf("contact_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM emergency_contacts WHERE contact_id = $1`,
		contactID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete contact: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("contact not found: contact_id=%s", contactID)
	}

	return nil
}
