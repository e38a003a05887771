package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// IncidentRepository 事故记录仓库
type IncidentRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentRepository 创建事故记录仓库
func NewIncidentRepository(db *sql.DB, logger *zap.Logger) *IncidentRepository {
	return &IncidentRepository{
		db:     db,
		logger: logger,
	}
}

// CreateIncident 创建事故记录
func (r *IncidentRepository) CreateIncident(ctx context.Context, incident *models.Incident) error {
	if incident == nil {
		return fmt.Errorf("incident is required")
	}
	if incident.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if incident.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}

	query := `
		INSERT INTO incidents (
			incident_id,
			session_id,
			cause,
			score,
			tier,
			status,
			triggered_at,
			closed_at,
			metadata,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	metadata := incident.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage("{}")
	}

	_, err := r.db.ExecContext(ctx,
		query,
		incident.IncidentID,
		incident.SessionID,
		incident.Cause,
		incident.Score,
		incident.Tier,
		incident.Status,
		incident.TriggeredAt,
		incident.ClosedAt,
		metadata,
		incident.CreatedAt,
		incident.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	return nil
}

// GetIncident 根据 incident_id 获取事故记录
func (r *IncidentRepository) GetIncident(ctx context.Context, incidentID string) (*models.Incident, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT
			incident_id,
			session_id,
			cause,
			score,
			tier,
			status,
			triggered_at,
			closed_at,
			metadata,
			created_at,
			updated_at
		FROM incidents
		WHERE incident_id = $1
	`

	var incident models.Incident
	var closedAt sql.NullTime
	var metadata []byte

	err := r.db.QueryRowContext(ctx, query, incidentID).Scan(
		&incident.IncidentID,
		&incident.SessionID,
		&incident.Cause,
		&incident.Score,
		&incident.Tier,
		&incident.Status,
		&incident.TriggeredAt,
		&closedAt,
		&metadata,
		&incident.CreatedAt,
		&incident.UpdatedAt,
	)

	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("incident not found: incident_id=%s", incidentID)
		}
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}

	if closedAt.Valid {
		incident.ClosedAt = &closedAt.Time
	}
	if len(metadata) > 0 {
		incident.Metadata = metadata
	} else {
		incident.Metadata = json.RawMessage("{}")
	}

	return &incident, nil
}

// CloseIncident 关闭事故（active → closed）
func (r *IncidentRepository) CloseIncident(ctx context.Context, incidentID string) error {
	if incidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	query := `
		UPDATE incidents
		SET status = 'closed',
		    closed_at = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE incident_id = $2
		  AND status = 'active'
	`

	result, err := r.db.ExecContext(ctx, query, time.Now(), incidentID)
	if err != nil {
		return fmt.Errorf("failed to close incident: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("incident not found or already closed: incident_id=%s", incidentID)
	}

	return nil
}

// ListIncidents 按会话查询事故列表（时间倒序、分页）
func (r *IncidentRepository) ListIncidents(ctx context.Context, sessionID string, page, size int) ([]*models.Incident, int, error) {
	if sessionID == "" {
		return []*models.Incident{}, 0, nil
	}

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM incidents WHERE session_id = $1`,
		sessionID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}

	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	offset := (page - 1) * size

	query := `
		SELECT
			incident_id,
			session_id,
			cause,
			score,
			tier,
			status,
			triggered_at,
			closed_at,
			metadata,
			created_at,
			updated_at
		FROM incidents
		WHERE session_id = $1
		ORDER BY triggered_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, sessionID, size, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	incidents := []*models.Incident{}
	for rows.Next() {
		var incident models.Incident
		var closedAt sql.NullTime
		var metadata []byte

		err := rows.Scan(
			&incident.IncidentID,
			&incident.SessionID,
			&incident.Cause,
			&incident.Score,
			&incident.Tier,
			&incident.Status,
			&incident.TriggeredAt,
			&closedAt,
			&metadata,
			&incident.CreatedAt,
			&incident.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan incident: %w", err)
		}

		if closedAt.Valid {
			incident.ClosedAt = &closedAt.Time
		}
		if len(metadata) > 0 {
			incident.Metadata = metadata
		} else {
			incident.Metadata = json.RawMessage("{}")
		}

		incidents = append(incidents, &incident)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate incidents: %w", err)
	}

	return incidents, total, nil
}
