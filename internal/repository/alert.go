package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"pulse-guard/internal/models"
)

// AlertRepository 报警记录仓库
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警记录仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// CreateAlert 创建报警记录
func (r *AlertRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if alert == nil {
		return fmt.Errorf("alert is required")
	}
	if alert.AlertID == "" {
		return fmt.Errorf("alert_id is required")
	}
	if alert.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}

	query := `
		INSERT INTO alerts (
			alert_id,
			incident_id,
			message,
			latitude,
			longitude,
			notified_contacts,
			dispatched_at,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	notified := alert.NotifiedContacts
	if len(notified) == 0 {
		notified = json.RawMessage("[]")
	}

	_, err := r.db.ExecContext(ctx,
		query,
		alert.AlertID,
		alert.IncidentID,
		alert.Message,
		alert.Latitude,
		alert.Longitude,
		notified,
		alert.DispatchedAt,
		alert.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}

	return nil
}

// ListAlerts 按事故查询报警记录（时间倒序）
func (r *AlertRepository) ListAlerts(ctx context.Context, incidentID string) ([]*models.Alert, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT
			alert_id,
			incident_id,
			message,
			latitude,
			longitude,
			notified_contacts,
			dispatched_at,
			created_at
		FROM alerts
		WHERE incident_id = $1
		ORDER BY dispatched_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []*models.Alert{}
	for rows.Next() {
		var alert models.Alert
		var lat, lng sql.NullFloat64
		var notified []byte

		err := rows.Scan(
			&alert.AlertID,
			&alert.IncidentID,
			&alert.Message,
			&lat,
			&lng,
			&notified,
			&alert.DispatchedAt,
			&alert.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		if lat.Valid {
			alert.Latitude = &lat.Float64
		}
		if lng.Valid {
			alert.Longitude = &lng.Float64
		}
		if len(notified) > 0 {
			alert.NotifiedContacts = notified
		} else {
			alert.NotifiedContacts = json.RawMessage("[]")
		}

		alerts = append(alerts, &alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}

	return alerts, nil
}
