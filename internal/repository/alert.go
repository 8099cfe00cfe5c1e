package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"go.uber.org/zap"
)

// AlertRepository 报警仓库（报警通过 device_id 归属到设备所有者）
type AlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository 创建报警仓库
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// ListOpenAlertsForOwner 用户设备上 ACTIVE / ACKNOWLEDGED 的报警（最新在前）
func (r *AlertRepository) ListOpenAlertsForOwner(ctx context.Context, userID string) ([]models.Alert, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT
			a.id, a.device_id, a.severity, a.status, a.title, a.message,
			a.timestamp, a.resolved_at, a.acknowledged_by
		FROM alerts a
		JOIN devices d ON d.id = a.device_id
		WHERE d.user_id = $1
		  AND a.status IN ('ACTIVE', 'ACKNOWLEDGED')
		ORDER BY a.timestamp DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]models.Alert, 0)
	for rows.Next() {
		var a models.Alert
		var resolvedAt sql.NullTime
		var acknowledgedBy sql.NullString
		if err := rows.Scan(
			&a.ID, &a.DeviceID, &a.Severity, &a.Status, &a.Title, &a.Message,
			&a.Timestamp, &resolvedAt, &acknowledgedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.ResolvedAt = timePtr(resolvedAt)
		a.AcknowledgedBy = stringPtr(acknowledgedBy)
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

// Acknowledge ACTIVE -> ACKNOWLEDGED，只能操作自己设备上的报警
func (r *AlertRepository) Acknowledge(ctx context.Context, userID, alertID string) error {
	return r.transition(ctx, userID, alertID, `
		UPDATE alerts a
		SET status = 'ACKNOWLEDGED', acknowledged_by = $1
		FROM devices d
		WHERE a.id = $2
		  AND d.id = a.device_id
		  AND d.user_id = $1
		  AND a.status = 'ACTIVE'
	`)
}

// Resolve ACTIVE/ACKNOWLEDGED -> RESOLVED
func (r *AlertRepository) Resolve(ctx context.Context, userID, alertID string) error {
	return r.transition(ctx, userID, alertID, `
		UPDATE alerts a
		SET status = 'RESOLVED', resolved_at = NOW()
		FROM devices d
		WHERE a.id = $2
		  AND d.id = a.device_id
		  AND d.user_id = $1
		  AND a.status IN ('ACTIVE', 'ACKNOWLEDGED')
	`)
}

func (r *AlertRepository) transition(ctx context.Context, userID, alertID, query string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if alertID == "" {
		return fmt.Errorf("alert_id is required")
	}

	result, err := r.db.ExecContext(ctx, query, userID, alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		// 不存在、不属于该用户或状态不允许
		return fmt.Errorf("alert %s: %w", alertID, ErrNotFound)
	}
	return nil
}
