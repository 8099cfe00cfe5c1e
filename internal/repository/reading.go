package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// ReadingRepository 读数仓库
type ReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingRepository 创建读数仓库
func NewReadingRepository(db *sql.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{
		db:     db,
		logger: logger,
	}
}

// ListRecentReadings 每个 (device_id, type) 最近 limit 条读数，按时间倒序
func (r *ReadingRepository) ListRecentReadings(ctx context.Context, deviceIDs []string, limit int) ([]models.Reading, error) {
	if len(deviceIDs) == 0 {
		return []models.Reading{}, nil
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive")
	}

	query := `
		SELECT id, device_id, type, value, unit, timestamp
		FROM (
			SELECT
				id, device_id, type, value, unit, timestamp,
				ROW_NUMBER() OVER (PARTITION BY device_id, type ORDER BY timestamp DESC) AS rn
			FROM readings
			WHERE device_id = ANY($1)
		) recent
		WHERE rn <= $2
		ORDER BY device_id, type, timestamp DESC
	`
	rows, err := r.db.QueryContext(ctx, query, pq.Array(deviceIDs), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]models.Reading, 0)
	for rows.Next() {
		var rd models.Reading
		var unit sql.NullString
		if err := rows.Scan(&rd.ID, &rd.DeviceID, &rd.Type, &rd.Value, &unit, &rd.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		rd.Unit = stringPtr(unit)
		readings = append(readings, rd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}
