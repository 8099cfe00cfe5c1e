package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"go.uber.org/zap"
)

// DeviceRepository 设备仓库
type DeviceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDeviceRepository 创建设备仓库
func NewDeviceRepository(db *sql.DB, logger *zap.Logger) *DeviceRepository {
	return &DeviceRepository{
		db:     db,
		logger: logger,
	}
}

const deviceColumns = `
		id, name, serial_number, status, user_id,
		location, model, manufacturer, firmware_version,
		last_reading_at, created_at, updated_at`

// GetDeviceOwner 查询设备所属用户（所有权过滤的点查询）
func (r *DeviceRepository) GetDeviceOwner(ctx context.Context, deviceID string) (string, error) {
	if deviceID == "" {
		return "", fmt.Errorf("device_id is required")
	}

	var userID string
	err := r.db.QueryRowContext(ctx, `SELECT user_id FROM devices WHERE id = $1`, deviceID).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return "", fmt.Errorf("failed to query device owner: %w", err)
	}
	return userID, nil
}

// GetDevice 根据 id 获取设备
func (r *DeviceRepository) GetDevice(ctx context.Context, deviceID string) (*models.Device, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	row := r.db.QueryRowContext(ctx, `SELECT`+deviceColumns+` FROM devices WHERE id = $1`, deviceID)
	d, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("device %s: %w", deviceID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query device: %w", err)
	}
	return d, nil
}

// ListDevicesByOwner 获取用户全部设备（最新创建的在前）
func (r *DeviceRepository) ListDevicesByOwner(ctx context.Context, userID string) ([]models.Device, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	rows, err := r.db.QueryContext(ctx, `SELECT`+deviceColumns+`
		FROM devices
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}
	defer rows.Close()

	devices := make([]models.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate devices: %w", err)
	}
	return devices, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(s rowScanner) (*models.Device, error) {
	var d models.Device
	var location, model, manufacturer, firmware sql.NullString
	var lastReadingAt sql.NullTime
	if err := s.Scan(
		&d.ID,
		&d.Name,
		&d.SerialNumber,
		&d.Status,
		&d.UserID,
		&location,
		&model,
		&manufacturer,
		&firmware,
		&lastReadingAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Location = stringPtr(location)
	d.Model = stringPtr(model)
	d.Manufacturer = stringPtr(manufacturer)
	d.FirmwareVersion = stringPtr(firmware)
	d.LastReadingAt = timePtr(lastReadingAt)
	return &d, nil
}
