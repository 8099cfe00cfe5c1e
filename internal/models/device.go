package models

import "time"

// DeviceStatus 设备生命周期状态
type DeviceStatus string

const (
	DeviceStatusOnline      DeviceStatus = "ONLINE"
	DeviceStatusOffline     DeviceStatus = "OFFLINE"
	DeviceStatusMaintenance DeviceStatus = "MAINTENANCE"
	DeviceStatusError       DeviceStatus = "ERROR"
	DeviceStatusInactive    DeviceStatus = "INACTIVE"
)

// DeviceStatuses 全部设备状态（用于直方图补零、导出列顺序）
var DeviceStatuses = []DeviceStatus{
	DeviceStatusOnline,
	DeviceStatusOffline,
	DeviceStatusMaintenance,
	DeviceStatusError,
	DeviceStatusInactive,
}

// Valid 状态是否属于固定枚举
func (s DeviceStatus) Valid() bool {
	switch s {
	case DeviceStatusOnline, DeviceStatusOffline, DeviceStatusMaintenance, DeviceStatusError, DeviceStatusInactive:
		return true
	}
	return false
}

// Device 设备（对应 devices 表）
type Device struct {
	ID              string       `json:"id" db:"id"`
	Name            string       `json:"name" db:"name"`
	SerialNumber    string       `json:"serial_number" db:"serial_number"`
	Status          DeviceStatus `json:"status" db:"status"`
	UserID          string       `json:"user_id" db:"user_id"` // 唯一所属用户
	Location        *string      `json:"location,omitempty" db:"location"`
	Model           *string      `json:"model,omitempty" db:"model"`
	Manufacturer    *string      `json:"manufacturer,omitempty" db:"manufacturer"`
	FirmwareVersion *string      `json:"firmware_version,omitempty" db:"firmware_version"`
	LastReadingAt   *time.Time   `json:"last_reading_at,omitempty" db:"last_reading_at"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at" db:"updated_at"`
}
