package models

import "time"

// Reading 设备读数（只追加）
type Reading struct {
	ID        string    `json:"id" db:"id"`
	DeviceID  string    `json:"device_id" db:"device_id"`
	Type      string    `json:"type" db:"type"` // 自由字符串，如 "temperature"
	Value     float64   `json:"value" db:"value"`
	Unit      *string   `json:"unit,omitempty" db:"unit"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}
