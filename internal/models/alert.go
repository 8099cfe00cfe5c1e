package models

import "time"

// AlertSeverity 报警级别
type AlertSeverity string

const (
	AlertSeverityCritical AlertSeverity = "CRITICAL"
	AlertSeverityHigh     AlertSeverity = "HIGH"
	AlertSeverityMedium   AlertSeverity = "MEDIUM"
	AlertSeverityLow      AlertSeverity = "LOW"
	AlertSeverityInfo     AlertSeverity = "INFO"
)

// AlertSeverities 按严重程度从高到低排列
var AlertSeverities = []AlertSeverity{
	AlertSeverityCritical,
	AlertSeverityHigh,
	AlertSeverityMedium,
	AlertSeverityLow,
	AlertSeverityInfo,
}

// Valid 级别是否属于固定枚举
func (s AlertSeverity) Valid() bool {
	return s.Rank() >= 0
}

// Rank 严重程度排名：CRITICAL=4 ... INFO=0，未知级别返回 -1
func (s AlertSeverity) Rank() int {
	switch s {
	case AlertSeverityCritical:
		return 4
	case AlertSeverityHigh:
		return 3
	case AlertSeverityMedium:
		return 2
	case AlertSeverityLow:
		return 1
	case AlertSeverityInfo:
		return 0
	}
	return -1
}

// AlertStatus 报警处理状态
type AlertStatus string

const (
	AlertStatusActive       AlertStatus = "ACTIVE"
	AlertStatusAcknowledged AlertStatus = "ACKNOWLEDGED"
	AlertStatusResolved     AlertStatus = "RESOLVED"
	AlertStatusIgnored      AlertStatus = "IGNORED"
)

// Valid 状态是否属于固定枚举
func (s AlertStatus) Valid() bool {
	switch s {
	case AlertStatusActive, AlertStatusAcknowledged, AlertStatusResolved, AlertStatusIgnored:
		return true
	}
	return false
}

// Alert 报警（对应 alerts 表，通过 device_id 归属到设备所有者）
type Alert struct {
	ID             string        `json:"id" db:"id"`
	DeviceID       string        `json:"device_id" db:"device_id"`
	Severity       AlertSeverity `json:"severity" db:"severity"`
	Status         AlertStatus   `json:"status" db:"status"`
	Title          string        `json:"title" db:"title"`
	Message        string        `json:"message" db:"message"`
	Timestamp      time.Time     `json:"timestamp" db:"timestamp"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty" db:"resolved_at"`
	AcknowledgedBy *string       `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
}

// IsOpen 只有 ACTIVE / ACKNOWLEDGED 计入"活跃报警"统计
func (a Alert) IsOpen() bool {
	return a.Status == AlertStatusActive || a.Status == AlertStatusAcknowledged
}
