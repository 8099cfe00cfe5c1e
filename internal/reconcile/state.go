package reconcile

import (
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
)

// Phase 视图阶段
type Phase string

const (
	PhaseLoading Phase = "loading"
	PhaseReady   Phase = "ready"
	PhaseFailed  Phase = "failed" // 快照失败，等待手动重试
	PhaseClosed  Phase = "closed"
)

// State 视图对外发布的只读状态；每次发布都是新副本，接收方不得修改
type State struct {
	ViewID string `json:"view_id"`
	UserID string `json:"user_id"`

	Devices       []models.Device                        `json:"devices"`
	Alerts        []models.Alert                         `json:"alerts"`
	Readings      map[string]map[string][]models.Reading `json:"readings"` // device_id -> type -> 最新在前
	Notifications []models.Notification                  `json:"notifications"`

	DeviceStatusCounts  map[models.DeviceStatus]int  `json:"device_status_counts"`
	AlertSeverityCounts map[models.AlertSeverity]int `json:"alert_severity_counts"`
	OpenAlerts          int                          `json:"open_alerts"`
	UnreadNotifications int                          `json:"unread_notifications"`

	Phase     Phase     `json:"phase"`
	Live      bool      `json:"live"`               // 变更流已连接
	Degraded  string    `json:"degraded,omitempty"` // 订阅失败原因，非空表示只显示快照
	LoadError string    `json:"load_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary 聚合摘要（写入缓存供其他服务读取）
type Summary struct {
	UserID              string                       `json:"user_id"`
	Devices             int                          `json:"devices"`
	DeviceStatusCounts  map[models.DeviceStatus]int  `json:"device_status_counts"`
	AlertSeverityCounts map[models.AlertSeverity]int `json:"alert_severity_counts"`
	OpenAlerts          int                          `json:"open_alerts"`
	UnreadNotifications int                          `json:"unread_notifications"`
	UpdatedAt           time.Time                    `json:"updated_at"`
}

// Summary 提取聚合摘要
func (s State) Summary() Summary {
	return Summary{
		UserID:              s.UserID,
		Devices:             len(s.Devices),
		DeviceStatusCounts:  s.DeviceStatusCounts,
		AlertSeverityCounts: s.AlertSeverityCounts,
		OpenAlerts:          s.OpenAlerts,
		UnreadNotifications: s.UnreadNotifications,
		UpdatedAt:           s.UpdatedAt,
	}
}
