package models

import "time"

// NotificationType 通知类型
type NotificationType string

const (
	NotificationTypeAlert        NotificationType = "ALERT"
	NotificationTypeMaintenance  NotificationType = "MAINTENANCE"
	NotificationTypeDeviceStatus NotificationType = "DEVICE_STATUS"
	NotificationTypeSecurity     NotificationType = "SECURITY"
	NotificationTypeSystem       NotificationType = "SYSTEM"
)

// NotificationStatus 通知阅读状态
type NotificationStatus string

const (
	NotificationStatusRead   NotificationStatus = "READ"
	NotificationStatusUnread NotificationStatus = "UNREAD"
)

// Notification 用户通知（直接通过 user_id 归属）
type Notification struct {
	ID        string             `json:"id" db:"id"`
	UserID    string             `json:"user_id" db:"user_id"`
	Type      NotificationType   `json:"type" db:"type"`
	Status    NotificationStatus `json:"status" db:"status"`
	Title     string             `json:"title" db:"title"`
	Message   string             `json:"message" db:"message"`
	Link      *string            `json:"link,omitempty" db:"link"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
}
