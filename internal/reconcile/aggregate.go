package reconcile

import "github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

// 聚合均为当前集合的纯函数：每次变更后全量重算，不做增量加减，避免计数漂移

// DeviceStatusHistogram 设备状态直方图，只包含出现过的状态
func DeviceStatusHistogram(devices []models.Device) map[models.DeviceStatus]int {
	counts := make(map[models.DeviceStatus]int)
	for _, d := range devices {
		counts[d.Status]++
	}
	return counts
}

// AlertSeverityHistogram 报警级别直方图，只统计 ACTIVE / ACKNOWLEDGED
func AlertSeverityHistogram(alerts []models.Alert) map[models.AlertSeverity]int {
	counts := make(map[models.AlertSeverity]int)
	for _, a := range alerts {
		if a.IsOpen() {
			counts[a.Severity]++
		}
	}
	return counts
}

// UnreadCount 未读通知数
func UnreadCount(notifications []models.Notification) int {
	n := 0
	for _, x := range notifications {
		if x.Status == models.NotificationStatusUnread {
			n++
		}
	}
	return n
}

// OpenAlertCount 活跃报警总数
func OpenAlertCount(alerts []models.Alert) int {
	n := 0
	for _, a := range alerts {
		if a.IsOpen() {
			n++
		}
	}
	return n
}
