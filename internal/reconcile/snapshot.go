package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"go.uber.org/zap"
)

// ErrSnapshotFailed 初始快照加载失败（终止性错误，需手动重试）
var ErrSnapshotFailed = errors.New("snapshot load failed")

// SnapshotSource 初始批量读取（repository.Store 实现）
type SnapshotSource interface {
	ListDevicesByOwner(ctx context.Context, userID string) ([]models.Device, error)
	ListOpenAlertsForOwner(ctx context.Context, userID string) ([]models.Alert, error)
	ListRecentReadings(ctx context.Context, deviceIDs []string, limit int) ([]models.Reading, error)
	ListRecentNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)
}

// Snapshot 视图初始数据
type Snapshot struct {
	Devices       []models.Device
	Alerts        []models.Alert
	Readings      []models.Reading
	Notifications []models.Notification
	LoadedAt      time.Time
}

// SnapshotLoader 快照加载器
type SnapshotLoader struct {
	source             SnapshotSource
	deviceCap          int
	readingsLimit      int
	notificationsLimit int
	logger             *zap.Logger
}

// NewSnapshotLoader 创建快照加载器
func NewSnapshotLoader(source SnapshotSource, opts Options, logger *zap.Logger) *SnapshotLoader {
	return &SnapshotLoader{
		source:             source,
		deviceCap:          opts.SnapshotDeviceCap,
		readingsLimit:      opts.ReadingsLimit,
		notificationsLimit: opts.NotificationsLimit,
		logger:             logger,
	}
}

// Load 依次读取设备、活跃报警、前 deviceCap 台设备的最近读数、最近通知；任一失败即整体失败
func (l *SnapshotLoader) Load(ctx context.Context, viewer auth.Viewer) (snap *Snapshot, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveSnapshot(err, time.Since(start))
	}()

	devices, err := l.source.ListDevicesByOwner(ctx, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: devices: %v", ErrSnapshotFailed, err)
	}

	alerts, err := l.source.ListOpenAlertsForOwner(ctx, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: alerts: %v", ErrSnapshotFailed, err)
	}

	// 只为前 N 台设备加载读数，限制初始加载成本
	n := len(devices)
	if l.deviceCap >= 0 && n > l.deviceCap {
		n = l.deviceCap
	}
	ids := make([]string, 0, n)
	for _, d := range devices[:n] {
		ids = append(ids, d.ID)
	}
	readings := []models.Reading{}
	if len(ids) > 0 {
		readings, err = l.source.ListRecentReadings(ctx, ids, l.readingsLimit)
		if err != nil {
			return nil, fmt.Errorf("%w: readings: %v", ErrSnapshotFailed, err)
		}
	}

	notifications, err := l.source.ListRecentNotifications(ctx, viewer.UserID, l.notificationsLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: notifications: %v", ErrSnapshotFailed, err)
	}

	l.logger.Debug("Snapshot loaded",
		zap.String("user_id", viewer.UserID),
		zap.Int("devices", len(devices)),
		zap.Int("alerts", len(alerts)),
		zap.Int("readings", len(readings)),
		zap.Int("notifications", len(notifications)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Snapshot{
		Devices:       devices,
		Alerts:        alerts,
		Readings:      readings,
		Notifications: notifications,
		LoadedAt:      time.Now(),
	}, nil
}

// StateFromSnapshot 不挂载订阅，直接由快照计算一次性状态（看板接口、导出使用）
func StateFromSnapshot(viewer auth.Viewer, snap *Snapshot, opts Options) State {
	opts = opts.withDefaults()
	devices := NewBoundedList(0, deviceKey)
	devices.Reset(snap.Devices)
	alerts := NewBoundedList(0, alertKey)
	alerts.Reset(snap.Alerts)
	readings := NewReadingWindows(opts.ReadingsLimit)
	readings.Reset(snap.Readings)
	notifications := NewBoundedList(opts.NotificationsLimit, notificationKey)
	notifications.Reset(snap.Notifications)

	d, a, n := devices.Items(), alerts.Items(), notifications.Items()
	return State{
		UserID:              viewer.UserID,
		Devices:             d,
		Alerts:              a,
		Readings:            readings.Snapshot(),
		Notifications:       n,
		DeviceStatusCounts:  DeviceStatusHistogram(d),
		AlertSeverityCounts: AlertSeverityHistogram(a),
		OpenAlerts:          OpenAlertCount(a),
		UnreadNotifications: UnreadCount(n),
		Phase:               PhaseReady,
		UpdatedAt:           snap.LoadedAt,
	}
}
