package repository

import (
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound 记录不存在（或不属于当前用户）
var ErrNotFound = errors.New("not found")

// Store 共享同一连接池的四个仓库；同时满足快照读取、所有者查询与用户操作三类接口
type Store struct {
	*DeviceRepository
	*AlertRepository
	*ReadingRepository
	*NotificationRepository
}

// NewStore 创建 Store
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{
		DeviceRepository:       NewDeviceRepository(db, logger),
		AlertRepository:        NewAlertRepository(db, logger),
		ReadingRepository:      NewReadingRepository(db, logger),
		NotificationRepository: NewNotificationRepository(db, logger),
	}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
