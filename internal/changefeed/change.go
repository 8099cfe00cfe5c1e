package changefeed

import (
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
)

// Entity 变更流中的实体（即数据表名）
type Entity string

const (
	EntityDevice       Entity = "devices"
	EntityAlert        Entity = "alerts"
	EntityReading      Entity = "readings"
	EntityNotification Entity = "notifications"
)

// Entities 所有受支持的实体
var Entities = []Entity{EntityDevice, EntityAlert, EntityReading, EntityNotification}

// Table 实体对应的数据表名
func (e Entity) Table() string { return string(e) }

// Operation 行级变更类型
type Operation string

const (
	OpInsert Operation = "INSERT"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Change 归一化后的变更事件
// 具体类型只有 DeviceChange / AlertChange / ReadingChange / NotificationChange 四种，可穷举 type switch
type Change interface {
	Entity() Entity
	Operation() Operation
	// RowID 被变更行的 id（INSERT/UPDATE 取新值，DELETE 取旧值）
	RowID() string
	isChange()
}

// DeviceChange 设备变更
type DeviceChange struct {
	Op         Operation
	Before     *models.Device
	After      *models.Device
	CommitTime time.Time
}

func (c DeviceChange) Entity() Entity       { return EntityDevice }
func (c DeviceChange) Operation() Operation { return c.Op }
func (c DeviceChange) RowID() string        { return c.Current().ID }
func (DeviceChange) isChange()              {}

// Current 与操作相关的行镜像：DELETE 为旧值，其余为新值
func (c DeviceChange) Current() *models.Device {
	if c.Op == OpDelete {
		return c.Before
	}
	return c.After
}

// AlertChange 报警变更
type AlertChange struct {
	Op         Operation
	Before     *models.Alert
	After      *models.Alert
	CommitTime time.Time
}

func (c AlertChange) Entity() Entity       { return EntityAlert }
func (c AlertChange) Operation() Operation { return c.Op }
func (c AlertChange) RowID() string        { return c.Current().ID }
func (AlertChange) isChange()              {}

// Current 与操作相关的行镜像
func (c AlertChange) Current() *models.Alert {
	if c.Op == OpDelete {
		return c.Before
	}
	return c.After
}

// ReadingChange 读数变更
type ReadingChange struct {
	Op         Operation
	Before     *models.Reading
	After      *models.Reading
	CommitTime time.Time
}

func (c ReadingChange) Entity() Entity       { return EntityReading }
func (c ReadingChange) Operation() Operation { return c.Op }
func (c ReadingChange) RowID() string        { return c.Current().ID }
func (ReadingChange) isChange()              {}

// Current 与操作相关的行镜像
func (c ReadingChange) Current() *models.Reading {
	if c.Op == OpDelete {
		return c.Before
	}
	return c.After
}

// NotificationChange 通知变更
type NotificationChange struct {
	Op         Operation
	Before     *models.Notification
	After      *models.Notification
	CommitTime time.Time
}

func (c NotificationChange) Entity() Entity       { return EntityNotification }
func (c NotificationChange) Operation() Operation { return c.Op }
func (c NotificationChange) RowID() string        { return c.Current().ID }
func (NotificationChange) isChange()              {}

// Current 与操作相关的行镜像
func (c NotificationChange) Current() *models.Notification {
	if c.Op == OpDelete {
		return c.Before
	}
	return c.After
}
