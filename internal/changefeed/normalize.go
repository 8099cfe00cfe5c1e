package changefeed

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
)

var (
	// ErrUnknownEntity 变更来自未识别的数据表
	ErrUnknownEntity = errors.New("unknown entity")
	// ErrUnknownOperation 变更类型不是 INSERT/UPDATE/DELETE
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrMissingImage 缺少该操作所需的行镜像
	ErrMissingImage = errors.New("missing row image")
	// ErrInvalidImage 行镜像无法解码或缺少 id
	ErrInvalidImage = errors.New("invalid row image")
)

// RawChange 传输层送达的原始行级变更（Postgres NOTIFY / Redis Stream / MQTT 共用此 JSON 格式）
type RawChange struct {
	Table      string          `json:"table"`
	Operation  string          `json:"type"`
	New        json.RawMessage `json:"record,omitempty"`
	Old        json.RawMessage `json:"old_record,omitempty"`
	CommitTime time.Time       `json:"commit_timestamp"`
}

// ParseRawChange 解析传输层消息体
func ParseRawChange(payload []byte) (RawChange, error) {
	var raw RawChange
	if err := json.Unmarshal(payload, &raw); err != nil {
		return RawChange{}, fmt.Errorf("failed to unmarshal change payload: %w", err)
	}
	return raw, nil
}

// ParseEntity 表名 -> 实体，接受单数与复数形式（device / devices）
func ParseEntity(table string) (Entity, error) {
	t := strings.ToLower(strings.TrimSpace(table))
	// 允许带 schema 前缀，如 public.devices
	if i := strings.LastIndexByte(t, '.'); i >= 0 {
		t = t[i+1:]
	}
	switch t {
	case "device", "devices":
		return EntityDevice, nil
	case "alert", "alerts":
		return EntityAlert, nil
	case "reading", "readings":
		return EntityReading, nil
	case "notification", "notifications":
		return EntityNotification, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEntity, table)
}

// ParseOperation 解析变更类型（大小写不敏感）
func ParseOperation(op string) (Operation, error) {
	switch Operation(strings.ToUpper(strings.TrimSpace(op))) {
	case OpInsert:
		return OpInsert, nil
	case OpUpdate:
		return OpUpdate, nil
	case OpDelete:
		return OpDelete, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOperation, op)
}

// Normalize 将原始变更转换为强类型 Change，不包含任何业务逻辑
func Normalize(raw RawChange) (Change, error) {
	entity, err := ParseEntity(raw.Table)
	if err != nil {
		return nil, err
	}
	op, err := ParseOperation(raw.Operation)
	if err != nil {
		return nil, err
	}

	hasNew, hasOld := present(raw.New), present(raw.Old)
	switch {
	case !hasNew && !hasOld:
		return nil, fmt.Errorf("%w: %s %s has neither image", ErrMissingImage, op, entity)
	case op == OpDelete && !hasOld:
		return nil, fmt.Errorf("%w: %s %s without before image", ErrMissingImage, op, entity)
	case op != OpDelete && !hasNew:
		return nil, fmt.Errorf("%w: %s %s without after image", ErrMissingImage, op, entity)
	}

	switch entity {
	case EntityDevice:
		before, after, err := decodeImages[models.Device](raw, hasOld, hasNew, func(d *models.Device) string { return d.ID })
		if err != nil {
			return nil, err
		}
		return DeviceChange{Op: op, Before: before, After: after, CommitTime: raw.CommitTime}, nil
	case EntityAlert:
		before, after, err := decodeImages[models.Alert](raw, hasOld, hasNew, func(a *models.Alert) string { return a.ID })
		if err != nil {
			return nil, err
		}
		return AlertChange{Op: op, Before: before, After: after, CommitTime: raw.CommitTime}, nil
	case EntityReading:
		before, after, err := decodeImages[models.Reading](raw, hasOld, hasNew, func(r *models.Reading) string { return r.ID })
		if err != nil {
			return nil, err
		}
		return ReadingChange{Op: op, Before: before, After: after, CommitTime: raw.CommitTime}, nil
	default:
		before, after, err := decodeImages[models.Notification](raw, hasOld, hasNew, func(n *models.Notification) string { return n.ID })
		if err != nil {
			return nil, err
		}
		return NotificationChange{Op: op, Before: before, After: after, CommitTime: raw.CommitTime}, nil
	}
}

func present(img json.RawMessage) bool {
	trimmed := bytes.TrimSpace(img)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func decodeImages[T any](raw RawChange, hasOld, hasNew bool, id func(*T) string) (before, after *T, err error) {
	decode := func(img json.RawMessage, which string) (*T, error) {
		v := new(T)
		if err := json.Unmarshal(img, v); err != nil {
			return nil, fmt.Errorf("%w: %s %s image: %v", ErrInvalidImage, raw.Table, which, err)
		}
		if id(v) == "" {
			return nil, fmt.Errorf("%w: %s %s image has no id", ErrInvalidImage, raw.Table, which)
		}
		return v, nil
	}
	if hasOld {
		if before, err = decode(raw.Old, "before"); err != nil {
			return nil, nil, err
		}
	}
	if hasNew {
		if after, err = decode(raw.New, "after"); err != nil {
			return nil, nil, err
		}
	}
	return before, after, nil
}
