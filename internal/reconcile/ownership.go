package reconcile

import (
	"context"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"
)

// OwnerLookup 设备所有者点查询（repository.DeviceRepository 实现）
type OwnerLookup interface {
	GetDeviceOwner(ctx context.Context, deviceID string) (string, error)
}

// Holdings 视图当前持有的行
type Holdings interface {
	HasDevice(id string) bool
	HasAlert(id string) bool
	HasReading(id string) bool
	HasNotification(id string) bool
}

// Verdict 所有权判定结果
type Verdict int

const (
	// Deny 不属于当前查看者，丢弃
	Deny Verdict = iota
	// Admit 写入集合
	Admit
	// Remove 已持有的行离开了查看者的可见范围（转移给他人或移到他人设备），按删除处理
	Remove
	// NeedLookup 需要查询父设备所有者
	NeedLookup
)

func (v Verdict) String() string {
	switch v {
	case Admit:
		return "admit"
	case Remove:
		return "remove"
	case NeedLookup:
		return "lookup"
	}
	return "deny"
}

type ownerEntry struct {
	owner   string
	expires time.Time
}

// OwnershipFilter 所有权过滤：设备、通知直接比较 user_id；报警、读数经父设备判定
// 只在视图事件循环中调用（Resolve 除外），因此无需加锁
type OwnershipFilter struct {
	viewerID string
	lookup   OwnerLookup
	ttl      time.Duration
	cache    map[string]ownerEntry
	now      func() time.Time
}

// NewOwnershipFilter 创建过滤器；ttl > 0 时缓存父设备所有者
func NewOwnershipFilter(viewer auth.Viewer, lookup OwnerLookup, ttl time.Duration) *OwnershipFilter {
	return &OwnershipFilter{
		viewerID: viewer.UserID,
		lookup:   lookup,
		ttl:      ttl,
		cache:    make(map[string]ownerEntry),
		now:      time.Now,
	}
}

// Owns owner 是否为当前查看者
func (f *OwnershipFilter) Owns(owner string) bool {
	return owner != "" && owner == f.viewerID
}

// Check 判定变更是否进入视图；NeedLookup 时第二个返回值为待查询的设备 id
func (f *OwnershipFilter) Check(ch changefeed.Change, holds Holdings) (Verdict, string) {
	switch c := ch.(type) {
	case changefeed.DeviceChange:
		id := c.RowID()
		if c.Op == changefeed.OpDelete {
			f.Forget(id)
			if f.Owns(c.Before.UserID) || holds.HasDevice(id) {
				return Admit, ""
			}
			return Deny, ""
		}
		f.Remember(id, c.After.UserID)
		return directVerdict(f.Owns(c.After.UserID), c.Op, holds.HasDevice(id)), ""

	case changefeed.NotificationChange:
		id := c.RowID()
		if c.Op == changefeed.OpDelete {
			if f.Owns(c.Before.UserID) || holds.HasNotification(id) {
				return Admit, ""
			}
			return Deny, ""
		}
		return directVerdict(f.Owns(c.After.UserID), c.Op, holds.HasNotification(id)), ""

	case changefeed.AlertChange:
		// 删除只影响已持有的报警
		if c.Op == changefeed.OpDelete {
			return heldVerdict(holds.HasAlert(c.RowID())), ""
		}
		held := c.Op == changefeed.OpUpdate && holds.HasAlert(c.RowID())
		return f.parentVerdict(c.After.DeviceID, held, holds)

	case changefeed.ReadingChange:
		if c.Op == changefeed.OpDelete {
			return heldVerdict(holds.HasReading(c.RowID())), ""
		}
		held := c.Op == changefeed.OpUpdate && holds.HasReading(c.RowID())
		return f.parentVerdict(c.After.DeviceID, held, holds)
	}
	return Deny, ""
}

func directVerdict(owned bool, op changefeed.Operation, held bool) Verdict {
	switch {
	case owned:
		return Admit
	case op == changefeed.OpUpdate && held:
		return Remove
	}
	return Deny
}

func heldVerdict(held bool) Verdict {
	if held {
		return Admit
	}
	return Deny
}

// denyOrRemove 拒绝一条变更；若它是对已持有行的更新，则该行需要移除
func denyOrRemove(heldUpdate bool) Verdict {
	if heldUpdate {
		return Remove
	}
	return Deny
}

// parentVerdict heldUpdate 表示该变更是对视图已持有行的 UPDATE
func (f *OwnershipFilter) parentVerdict(deviceID string, heldUpdate bool, holds Holdings) (Verdict, string) {
	if deviceID == "" {
		return denyOrRemove(heldUpdate), ""
	}
	// 快速路径：父设备在视图中即属于当前查看者
	if holds.HasDevice(deviceID) {
		metrics.IncOwnershipLookup("held")
		return Admit, ""
	}
	if owner, ok := f.cached(deviceID); ok {
		metrics.IncOwnershipLookup("cached")
		if f.Owns(owner) {
			return Admit, ""
		}
		return denyOrRemove(heldUpdate), ""
	}
	return NeedLookup, deviceID
}

// Resolve 执行点查询；可在任意 goroutine 调用，不读写缓存
func (f *OwnershipFilter) Resolve(ctx context.Context, deviceID string) (string, error) {
	owner, err := f.lookup.GetDeviceOwner(ctx, deviceID)
	switch {
	case err != nil:
		metrics.IncOwnershipLookup("error")
	case f.Owns(owner):
		metrics.IncOwnershipLookup("owned")
	default:
		metrics.IncOwnershipLookup("denied")
	}
	return owner, err
}

// Remember 缓存设备所有者
func (f *OwnershipFilter) Remember(deviceID, owner string) {
	if f.ttl <= 0 || deviceID == "" {
		return
	}
	f.cache[deviceID] = ownerEntry{owner: owner, expires: f.now().Add(f.ttl)}
}

// Forget 清除缓存
func (f *OwnershipFilter) Forget(deviceID string) {
	delete(f.cache, deviceID)
}

func (f *OwnershipFilter) cached(deviceID string) (string, bool) {
	e, ok := f.cache[deviceID]
	if !ok {
		return "", false
	}
	if f.now().After(e.expires) {
		delete(f.cache, deviceID)
		return "", false
	}
	return e.owner, true
}
