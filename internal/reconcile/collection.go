package reconcile

import (
	"sort"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"
)

// BoundedList 按 id upsert 的有序集合，最新在前；limit <= 0 表示不限长度
// 乱序事件（先 UPDATE 后 INSERT、删除不存在的元素）都按 upsert 语义处理，不会 panic
type BoundedList[T any] struct {
	items []T
	limit int
	key   func(T) string
}

// NewBoundedList 创建集合
func NewBoundedList[T any](limit int, key func(T) string) *BoundedList[T] {
	return &BoundedList[T]{limit: limit, key: key}
}

// Insert 放到最前；已存在同 id 的元素先移除，超出上限截断尾部
func (l *BoundedList[T]) Insert(item T) {
	l.remove(l.key(item))
	l.items = append(l.items, item)
	copy(l.items[1:], l.items[:len(l.items)-1])
	l.items[0] = item
	l.truncate()
}

// Update 原位替换；不存在时退化为 Insert
func (l *BoundedList[T]) Update(item T) {
	if i := l.index(l.key(item)); i >= 0 {
		l.items[i] = item
		return
	}
	l.Insert(item)
}

// Delete 按 id 删除，不存在返回 false
func (l *BoundedList[T]) Delete(id string) bool {
	return l.remove(id)
}

// Apply 应用一次行级变更，返回集合是否可能变化
func (l *BoundedList[T]) Apply(op changefeed.Operation, before, after *T) bool {
	switch op {
	case changefeed.OpInsert:
		if after == nil {
			return false
		}
		l.Insert(*after)
	case changefeed.OpUpdate:
		if after == nil {
			return false
		}
		l.Update(*after)
	case changefeed.OpDelete:
		if before == nil {
			return false
		}
		return l.Delete(l.key(*before))
	default:
		return false
	}
	return true
}

// Reset 用快照整体替换（保持给定顺序）
func (l *BoundedList[T]) Reset(items []T) {
	l.items = l.items[:0]
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		k := l.key(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		l.items = append(l.items, it)
	}
	l.truncate()
}

// RemoveWhere 删除满足条件的元素，返回删除数量
func (l *BoundedList[T]) RemoveWhere(pred func(T) bool) int {
	kept := l.items[:0]
	for _, it := range l.items {
		if !pred(it) {
			kept = append(kept, it)
		}
	}
	removed := len(l.items) - len(kept)
	var zero T
	for i := len(kept); i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = kept
	return removed
}

// Contains 是否包含 id
func (l *BoundedList[T]) Contains(id string) bool {
	return l.index(id) >= 0
}

// Get 按 id 查找
func (l *BoundedList[T]) Get(id string) (T, bool) {
	if i := l.index(id); i >= 0 {
		return l.items[i], true
	}
	var zero T
	return zero, false
}

// Len 元素个数
func (l *BoundedList[T]) Len() int { return len(l.items) }

// Items 返回副本
func (l *BoundedList[T]) Items() []T {
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *BoundedList[T]) index(id string) int {
	for i := range l.items {
		if l.key(l.items[i]) == id {
			return i
		}
	}
	return -1
}

func (l *BoundedList[T]) remove(id string) bool {
	i := l.index(id)
	if i < 0 {
		return false
	}
	copy(l.items[i:], l.items[i+1:])
	var zero T
	l.items[len(l.items)-1] = zero
	l.items = l.items[:len(l.items)-1]
	return true
}

func (l *BoundedList[T]) truncate() {
	if l.limit <= 0 || len(l.items) <= l.limit {
		return
	}
	var zero T
	for i := l.limit; i < len(l.items); i++ {
		l.items[i] = zero
	}
	l.items = l.items[:l.limit]
}

func deviceKey(d models.Device) string             { return d.ID }
func alertKey(a models.Alert) string               { return a.ID }
func readingKey(r models.Reading) string           { return r.ID }
func notificationKey(n models.Notification) string { return n.ID }

// ReadingWindows 每个 (device_id, type) 一个有界读数窗口
type ReadingWindows struct {
	limit   int
	windows map[string]map[string]*BoundedList[models.Reading]
}

// NewReadingWindows 创建读数窗口，limit 为每个窗口的上限
func NewReadingWindows(limit int) *ReadingWindows {
	return &ReadingWindows{
		limit:   limit,
		windows: make(map[string]map[string]*BoundedList[models.Reading]),
	}
}

func (w *ReadingWindows) window(deviceID, typ string, create bool) *BoundedList[models.Reading] {
	byType, ok := w.windows[deviceID]
	if !ok {
		if !create {
			return nil
		}
		byType = make(map[string]*BoundedList[models.Reading])
		w.windows[deviceID] = byType
	}
	l, ok := byType[typ]
	if !ok {
		if !create {
			return nil
		}
		l = NewBoundedList(w.limit, readingKey)
		byType[typ] = l
	}
	return l
}

// Apply 应用读数变更
func (w *ReadingWindows) Apply(op changefeed.Operation, before, after *models.Reading) bool {
	switch op {
	case changefeed.OpInsert, changefeed.OpUpdate:
		if after == nil {
			return false
		}
		// 设备或类型被改写：先从旧窗口移除
		if op == changefeed.OpUpdate && before != nil &&
			(before.DeviceID != after.DeviceID || before.Type != after.Type) {
			w.remove(before.DeviceID, before.Type, before.ID)
		}
		return w.window(after.DeviceID, after.Type, true).Apply(op, before, after)
	case changefeed.OpDelete:
		if before == nil {
			return false
		}
		if before.DeviceID == "" || before.Type == "" {
			return w.removeAnywhere(before.ID)
		}
		return w.remove(before.DeviceID, before.Type, before.ID)
	}
	return false
}

func (w *ReadingWindows) remove(deviceID, typ, id string) bool {
	l := w.window(deviceID, typ, false)
	if l == nil || !l.Delete(id) {
		return false
	}
	if l.Len() == 0 {
		delete(w.windows[deviceID], typ)
		if len(w.windows[deviceID]) == 0 {
			delete(w.windows, deviceID)
		}
	}
	return true
}

// Delete 按 id 删除读数，不论所在窗口
func (w *ReadingWindows) Delete(id string) bool {
	return w.removeAnywhere(id)
}

// removeAnywhere 旧镜像只带 id 时按 id 全量查找
func (w *ReadingWindows) removeAnywhere(id string) bool {
	for deviceID, byType := range w.windows {
		for typ, l := range byType {
			if l.Contains(id) {
				return w.remove(deviceID, typ, id)
			}
		}
	}
	return false
}

// Contains 是否持有该读数
func (w *ReadingWindows) Contains(id string) bool {
	for _, byType := range w.windows {
		for _, l := range byType {
			if l.Contains(id) {
				return true
			}
		}
	}
	return false
}

// Reset 用快照读数重建窗口；每个窗口按时间倒序
func (w *ReadingWindows) Reset(readings []models.Reading) {
	w.windows = make(map[string]map[string]*BoundedList[models.Reading])
	grouped := make(map[[2]string][]models.Reading)
	var order [][2]string
	for _, r := range readings {
		k := [2]string{r.DeviceID, r.Type}
		if _, ok := grouped[k]; !ok {
			order = append(order, k)
		}
		grouped[k] = append(grouped[k], r)
	}
	for _, k := range order {
		group := grouped[k]
		sort.SliceStable(group, func(i, j int) bool { return group[i].Timestamp.After(group[j].Timestamp) })
		w.window(k[0], k[1], true).Reset(group)
	}
}

// DropDevice 删除设备的全部读数窗口
func (w *ReadingWindows) DropDevice(deviceID string) bool {
	if _, ok := w.windows[deviceID]; !ok {
		return false
	}
	delete(w.windows, deviceID)
	return true
}

// Snapshot 返回 device -> type -> readings 的副本
func (w *ReadingWindows) Snapshot() map[string]map[string][]models.Reading {
	out := make(map[string]map[string][]models.Reading, len(w.windows))
	for deviceID, byType := range w.windows {
		m := make(map[string][]models.Reading, len(byType))
		for typ, l := range byType {
			m[typ] = l.Items()
		}
		out[deviceID] = m
	}
	return out
}
