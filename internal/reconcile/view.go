package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	logpkg "github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/logger"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrViewClosed 视图已关闭
var ErrViewClosed = errors.New("view closed")

// Options 视图参数
type Options struct {
	ReadingsLimit      int           // 每个 (设备, 类型) 窗口上限
	NotificationsLimit int           // 0 表示不限
	SnapshotDeviceCap  int           // 快照只为前 N 台设备加载读数
	InboxSize          int           // 事件队列容量
	OwnerCacheTTL      time.Duration // 父设备所有者缓存，0 表示每次都查询
	LookupTimeout      time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		ReadingsLimit:      50,
		NotificationsLimit: 50,
		SnapshotDeviceCap:  5,
		InboxSize:          256,
		OwnerCacheTTL:      30 * time.Second,
		LookupTimeout:      5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ReadingsLimit <= 0 {
		o.ReadingsLimit = d.ReadingsLimit
	}
	if o.NotificationsLimit < 0 {
		o.NotificationsLimit = 0
	}
	if o.SnapshotDeviceCap < 0 {
		o.SnapshotDeviceCap = d.SnapshotDeviceCap
	}
	if o.InboxSize <= 0 {
		o.InboxSize = d.InboxSize
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = d.LookupTimeout
	}
	return o
}

// 事件循环中的消息
type (
	rawItem struct {
		raw changefeed.RawChange
	}
	lookupItem struct {
		gen      uint64
		deviceID string
		owner    string
		err      error
	}
	callItem struct {
		fn   func()
		done chan struct{}
	}
)

// View 一个已挂载视图的实时状态
// 所有集合只在事件循环 goroutine 中修改；读取方通过 State() 拿到发布时的副本
type View struct {
	id     string
	viewer auth.Viewer
	opts   Options
	mux    *changefeed.Multiplexer
	loader *SnapshotLoader
	filter *OwnershipFilter
	logger *zap.Logger

	ctx      context.Context // 关闭时取消，在途查询随之中止
	cancel   context.CancelFunc
	inbox    chan any
	done     chan struct{}
	loopDone chan struct{}
	alive    atomic.Bool

	// 事件循环私有
	devices       *BoundedList[models.Device]
	alerts        *BoundedList[models.Alert]
	readings      *ReadingWindows
	notifications *BoundedList[models.Notification]
	pending       map[string][]changefeed.Change // 等待父设备查询结果的变更，按到达顺序
	gen           uint64
	phase         Phase
	live          bool
	degraded      string
	loadErr       error

	mu        sync.RWMutex
	state     State
	listeners map[int]func(State)
	nextID    int

	mountMu   sync.Mutex
	closeOnce sync.Once
	onClose   func(*View)
}

// NewView 创建视图并启动事件循环；调用 Mount 加载快照并订阅
func NewView(viewer auth.Viewer, feed changefeed.Feed, source SnapshotSource, lookup OwnerLookup, opts Options, logger *zap.Logger) *View {
	opts = opts.withDefaults()
	id := uuid.New().String()
	logger = logpkg.ForView(logger, id, viewer.UserID)

	ctx, cancel := context.WithCancel(context.Background())
	v := &View{
		id:            id,
		viewer:        viewer,
		opts:          opts,
		mux:           changefeed.NewMultiplexer(feed, logger),
		loader:        NewSnapshotLoader(source, opts, logger),
		filter:        NewOwnershipFilter(viewer, lookup, opts.OwnerCacheTTL),
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		inbox:         make(chan any, opts.InboxSize),
		done:          make(chan struct{}),
		loopDone:      make(chan struct{}),
		devices:       NewBoundedList(0, deviceKey),
		alerts:        NewBoundedList(0, alertKey),
		readings:      NewReadingWindows(opts.ReadingsLimit),
		notifications: NewBoundedList(opts.NotificationsLimit, notificationKey),
		pending:       make(map[string][]changefeed.Change),
		phase:         PhaseLoading,
		listeners:     make(map[int]func(State)),
	}
	v.alive.Store(true)
	v.state = v.buildState()

	go v.run()
	metrics.AddActiveViews(1)
	return v
}

// ID 视图 id
func (v *View) ID() string { return v.id }

// Viewer 视图所属查看者
func (v *View) Viewer() auth.Viewer { return v.viewer }

// State 当前状态副本
func (v *View) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// OnChange 注册状态监听；在事件循环中同步调用，监听方不得阻塞。返回注销函数
func (v *View) OnChange(fn func(State)) func() {
	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.listeners[id] = fn
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		delete(v.listeners, id)
		v.mu.Unlock()
	}
}

// Mount 先加载快照，再订阅四个实体流
// 快照失败返回 ErrSnapshotFailed，视图进入 failed 阶段且不订阅；订阅失败只进入降级模式，不返回错误
func (v *View) Mount(ctx context.Context) error {
	v.mountMu.Lock()
	defer v.mountMu.Unlock()
	if !v.alive.Load() {
		return ErrViewClosed
	}

	snap, err := v.loader.Load(ctx, v.viewer)
	if err != nil {
		v.logger.Error("Failed to load snapshot", zap.Error(err))
		if callErr := v.call(func() {
			v.phase = PhaseFailed
			v.loadErr = err
			v.publish()
		}); callErr != nil {
			return callErr
		}
		return err
	}

	// 快照先入队，之后订阅到的事件都排在它后面
	if err := v.call(func() { v.seed(snap) }); err != nil {
		return err
	}

	scopes := v.scopes()
	var subErr error
	for _, scope := range scopes {
		if err := v.mux.Subscribe(ctx, scope, v.id, v.deliver); err != nil {
			subErr = err
			break
		}
	}
	if subErr != nil {
		// 降级：释放已建立的订阅，保留快照
		v.releaseAll(scopes)
		v.logger.Warn("Change feed subscription failed, view is not live", zap.Error(subErr))
		return v.call(func() {
			if v.degraded == "" {
				metrics.AddDegradedViews(1)
			}
			v.live = false
			v.degraded = subErr.Error()
			v.publish()
		})
	}

	return v.call(func() {
		if v.degraded != "" {
			metrics.AddDegradedViews(-1)
		}
		v.live = true
		v.degraded = ""
		v.publish()
	})
}

// Retry 手动重试：释放订阅、重新加载快照并重新订阅
func (v *View) Retry(ctx context.Context) error {
	if !v.alive.Load() {
		return ErrViewClosed
	}
	v.releaseAll(v.scopes())
	if err := v.call(func() {
		v.live = false
		v.phase = PhaseLoading
		v.loadErr = nil
		v.publish()
	}); err != nil {
		return err
	}
	return v.Mount(ctx)
}

// Close 取消全部订阅并停止事件循环；可重复调用，任何退出路径都应调用
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.alive.Store(false)
		v.cancel()
		close(v.done)
		if err := v.mux.Close(); err != nil {
			v.logger.Warn("Failed to release subscriptions", zap.Error(err))
		}
		<-v.loopDone

		v.mu.Lock()
		if v.state.Degraded != "" {
			metrics.AddDegradedViews(-1)
		}
		v.state.Phase = PhaseClosed
		v.state.Live = false
		v.state.UpdatedAt = time.Now()
		v.listeners = make(map[int]func(State))
		v.mu.Unlock()

		metrics.AddActiveViews(-1)
		if v.onClose != nil {
			v.onClose(v)
		}
		v.logger.Debug("View closed")
	})
}

// Done 视图关闭时关闭的 channel
func (v *View) Done() <-chan struct{} { return v.done }

// Subscriptions 当前传输层订阅数
func (v *View) Subscriptions() int { return v.mux.Active() }

func (v *View) scopes() []changefeed.Scope {
	return []changefeed.Scope{
		{Entity: changefeed.EntityDevice, Filter: changefeed.Eq("user_id", v.viewer.UserID)},
		{Entity: changefeed.EntityAlert},
		{Entity: changefeed.EntityReading},
		{Entity: changefeed.EntityNotification, Filter: changefeed.Eq("user_id", v.viewer.UserID)},
	}
}

func (v *View) releaseAll(scopes []changefeed.Scope) {
	for _, scope := range scopes {
		if err := v.mux.Release(scope, v.id); err != nil {
			v.logger.Warn("Failed to release subscription", zap.String("scope", scope.Key()), zap.Error(err))
		}
	}
}

// deliver 传输层回调：入队，队列满时阻塞（对传输层形成背压），视图关闭后直接丢弃
func (v *View) deliver(raw changefeed.RawChange) {
	if !v.alive.Load() {
		metrics.IncChangeDropped(raw.Table, metrics.DropViewClosed)
		return
	}
	select {
	case v.inbox <- rawItem{raw: raw}:
	case <-v.done:
		metrics.IncChangeDropped(raw.Table, metrics.DropViewClosed)
	}
}

// call 在事件循环中同步执行 fn
func (v *View) call(fn func()) error {
	item := callItem{fn: fn, done: make(chan struct{})}
	select {
	case v.inbox <- item:
	case <-v.done:
		return ErrViewClosed
	}
	select {
	case <-item.done:
		return nil
	case <-v.done:
		return ErrViewClosed
	}
}

func (v *View) run() {
	defer close(v.loopDone)
	for {
		select {
		case <-v.done:
			return
		case item := <-v.inbox:
			// 关闭之后到达的查询结果、事件一律丢弃
			if !v.alive.Load() {
				return
			}
			v.handle(item)
		}
	}
}

func (v *View) handle(item any) {
	switch it := item.(type) {
	case rawItem:
		v.process(it.raw)
	case lookupItem:
		v.resolved(it)
	case callItem:
		it.fn()
		close(it.done)
	}
}

// seed 用快照重建集合；丢弃上一轮在途查询
func (v *View) seed(snap *Snapshot) {
	v.gen++
	v.pending = make(map[string][]changefeed.Change)
	v.devices.Reset(snap.Devices)
	v.alerts.Reset(snap.Alerts)
	v.readings.Reset(snap.Readings)
	v.notifications.Reset(snap.Notifications)
	v.phase = PhaseReady
	v.loadErr = nil
	v.publish()
}

func (v *View) process(raw changefeed.RawChange) {
	ch, err := changefeed.Normalize(raw)
	if err != nil {
		metrics.IncChangeDropped(raw.Table, metrics.DropNormalize)
		v.logger.Warn("Dropping malformed change",
			zap.String("table", raw.Table),
			zap.String("operation", raw.Operation),
			zap.Error(err),
		)
		return
	}
	v.admit(ch)
}

func (v *View) admit(ch changefeed.Change) {
	// 同一设备已有查询在途时排队，保持该设备事件的到达顺序
	if deviceID := parentDeviceID(ch); deviceID != "" {
		if q, ok := v.pending[deviceID]; ok {
			v.pending[deviceID] = append(q, ch)
			return
		}
	}

	verdict, deviceID := v.filter.Check(ch, viewHoldings{v})
	switch verdict {
	case Admit:
		v.apply(ch)
	case Remove:
		v.removeRow(ch)
	case NeedLookup:
		v.pending[deviceID] = []changefeed.Change{ch}
		v.startLookup(deviceID)
	default:
		metrics.IncChangeDropped(string(ch.Entity()), metrics.DropNotOwned)
	}
}

func (v *View) startLookup(deviceID string) {
	gen := v.gen
	go func() {
		ctx, cancel := context.WithTimeout(v.ctx, v.opts.LookupTimeout)
		defer cancel()
		owner, err := v.filter.Resolve(ctx, deviceID)

		item := lookupItem{gen: gen, deviceID: deviceID, owner: owner, err: err}
		if !v.alive.Load() {
			return
		}
		select {
		case v.inbox <- item:
		case <-v.done:
		}
	}()
}

// resolved 父设备查询完成：依次处理排队的变更
func (v *View) resolved(it lookupItem) {
	if it.gen != v.gen {
		return
	}
	queue := v.pending[it.deviceID]
	delete(v.pending, it.deviceID)

	if it.err != nil {
		// 查询失败按拒绝处理，下次重新加载快照即可恢复
		v.logger.Warn("Owner lookup failed, dropping changes",
			zap.String("device_id", it.deviceID),
			zap.Int("changes", len(queue)),
			zap.Error(it.err),
		)
		for _, ch := range queue {
			metrics.IncChangeDropped(string(ch.Entity()), metrics.DropLookupError)
		}
		return
	}

	v.filter.Remember(it.deviceID, it.owner)
	if !v.filter.Owns(it.owner) {
		for _, ch := range queue {
			// 已持有的行被移到他人设备上
			if ch.Operation() == changefeed.OpUpdate && v.holds(ch) {
				v.removeRow(ch)
				continue
			}
			metrics.IncChangeDropped(string(ch.Entity()), metrics.DropNotOwned)
		}
		return
	}
	for _, ch := range queue {
		v.apply(ch)
	}
}

func (v *View) apply(ch changefeed.Change) {
	changed := false
	switch c := ch.(type) {
	case changefeed.DeviceChange:
		changed = v.devices.Apply(c.Op, c.Before, c.After)
		if c.Op == changefeed.OpDelete {
			v.dropDeviceRows(c.RowID())
		}
	case changefeed.AlertChange:
		changed = v.alerts.Apply(c.Op, c.Before, c.After)
	case changefeed.ReadingChange:
		changed = v.readings.Apply(c.Op, c.Before, c.After)
	case changefeed.NotificationChange:
		changed = v.notifications.Apply(c.Op, c.Before, c.After)
	}
	if !changed {
		return
	}
	metrics.IncChangeApplied(string(ch.Entity()), string(ch.Operation()))
	v.publish()
}

// removeRow 已持有的行离开了可见范围
func (v *View) removeRow(ch changefeed.Change) {
	id := ch.RowID()
	switch ch.(type) {
	case changefeed.DeviceChange:
		v.devices.Delete(id)
		v.dropDeviceRows(id)
	case changefeed.NotificationChange:
		v.notifications.Delete(id)
	case changefeed.AlertChange:
		v.alerts.Delete(id)
	case changefeed.ReadingChange:
		v.readings.Delete(id)
	default:
		return
	}
	metrics.IncChangeApplied(string(ch.Entity()), "REMOVE")
	v.publish()
}

// dropDeviceRows 设备离开可见范围后，其报警与读数也不再可见
func (v *View) dropDeviceRows(deviceID string) {
	v.alerts.RemoveWhere(func(a models.Alert) bool { return a.DeviceID == deviceID })
	v.readings.DropDevice(deviceID)
}

func parentDeviceID(ch changefeed.Change) string {
	switch c := ch.(type) {
	case changefeed.AlertChange:
		if r := c.Current(); r != nil {
			return r.DeviceID
		}
	case changefeed.ReadingChange:
		if r := c.Current(); r != nil {
			return r.DeviceID
		}
	}
	return ""
}

// holds 视图是否持有该变更对应的行
func (v *View) holds(ch changefeed.Change) bool {
	id := ch.RowID()
	switch ch.(type) {
	case changefeed.DeviceChange:
		return v.devices.Contains(id)
	case changefeed.AlertChange:
		return v.alerts.Contains(id)
	case changefeed.ReadingChange:
		return v.readings.Contains(id)
	case changefeed.NotificationChange:
		return v.notifications.Contains(id)
	}
	return false
}

// viewHoldings 只能在事件循环中使用
type viewHoldings struct{ v *View }

func (h viewHoldings) HasDevice(id string) bool       { return h.v.devices.Contains(id) }
func (h viewHoldings) HasAlert(id string) bool        { return h.v.alerts.Contains(id) }
func (h viewHoldings) HasReading(id string) bool      { return h.v.readings.Contains(id) }
func (h viewHoldings) HasNotification(id string) bool { return h.v.notifications.Contains(id) }

func (v *View) buildState() State {
	devices := v.devices.Items()
	alerts := v.alerts.Items()
	notifications := v.notifications.Items()

	s := State{
		ViewID:              v.id,
		UserID:              v.viewer.UserID,
		Devices:             devices,
		Alerts:              alerts,
		Readings:            v.readings.Snapshot(),
		Notifications:       notifications,
		DeviceStatusCounts:  DeviceStatusHistogram(devices),
		AlertSeverityCounts: AlertSeverityHistogram(alerts),
		OpenAlerts:          OpenAlertCount(alerts),
		UnreadNotifications: UnreadCount(notifications),
		Phase:               v.phase,
		Live:                v.live,
		Degraded:            v.degraded,
		UpdatedAt:           time.Now(),
	}
	if v.loadErr != nil {
		s.LoadError = v.loadErr.Error()
	}
	return s
}

// publish 重算聚合并通知监听方
func (v *View) publish() {
	s := v.buildState()

	v.mu.Lock()
	v.state = s
	listeners := make([]func(State), 0, len(v.listeners))
	for _, fn := range v.listeners {
		listeners = append(listeners, fn)
	}
	v.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

func (v *View) String() string {
	return fmt.Sprintf("view(%s, user=%s)", v.id, v.viewer.UserID)
}
