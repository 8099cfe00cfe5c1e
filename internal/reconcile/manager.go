package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"

	"go.uber.org/zap"
)

// ErrManagerClosed 管理器已关闭
var ErrManagerClosed = errors.New("view manager closed")

// Manager 已挂载视图的注册表
type Manager struct {
	feed    changefeed.Feed
	source  SnapshotSource
	lookup  OwnerLookup
	actions ActionStore
	opts    Options
	logger  *zap.Logger

	mu     sync.RWMutex
	views  map[string]*View
	closed bool
}

// NewManager 创建视图管理器
func NewManager(feed changefeed.Feed, source SnapshotSource, lookup OwnerLookup, actions ActionStore, opts Options, logger *zap.Logger) *Manager {
	return &Manager{
		feed:    feed,
		source:  source,
		lookup:  lookup,
		actions: actions,
		opts:    opts.withDefaults(),
		logger:  logger,
		views:   make(map[string]*View),
	}
}

// Open 创建并挂载视图
// 快照失败时同时返回视图与 ErrSnapshotFailed：视图保持注册，调用方可 Retry 或 Close
func (m *Manager) Open(ctx context.Context, viewer auth.Viewer) (*View, error) {
	if viewer.UserID == "" {
		return nil, fmt.Errorf("viewer user_id is required")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	v := NewView(viewer, m.feed, m.source, m.lookup, m.opts, m.logger)
	v.onClose = m.forget
	m.views[v.ID()] = v
	m.mu.Unlock()

	if err := v.Mount(ctx); err != nil {
		if errors.Is(err, ErrSnapshotFailed) {
			return v, err
		}
		v.Close()
		return nil, err
	}
	m.logger.Info("View opened",
		zap.String("view_id", v.ID()),
		zap.String("user_id", viewer.UserID),
		zap.Bool("live", v.State().Live),
	)
	return v, nil
}

// Snapshot 一次性读取查看者的看板状态，不建立订阅
func (m *Manager) Snapshot(ctx context.Context, viewer auth.Viewer) (State, error) {
	snap, err := NewSnapshotLoader(m.source, m.opts, m.logger).Load(ctx, viewer)
	if err != nil {
		return State{}, err
	}
	return StateFromSnapshot(viewer, snap, m.opts), nil
}

// Get 按 id 获取视图
func (m *Manager) Get(id string) (*View, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.views[id]
	return v, ok
}

// Close 关闭指定视图
func (m *Manager) Close(id string) error {
	v, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("view %s: %w", id, ErrViewClosed)
	}
	v.Close()
	return nil
}

// CloseAll 关闭全部视图并拒绝新的 Open
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	views := make([]*View, 0, len(m.views))
	for _, v := range m.views {
		views = append(views, v)
	}
	m.mu.Unlock()

	for _, v := range views {
		v.Close()
	}
}

// Count 已挂载视图数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.views)
}

// Actions 查看者的操作入口
func (m *Manager) Actions(viewer auth.Viewer) *Actions {
	return NewActions(m.actions, viewer, m.logger)
}

func (m *Manager) forget(v *View) {
	m.mu.Lock()
	delete(m.views, v.ID())
	m.mu.Unlock()
}
