package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"

	"go.uber.org/zap"
)

// SummaryWriter 异步把视图摘要写入缓存
// 视图监听在事件循环中同步执行，这里只记录每个用户最新的摘要，由后台 goroutine 合并写入。
// 用户最后一个视图断开后摘要不再有人维护，删除缓存，其他服务读到 miss 即知道没有在线看板
type SummaryWriter struct {
	cache  *SummaryCache
	logger *zap.Logger

	mu     sync.Mutex
	latest map[string]reconcile.Summary
	evict  map[string]struct{}
	views  map[string]int
	wake   chan struct{}
}

// NewSummaryWriter 创建写入器
func NewSummaryWriter(cache *SummaryCache, logger *zap.Logger) *SummaryWriter {
	return &SummaryWriter{
		cache:  cache,
		logger: logger,
		latest: make(map[string]reconcile.Summary),
		evict:  make(map[string]struct{}),
		views:  make(map[string]int),
		wake:   make(chan struct{}, 1),
	}
}

// Attach 监听视图变化，返回注销函数（可重复调用）
func (w *SummaryWriter) Attach(v *reconcile.View) func() {
	userID := v.Viewer().UserID
	w.mu.Lock()
	w.views[userID]++
	w.mu.Unlock()

	var detached atomic.Bool
	unregister := v.OnChange(func(s reconcile.State) {
		if !detached.Load() {
			w.Offer(s)
		}
	})
	w.Offer(v.State())

	var once sync.Once
	return func() {
		once.Do(func() {
			detached.Store(true)
			unregister()
			w.release(userID)
		})
	}
}

// Views 用户当前挂接的视图数
func (w *SummaryWriter) Views(userID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.views[userID]
}

func (w *SummaryWriter) release(userID string) {
	w.mu.Lock()
	w.views[userID]--
	last := w.views[userID] <= 0
	if last {
		delete(w.views, userID)
		delete(w.latest, userID)
		w.evict[userID] = struct{}{}
	}
	w.mu.Unlock()

	if last {
		w.notify()
	}
}

// Offer 记录最新状态；非 ready 阶段忽略，不阻塞
func (w *SummaryWriter) Offer(s reconcile.State) {
	if s.Phase != reconcile.PhaseReady || s.UserID == "" {
		return
	}
	w.mu.Lock()
	w.latest[s.UserID] = s.Summary()
	delete(w.evict, s.UserID)
	w.mu.Unlock()
	w.notify()
}

func (w *SummaryWriter) notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run 写入循环，ctx 取消后写完剩余摘要再返回
func (w *SummaryWriter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.flush(context.Background())
			return
		case <-w.wake:
			w.flush(ctx)
		}
	}
}

func (w *SummaryWriter) flush(ctx context.Context) {
	w.mu.Lock()
	batch := w.latest
	w.latest = make(map[string]reconcile.Summary, len(batch))
	evict := w.evict
	w.evict = make(map[string]struct{})
	w.mu.Unlock()

	for _, s := range batch {
		if err := w.cache.Put(ctx, s); err != nil {
			w.logger.Warn("Failed to write dashboard summary",
				zap.String("user_id", s.UserID),
				zap.Error(err),
			)
		}
	}
	for userID := range evict {
		if err := w.cache.Invalidate(ctx, userID); err != nil {
			w.logger.Warn("Failed to invalidate dashboard summary",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}
