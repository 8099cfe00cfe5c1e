package changefeed

import (
	"context"

	"go.uber.org/zap"
)

// MemoryFeed 进程内变更流，用于开发模式与测试；Publish 同步分发
type MemoryFeed struct {
	*hub
}

// NewMemoryFeed 创建内存变更流
func NewMemoryFeed(logger *zap.Logger) *MemoryFeed {
	return &MemoryFeed{hub: newHub(logger)}
}

// Subscribe 订阅
func (f *MemoryFeed) Subscribe(ctx context.Context, scope Scope, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.hub.add(scope, handler)
}

// Publish 同步分发一条变更
func (f *MemoryFeed) Publish(ctx context.Context, raw RawChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.hub.mu.RLock()
	closed := f.hub.closed
	f.hub.mu.RUnlock()
	if closed {
		return ErrFeedClosed
	}
	f.hub.dispatch(raw)
	return nil
}

// Subscribers 某实体当前的订阅数
func (f *MemoryFeed) Subscribers(entity Entity) int {
	return f.hub.count(entity)
}

// Close 关闭后所有订阅失效
func (f *MemoryFeed) Close() error {
	f.hub.close()
	return nil
}
