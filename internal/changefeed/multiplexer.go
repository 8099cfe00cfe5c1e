package changefeed

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Multiplexer 每个视图根一个：同一 scope 只建立一个传输层订阅，再扇出给多个 sink
// 同一 scope + sinkID 重复订阅是幂等的，不会产生重复事件
type Multiplexer struct {
	feed   Feed
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*muxEntry
	closed  bool
}

type muxEntry struct {
	scope Scope
	sub   Subscription
	mu    sync.RWMutex
	sinks map[string]Handler
}

func (e *muxEntry) deliver(raw RawChange) {
	e.mu.RLock()
	sinks := make([]Handler, 0, len(e.sinks))
	for _, h := range e.sinks {
		sinks = append(sinks, h)
	}
	e.mu.RUnlock()
	for _, h := range sinks {
		h(raw)
	}
}

// NewMultiplexer 创建多路复用器
func NewMultiplexer(feed Feed, logger *zap.Logger) *Multiplexer {
	return &Multiplexer{
		feed:    feed,
		logger:  logger,
		entries: make(map[string]*muxEntry),
	}
}

// Subscribe 为 sink 注册 scope；首个 sink 建立传输层订阅
func (m *Multiplexer) Subscribe(ctx context.Context, scope Scope, sinkID string, handler Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrFeedClosed
	}

	key := scope.Key()
	if e, ok := m.entries[key]; ok {
		e.mu.Lock()
		e.sinks[sinkID] = handler
		e.mu.Unlock()
		return nil
	}

	e := &muxEntry{scope: scope, sinks: map[string]Handler{sinkID: handler}}
	sub, err := m.feed.Subscribe(ctx, scope, e.deliver)
	if err != nil {
		return fmt.Errorf("failed to subscribe %s: %w", key, err)
	}
	e.sub = sub
	m.entries[key] = e
	m.logger.Debug("Subscribed to change feed", zap.String("scope", key), zap.String("subscription_id", sub.ID()))
	return nil
}

// Release 注销 sink；最后一个 sink 离开时取消传输层订阅
func (m *Multiplexer) Release(scope Scope, sinkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := scope.Key()
	e, ok := m.entries[key]
	if !ok {
		return nil
	}
	e.mu.Lock()
	delete(e.sinks, sinkID)
	empty := len(e.sinks) == 0
	e.mu.Unlock()
	if !empty {
		return nil
	}
	delete(m.entries, key)
	if err := e.sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe %s: %w", key, err)
	}
	return nil
}

// Active 当前传输层订阅数
func (m *Multiplexer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close 取消全部订阅；可重复调用
func (m *Multiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	var firstErr error
	for key, e := range m.entries {
		if err := e.sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to unsubscribe %s: %w", key, err)
		}
		delete(m.entries, key)
	}
	return firstErr
}
