package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrFeedClosed 变更流已关闭
var ErrFeedClosed = errors.New("change feed closed")

// Handler 接收原始变更；在传输层的分发 goroutine 中同步调用，同一实体流内按提交顺序送达
type Handler func(raw RawChange)

// Subscription 一个传输层订阅
type Subscription interface {
	ID() string
	Scope() Scope
	Unsubscribe() error
}

// Feed 变更流传输层（Postgres LISTEN/NOTIFY、Redis Streams、MQTT、内存）
// 断线重连由各传输层自行处理
type Feed interface {
	Subscribe(ctx context.Context, scope Scope, handler Handler) (Subscription, error)
	Close() error
}

// Filter 行过滤表达式 column=eq.value，零值表示不过滤
type Filter struct {
	Column string
	Value  string
}

// ParseFilter 解析 "user_id=eq.abc"，空字符串返回零值
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	col, rest, ok := strings.Cut(expr, "=")
	if !ok || col == "" {
		return Filter{}, fmt.Errorf("invalid filter %q: expected column=eq.value", expr)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("invalid filter %q: only eq is supported", expr)
	}
	return Filter{Column: col, Value: value}, nil
}

// Eq 构造等值过滤
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// IsZero 是否为空过滤
func (f Filter) IsZero() bool { return f.Column == "" }

func (f Filter) String() string {
	if f.IsZero() {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

func (f Filter) matchRow(row map[string]any) bool {
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok {
		return s == f.Value
	}
	return fmt.Sprint(v) == f.Value
}

// Scope 订阅范围：实体 + 可选过滤
type Scope struct {
	Entity Entity
	Filter Filter
}

// Key 作为多路复用器中的去重键
func (s Scope) Key() string {
	if s.Filter.IsZero() {
		return string(s.Entity)
	}
	return string(s.Entity) + ":" + s.Filter.String()
}

func (s Scope) String() string { return s.Key() }

// matcher 对一条原始变更只解码一次行镜像
type matcher struct {
	raw      RawChange
	decoded  bool
	old, new map[string]any
}

// match 新旧镜像任意一个满足过滤即命中
// 设备被转移给其他用户时，原所有者仍会收到该 UPDATE（旧镜像命中），视图据此移除设备
func (m *matcher) match(f Filter) bool {
	if f.IsZero() {
		return true
	}
	if !m.decoded {
		m.decoded = true
		if present(m.raw.New) {
			_ = json.Unmarshal(m.raw.New, &m.new)
		}
		if present(m.raw.Old) {
			_ = json.Unmarshal(m.raw.Old, &m.old)
		}
	}
	return (m.new != nil && f.matchRow(m.new)) || (m.old != nil && f.matchRow(m.old))
}

// hub 传输层共用的本地分发器：一个底层连接，多个按 scope 过滤的订阅
type hub struct {
	mu     sync.RWMutex
	subs   map[string]*hubSubscription
	closed bool
	logger *zap.Logger
}

func newHub(logger *zap.Logger) *hub {
	return &hub{
		subs:   make(map[string]*hubSubscription),
		logger: logger,
	}
}

type hubSubscription struct {
	id      string
	scope   Scope
	handler Handler
	hub     *hub
}

func (s *hubSubscription) ID() string   { return s.id }
func (s *hubSubscription) Scope() Scope { return s.scope }

// Unsubscribe 幂等
func (s *hubSubscription) Unsubscribe() error {
	s.hub.remove(s.id)
	return nil
}

func (h *hub) add(scope Scope, handler Handler) (*hubSubscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	if _, err := ParseEntity(string(scope.Entity)); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrFeedClosed
	}
	sub := &hubSubscription{
		id:      uuid.New().String(),
		scope:   scope,
		handler: handler,
		hub:     h,
	}
	h.subs[sub.id] = sub
	return sub, nil
}

func (h *hub) remove(id string) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (h *hub) count(entity Entity) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, s := range h.subs {
		if s.scope.Entity == entity {
			n++
		}
	}
	return n
}

// dispatch 分发给所有匹配的订阅，返回送达数量
func (h *hub) dispatch(raw RawChange) int {
	entity, err := ParseEntity(raw.Table)
	if err != nil {
		h.logger.Debug("Dropping change for unknown table", zap.String("table", raw.Table))
		return 0
	}

	h.mu.RLock()
	targets := make([]*hubSubscription, 0, len(h.subs))
	for _, s := range h.subs {
		if s.scope.Entity == entity {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	m := &matcher{raw: raw}
	delivered := 0
	for _, s := range targets {
		if !m.match(s.scope.Filter) {
			continue
		}
		s.handler(raw)
		delivered++
	}
	return delivered
}

func (h *hub) close() {
	h.mu.Lock()
	h.closed = true
	h.subs = make(map[string]*hubSubscription)
	h.mu.Unlock()
}
