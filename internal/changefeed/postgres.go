package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/config"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

const transportPostgres = "postgres"

// PostgresFeed 基于 LISTEN/NOTIFY 的变更流
// 表上的触发器（见 NotifyTriggerSQL）把每行变更以 RawChange JSON 发到同一个频道
type PostgresFeed struct {
	*hub
	listener     *pq.Listener
	notify       <-chan *pq.Notification
	channel      string
	pingInterval time.Duration
	logger       *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresFeed 创建并开始监听频道；断线重连由 pq.Listener 负责
func NewPostgresFeed(db *config.DatabaseConfig, channel string, lc config.ListenerConfig, logger *zap.Logger) (*PostgresFeed, error) {
	if channel == "" {
		return nil, fmt.Errorf("notify channel is required")
	}
	if lc.MinReconnect <= 0 {
		lc.MinReconnect = 10 * time.Second
	}
	if lc.MaxReconnect < lc.MinReconnect {
		lc.MaxReconnect = lc.MinReconnect
	}
	if lc.PingInterval <= 0 {
		lc.PingInterval = 90 * time.Second
	}

	listener := pq.NewListener(db.GetDSN(), lc.MinReconnect, lc.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		switch ev {
		case pq.ListenerEventConnected:
			logger.Info("Change feed listener connected", zap.String("channel", channel))
		case pq.ListenerEventDisconnected:
			metrics.IncFeedError(transportPostgres, "disconnected")
			logger.Warn("Change feed listener disconnected", zap.String("channel", channel), zap.Error(err))
		case pq.ListenerEventReconnected:
			logger.Info("Change feed listener reconnected", zap.String("channel", channel))
		case pq.ListenerEventConnectionAttemptFailed:
			metrics.IncFeedError(transportPostgres, "connect_failed")
			logger.Warn("Change feed listener connection attempt failed", zap.Error(err))
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on channel %s: %w", channel, err)
	}

	return &PostgresFeed{
		hub:          newHub(logger),
		listener:     listener,
		notify:       listener.Notify,
		channel:      channel,
		pingInterval: lc.PingInterval,
		logger:       logger,
	}, nil
}

// Start 启动通知分发循环
func (f *PostgresFeed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()
}

func (f *PostgresFeed) run(ctx context.Context) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-f.notify:
			if !ok {
				return
			}
			f.handleNotification(n)
		case <-ticker.C:
			go func() {
				if err := f.listener.Ping(); err != nil {
					f.logger.Warn("Change feed listener ping failed", zap.Error(err))
				}
			}()
		}
	}
}

// handleNotification 处理一条通知，返回收到变更的订阅数
func (f *PostgresFeed) handleNotification(n *pq.Notification) int {
	if n == nil {
		// 重连后收到 nil：断线期间的通知已丢失，视图可通过重新加载快照恢复
		metrics.IncFeedError(transportPostgres, "reconnected")
		f.logger.Warn("Change feed connection re-established, notifications may have been lost",
			zap.String("channel", f.channel))
		return 0
	}
	return f.handlePayload([]byte(n.Extra))
}

// handlePayload 解码并分发，返回收到变更的订阅数
func (f *PostgresFeed) handlePayload(payload []byte) int {
	raw, err := ParseRawChange(payload)
	if err != nil {
		metrics.IncFeedError(transportPostgres, "decode")
		f.logger.Warn("Failed to decode change notification", zap.Error(err))
		return 0
	}
	metrics.IncFeedEvent(transportPostgres, raw.Table)
	return f.hub.dispatch(raw)
}

// Subscribe 订阅（本地过滤，所有表共用一个 LISTEN 连接）
func (f *PostgresFeed) Subscribe(ctx context.Context, scope Scope, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.hub.add(scope, handler)
}

// Close 停止分发并关闭监听连接
func (f *PostgresFeed) Close() error {
	f.hub.close()
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return f.listener.Close()
}

// NotifyTriggerSQL 生成把 devices / alerts / readings / notifications 行变更发到 channel 的触发器 SQL
// 仅供运维手工执行，服务启动时不会自动应用
func NotifyTriggerSQL(channel string) string {
	sql := fmt.Sprintf(`CREATE OR REPLACE FUNCTION notify_iot_change() RETURNS trigger AS $$
BEGIN
  PERFORM pg_notify('%s', jsonb_build_object(
    'table', TG_TABLE_NAME,
    'type', TG_OP,
    'record', CASE WHEN TG_OP = 'DELETE' THEN NULL ELSE to_jsonb(NEW) END,
    'old_record', CASE WHEN TG_OP = 'INSERT' THEN NULL ELSE to_jsonb(OLD) END,
    'commit_timestamp', now()
  )::text);
  RETURN NULL;
END;
$$ LANGUAGE plpgsql;
`, channel)
	for _, e := range Entities {
		sql += fmt.Sprintf(`
DROP TRIGGER IF EXISTS %[1]s_notify_change ON %[1]s;
CREATE TRIGGER %[1]s_notify_change AFTER INSERT OR UPDATE OR DELETE ON %[1]s
  FOR EACH ROW EXECUTE FUNCTION notify_iot_change();
`, e.Table())
	}
	return sql
}
