package changefeed

import (
	"context"
	"fmt"
	"sync"
	"time"

	rediscommon "github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/redis"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const transportRedis = "redis"

// RedisFeed 基于 Redis Streams 的变更流
// 使用 XREAD 广播读取（不建消费者组），每个服务实例都能看到全部变更
type RedisFeed struct {
	*hub
	client    *redis.Client
	stream    string
	batchSize int64
	block     time.Duration
	logger    *zap.Logger

	lastID string
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisFeed 创建 Redis Streams 变更流
func NewRedisFeed(client *redis.Client, stream string, logger *zap.Logger) *RedisFeed {
	return &RedisFeed{
		hub:       newHub(logger),
		client:    client,
		stream:    stream,
		batchSize: 100,
		block:     5 * time.Second,
		logger:    logger,
	}
}

// Start 从 stream 当前末尾开始读取（只关心启动之后的变更，历史由快照提供）
func (f *RedisFeed) Start(ctx context.Context) error {
	lastID, err := rediscommon.LatestStreamID(ctx, f.client, f.stream)
	if err != nil {
		return fmt.Errorf("failed to read stream tail: %w", err)
	}
	f.lastID = lastID

	ctx, f.cancel = context.WithCancel(ctx)
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ctx)
	}()

	f.logger.Info("Redis change feed started", zap.String("stream", f.stream), zap.String("from_id", lastID))
	return nil
}

func (f *RedisFeed) run(ctx context.Context) {
	// 指数退避
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := f.poll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.IncFeedError(transportRedis, "read")
			f.logger.Error("Failed to read change stream",
				zap.String("stream", f.stream),
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// poll 读取一批消息并分发
func (f *RedisFeed) poll(ctx context.Context) error {
	messages, err := rediscommon.TailStream(ctx, f.client, f.stream, f.lastID, f.batchSize, f.block)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		f.lastID = msg.ID
		data, ok := msg.Values["data"].(string)
		if !ok {
			metrics.IncFeedError(transportRedis, "decode")
			f.logger.Warn("Change message without data field", zap.String("message_id", msg.ID))
			continue
		}
		raw, err := ParseRawChange([]byte(data))
		if err != nil {
			metrics.IncFeedError(transportRedis, "decode")
			f.logger.Warn("Failed to decode change message", zap.String("message_id", msg.ID), zap.Error(err))
			continue
		}
		metrics.IncFeedEvent(transportRedis, raw.Table)
		f.hub.dispatch(raw)
	}
	return nil
}

// Subscribe 订阅
func (f *RedisFeed) Subscribe(ctx context.Context, scope Scope, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.hub.add(scope, handler)
}

// Close 停止读取；Redis 客户端由调用方关闭
func (f *RedisFeed) Close() error {
	f.hub.close()
	if f.cancel != nil {
		f.cancel()
	}
	f.wg.Wait()
	return nil
}
