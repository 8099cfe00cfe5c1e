package service

import (
	"context"
	"fmt"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	mqttcommon "github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/mqtt"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/config"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// feedRuntime 选定的变更流及其启动、释放方式
type feedRuntime struct {
	transport string
	feed      changefeed.Feed
	start     func(ctx context.Context) error
	close     func() error
}

// newFeedRuntime 按 FEED_TRANSPORT 创建变更流
func newFeedRuntime(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (*feedRuntime, error) {
	logger = logger.With(zap.String("transport", cfg.Feed.Transport))

	switch cfg.Feed.Transport {
	case config.TransportPostgres:
		feed, err := changefeed.NewPostgresFeed(&cfg.Database, cfg.Feed.Channel, cfg.Feed.Listener, logger)
		if err != nil {
			return nil, err
		}
		return &feedRuntime{
			transport: cfg.Feed.Transport,
			feed:      feed,
			start: func(ctx context.Context) error {
				feed.Start(ctx)
				return nil
			},
			close: feed.Close,
		}, nil

	case config.TransportRedis:
		if redisClient == nil {
			return nil, fmt.Errorf("redis transport requires a redis client")
		}
		feed := changefeed.NewRedisFeed(redisClient, cfg.Feed.Stream, logger)
		return &feedRuntime{transport: cfg.Feed.Transport, feed: feed, start: feed.Start, close: feed.Close}, nil

	case config.TransportMQTT:
		client, err := mqttcommon.NewClient(&cfg.MQTT, logger)
		if err != nil {
			return nil, err
		}
		feed := changefeed.NewMQTTFeed(client, cfg.Feed.TopicPrefix, cfg.MQTT.QoS, logger)
		return &feedRuntime{
			transport: cfg.Feed.Transport,
			feed:      feed,
			start:     feed.Start,
			close: func() error {
				err := feed.Close()
				client.Disconnect()
				return err
			},
		}, nil

	case config.TransportMemory:
		// 本地开发：只分发进程内发布的变更
		feed := changefeed.NewMemoryFeed(logger)
		return &feedRuntime{
			transport: cfg.Feed.Transport,
			feed:      feed,
			start:     func(context.Context) error { return nil },
			close:     feed.Close,
		}, nil
	}
	return nil, fmt.Errorf("unsupported feed transport: %s", cfg.Feed.Transport)
}
