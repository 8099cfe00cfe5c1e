package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	rediscommon "github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/redis"

	"github.com/go-redis/redis/v8"
)

// Publisher 向变更流写入一条变更（采集侧、联调工具与测试使用）
type Publisher interface {
	Publish(ctx context.Context, raw RawChange) error
}

// NewRawChange 由强类型行构造原始变更；before/after 为 nil 表示缺省
func NewRawChange(entity Entity, op Operation, before, after any) (RawChange, error) {
	raw := RawChange{
		Table:      entity.Table(),
		Operation:  string(op),
		CommitTime: time.Now().UTC(),
	}
	if before != nil {
		b, err := json.Marshal(before)
		if err != nil {
			return RawChange{}, fmt.Errorf("failed to marshal before image: %w", err)
		}
		raw.Old = b
	}
	if after != nil {
		b, err := json.Marshal(after)
		if err != nil {
			return RawChange{}, fmt.Errorf("failed to marshal after image: %w", err)
		}
		raw.New = b
	}
	return raw, nil
}

// RedisPublisher 写入 Redis Stream
type RedisPublisher struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher 创建 Redis Stream 发布器
func NewRedisPublisher(client *redis.Client, stream string, maxLen int64) *RedisPublisher {
	return &RedisPublisher{client: client, stream: stream, maxLen: maxLen}
}

// Publish 发布
func (p *RedisPublisher) Publish(ctx context.Context, raw RawChange) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, raw); err != nil {
		return fmt.Errorf("failed to publish change to stream %s: %w", p.stream, err)
	}
	return nil
}

// MQTTPublishClient MQTT 发布能力（由 common/mqtt.Client 实现）
type MQTTPublishClient interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTPublisher 发布到 {prefix}/{table}
type MQTTPublisher struct {
	client MQTTPublishClient
	prefix string
	qos    byte
}

// NewMQTTPublisher 创建 MQTT 发布器
func NewMQTTPublisher(client MQTTPublishClient, prefix string, qos byte) *MQTTPublisher {
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos}
}

// Publish 发布
func (p *MQTTPublisher) Publish(ctx context.Context, raw RawChange) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entity, err := ParseEntity(raw.Table)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	return p.client.Publish(TopicFor(p.prefix, entity), p.qos, false, payload)
}
