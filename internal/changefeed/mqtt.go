package changefeed

import (
	"context"
	"fmt"
	"strings"

	mqttcommon "github.com/xMartinezYT/PlataformaIoT-sub000/internal/common/mqtt"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"

	"go.uber.org/zap"
)

const transportMQTT = "mqtt"

// MQTTSubscriber MQTT 订阅能力（由 common/mqtt.Client 实现）
type MQTTSubscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTFeed 基于 MQTT 的变更流，每张表一个主题：{prefix}/{table}
type MQTTFeed struct {
	*hub
	client MQTTSubscriber
	prefix string
	qos    byte
	logger *zap.Logger
}

// NewMQTTFeed 创建 MQTT 变更流
func NewMQTTFeed(client MQTTSubscriber, prefix string, qos byte, logger *zap.Logger) *MQTTFeed {
	return &MQTTFeed{
		hub:    newHub(logger),
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		logger: logger,
	}
}

// TopicFor 实体对应的主题
func TopicFor(prefix string, entity Entity) string {
	return strings.TrimSuffix(prefix, "/") + "/" + entity.Table()
}

// Start 订阅全部实体主题；paho 自动重连后会恢复订阅
func (f *MQTTFeed) Start(ctx context.Context) error {
	for _, e := range Entities {
		topic := TopicFor(f.prefix, e)
		entity := e
		if err := f.client.Subscribe(topic, f.qos, func(topic string, payload []byte) error {
			return f.handleMessage(entity, topic, payload)
		}); err != nil {
			return fmt.Errorf("failed to start MQTT change feed: %w", err)
		}
		f.logger.Info("Subscribed to change topic", zap.String("topic", topic))
	}
	return nil
}

func (f *MQTTFeed) handleMessage(entity Entity, topic string, payload []byte) error {
	raw, err := ParseRawChange(payload)
	if err != nil {
		metrics.IncFeedError(transportMQTT, "decode")
		return fmt.Errorf("failed to decode change on %s: %w", topic, err)
	}
	// 主题已经确定了表，消息体可以省略 table 字段
	if raw.Table == "" {
		raw.Table = entity.Table()
	}
	metrics.IncFeedEvent(transportMQTT, raw.Table)
	f.hub.dispatch(raw)
	return nil
}

// Subscribe 订阅
func (f *MQTTFeed) Subscribe(ctx context.Context, scope Scope, handler Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.hub.add(scope, handler)
}

// Close 取消主题订阅；MQTT 连接由调用方断开
func (f *MQTTFeed) Close() error {
	f.hub.close()
	topics := make([]string, 0, len(Entities))
	for _, e := range Entities {
		topics = append(topics, TopicFor(f.prefix, e))
	}
	return f.client.Unsubscribe(topics...)
}
