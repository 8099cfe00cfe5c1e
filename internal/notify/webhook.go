package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/changefeed"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/metrics"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// 事件类型
const (
	EventAlertCreated       = "alert.created"
	EventAlertStatusChanged = "alert.status_changed"
)

// Config 报警推送配置
type Config struct {
	URL         string
	MinSeverity models.AlertSeverity
	Timeout     time.Duration
	RetryCount  int
	QueueSize   int
}

// WebhookEvent 推送给外部系统的报警事件
type WebhookEvent struct {
	Event          string              `json:"event"`
	Alert          models.Alert        `json:"alert"`
	PreviousStatus *models.AlertStatus `json:"previous_status,omitempty"`
	SentAt         time.Time           `json:"sent_at"`
}

// AlertNotifier 进程级报警订阅：新报警（达到最低级别）与状态变化推送到 webhook
// 订阅回调只入队，HTTP 请求在独立 goroutine 中执行，不阻塞变更流
type AlertNotifier struct {
	httpClient  *resty.Client
	url         string
	minSeverity models.AlertSeverity
	logger      *zap.Logger

	queue chan WebhookEvent
	sub   changefeed.Subscription
	wg    sync.WaitGroup
	once  sync.Once
}

// NewAlertNotifier 创建报警推送器
func NewAlertNotifier(cfg Config, logger *zap.Logger) *AlertNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if !cfg.MinSeverity.Valid() {
		cfg.MinSeverity = models.AlertSeverityHigh
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &AlertNotifier{
		httpClient:  client,
		url:         cfg.URL,
		minSeverity: cfg.MinSeverity,
		logger:      logger,
		queue:       make(chan WebhookEvent, cfg.QueueSize),
	}
}

// Start 订阅报警变更流并启动发送 goroutine
func (n *AlertNotifier) Start(ctx context.Context, feed changefeed.Feed) error {
	sub, err := feed.Subscribe(ctx, changefeed.Scope{Entity: changefeed.EntityAlert}, n.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to alerts: %w", err)
	}
	n.sub = sub

	n.wg.Add(1)
	go n.run()

	n.logger.Info("Alert webhook notifier started",
		zap.String("url", n.url),
		zap.String("min_severity", string(n.minSeverity)),
	)
	return nil
}

// Stop 取消订阅，发送完队列中的事件后返回
func (n *AlertNotifier) Stop() {
	n.once.Do(func() {
		if n.sub != nil {
			if err := n.sub.Unsubscribe(); err != nil {
				n.logger.Warn("Failed to unsubscribe alert notifier", zap.Error(err))
			}
		}
		close(n.queue)
		n.wg.Wait()
	})
}

func (n *AlertNotifier) handle(raw changefeed.RawChange) {
	ch, err := changefeed.Normalize(raw)
	if err != nil {
		n.logger.Debug("Ignoring malformed alert change", zap.Error(err))
		return
	}
	c, ok := ch.(changefeed.AlertChange)
	if !ok {
		return
	}
	ev, ok := n.Classify(c)
	if !ok {
		return
	}

	select {
	case n.queue <- ev:
	default:
		metrics.IncWebhookDelivery("dropped")
		n.logger.Warn("Webhook queue full, dropping alert event",
			zap.String("alert_id", ev.Alert.ID),
			zap.String("event", ev.Event),
		)
	}
}

// Classify 判断一次报警变更是否需要推送
func (n *AlertNotifier) Classify(c changefeed.AlertChange) (WebhookEvent, bool) {
	if c.After == nil || c.After.Severity.Rank() < n.minSeverity.Rank() {
		return WebhookEvent{}, false
	}
	switch c.Op {
	case changefeed.OpInsert:
		return WebhookEvent{Event: EventAlertCreated, Alert: *c.After}, true
	case changefeed.OpUpdate:
		// 没有旧镜像时无法判断状态是否变化，不推送
		if c.Before == nil || c.Before.Status == c.After.Status {
			return WebhookEvent{}, false
		}
		prev := c.Before.Status
		return WebhookEvent{Event: EventAlertStatusChanged, Alert: *c.After, PreviousStatus: &prev}, true
	}
	return WebhookEvent{}, false
}

func (n *AlertNotifier) run() {
	defer n.wg.Done()
	for ev := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := n.Send(ctx, ev); err != nil {
			n.logger.Error("Failed to deliver alert webhook",
				zap.String("alert_id", ev.Alert.ID),
				zap.String("event", ev.Event),
				zap.Error(err),
			)
		}
		cancel()
	}
}

// Send 推送一条事件（含重试）
func (n *AlertNotifier) Send(ctx context.Context, ev WebhookEvent) error {
	if n.url == "" {
		return errors.New("webhook url is not configured")
	}
	if ev.SentAt.IsZero() {
		ev.SentAt = time.Now().UTC()
	}

	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetBody(ev).
		Post(n.url)
	if err != nil {
		metrics.IncWebhookDelivery("error")
		return fmt.Errorf("failed to call webhook: %w", err)
	}
	if resp.IsError() {
		metrics.IncWebhookDelivery("rejected")
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}

	metrics.IncWebhookDelivery("ok")
	n.logger.Debug("Alert webhook delivered",
		zap.String("alert_id", ev.Alert.ID),
		zap.String("event", ev.Event),
		zap.Int("status_code", resp.StatusCode()),
	)
	return nil
}
