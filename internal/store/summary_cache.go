package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"

	"go.uber.org/zap"
)

// SummaryKey 用户看板摘要的缓存 key
func SummaryKey(userID string) string {
	return fmt.Sprintf("dashboard:user:%s:summary", userID)
}

// SummaryCache 看板聚合摘要缓存（供其他服务读取）
type SummaryCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewSummaryCache 创建摘要缓存
func NewSummaryCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *SummaryCache {
	return &SummaryCache{kv: kv, ttl: ttl, logger: logger}
}

// Put 写入摘要
func (c *SummaryCache) Put(ctx context.Context, summary reconcile.Summary) error {
	if summary.UserID == "" {
		return fmt.Errorf("summary user_id is required")
	}
	key := SummaryKey(summary.UserID)

	jsonData, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated dashboard summary cache",
		zap.String("user_id", summary.UserID),
		zap.String("key", key),
	)
	return nil
}

// Get 读取摘要，不存在返回 ErrCacheMiss
func (c *SummaryCache) Get(ctx context.Context, userID string) (*reconcile.Summary, error) {
	val, err := c.kv.Get(ctx, SummaryKey(userID))
	if err != nil {
		return nil, err
	}
	var s reconcile.Summary
	if err := json.Unmarshal([]byte(val), &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}
	return &s, nil
}

// Invalidate 删除摘要
func (c *SummaryCache) Invalidate(ctx context.Context, userID string) error {
	return c.kv.Del(ctx, SummaryKey(userID))
}
