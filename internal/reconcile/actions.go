package reconcile

import (
	"context"
	"fmt"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"

	"go.uber.org/zap"
)

// ActionStore 用户操作落库（repository.Store 实现，所有更新都带所有权条件）
type ActionStore interface {
	Acknowledge(ctx context.Context, userID, alertID string) error
	Resolve(ctx context.Context, userID, alertID string) error
	MarkAsRead(ctx context.Context, userID, notificationID string) error
	MarkAllAsRead(ctx context.Context, userID string) (int64, error)
}

// Actions 用户操作只写数据库，不改本地集合；结果统一经变更流回到视图
type Actions struct {
	store  ActionStore
	viewer auth.Viewer
	logger *zap.Logger
}

// NewActions 创建操作入口
func NewActions(store ActionStore, viewer auth.Viewer, logger *zap.Logger) *Actions {
	return &Actions{store: store, viewer: viewer, logger: logger}
}

// Acknowledge 确认报警
func (a *Actions) Acknowledge(ctx context.Context, alertID string) error {
	if err := a.store.Acknowledge(ctx, a.viewer.UserID, alertID); err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	a.logger.Info("Alert acknowledged", zap.String("alert_id", alertID), zap.String("user_id", a.viewer.UserID))
	return nil
}

// Resolve 解决报警
func (a *Actions) Resolve(ctx context.Context, alertID string) error {
	if err := a.store.Resolve(ctx, a.viewer.UserID, alertID); err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	a.logger.Info("Alert resolved", zap.String("alert_id", alertID), zap.String("user_id", a.viewer.UserID))
	return nil
}

// MarkAsRead 标记通知已读
func (a *Actions) MarkAsRead(ctx context.Context, notificationID string) error {
	if err := a.store.MarkAsRead(ctx, a.viewer.UserID, notificationID); err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	return nil
}

// MarkAllAsRead 全部标记已读，返回更新条数
func (a *Actions) MarkAllAsRead(ctx context.Context) (int64, error) {
	n, err := a.store.MarkAllAsRead(ctx, a.viewer.UserID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return n, nil
}
