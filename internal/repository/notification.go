package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/models"

	"go.uber.org/zap"
)

// NotificationRepository 通知仓库
type NotificationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationRepository 创建通知仓库
func NewNotificationRepository(db *sql.DB, logger *zap.Logger) *NotificationRepository {
	return &NotificationRepository{
		db:     db,
		logger: logger,
	}
}

// ListRecentNotifications 用户最近的通知；limit <= 0 表示不限
func (r *NotificationRepository) ListRecentNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	query := `
		SELECT id, user_id, type, status, title, message, link, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		var link sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Status, &n.Title, &n.Message, &link, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		n.Link = stringPtr(link)
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// MarkAsRead 标记单条通知已读
func (r *NotificationRepository) MarkAsRead(ctx context.Context, userID, notificationID string) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'READ'
		WHERE id = $1 AND user_id = $2`, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("notification %s: %w", notificationID, ErrNotFound)
	}
	return nil
}

// MarkAllAsRead 标记用户全部未读通知为已读，返回更新条数
func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user_id is required")
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE notifications
		SET status = 'READ'
		WHERE user_id = $1 AND status = 'UNREAD'`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}
