package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/report"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/repository"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/store"

	"go.uber.org/zap"
)

// ViewObserver 视图挂载后额外挂接的监听（摘要缓存写入）
type ViewObserver interface {
	Attach(v *reconcile.View) func()
}

// SummaryReader 摘要缓存读取
type SummaryReader interface {
	Get(ctx context.Context, userID string) (*reconcile.Summary, error)
}

// DashboardSummary 摘要及其来源：cache（在线视图维护的缓存）或 snapshot（现查）
type DashboardSummary struct {
	reconcile.Summary
	Source string `json:"source"`
}

// RealtimeHandler 看板、用户操作与实时推送
type RealtimeHandler struct {
	manager   *reconcile.Manager
	observer  ViewObserver
	summaries SummaryReader
	logger    *zap.Logger
}

// NewRealtimeHandler observer 可为 nil
func NewRealtimeHandler(manager *reconcile.Manager, observer ViewObserver, logger *zap.Logger) *RealtimeHandler {
	return &RealtimeHandler{manager: manager, observer: observer, logger: logger}
}

// WithSummaryCache 摘要接口优先读缓存
func (h *RealtimeHandler) WithSummaryCache(r SummaryReader) *RealtimeHandler {
	h.summaries = r
	return h
}

// GetDashboardSummary 只返回聚合摘要；缓存未命中时加载快照计算
func (h *RealtimeHandler) GetDashboardSummary(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	if h.summaries != nil {
		s, err := h.summaries.Get(r.Context(), viewer.UserID)
		if err == nil {
			writeJSON(w, http.StatusOK, Ok(DashboardSummary{Summary: *s, Source: "cache"}))
			return
		}
		if !errors.Is(err, store.ErrCacheMiss) {
			h.logger.Warn("Failed to read dashboard summary cache", zap.String("user_id", viewer.UserID), zap.Error(err))
		}
	}

	state, err := h.manager.Snapshot(r.Context(), viewer)
	if err != nil {
		h.logger.Error("Failed to load dashboard summary", zap.String("user_id", viewer.UserID), zap.Error(err))
		writeSnapshotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(DashboardSummary{Summary: state.Summary(), Source: "snapshot"}))
}

// GetDashboard 一次性快照 + 聚合
func (h *RealtimeHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	state, err := h.manager.Snapshot(r.Context(), viewer)
	if err != nil {
		h.logger.Error("Failed to load dashboard", zap.String("user_id", viewer.UserID), zap.Error(err))
		writeSnapshotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(state))
}

// ExportDashboard 导出 Excel
func (h *RealtimeHandler) ExportDashboard(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	state, err := h.manager.Snapshot(r.Context(), viewer)
	if err != nil {
		h.logger.Error("Failed to load dashboard for export", zap.String("user_id", viewer.UserID), zap.Error(err))
		writeSnapshotError(w, err)
		return
	}
	data, err := report.GenerateDashboardExport(state)
	if err != nil {
		h.logger.Error("Failed to generate dashboard export", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate export"))
		return
	}

	filename := fmt.Sprintf("dashboard_%s.xlsx", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// AcknowledgeAlert 确认报警；界面状态随变更流更新
func (h *RealtimeHandler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	h.writeActionResult(w, h.manager.Actions(viewer).Acknowledge(r.Context(), alertID), map[string]string{"id": alertID})
}

// ResolveAlert 解决报警
func (h *RealtimeHandler) ResolveAlert(w http.ResponseWriter, r *http.Request, alertID string) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	h.writeActionResult(w, h.manager.Actions(viewer).Resolve(r.Context(), alertID), map[string]string{"id": alertID})
}

// MarkNotificationRead 标记通知已读
func (h *RealtimeHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request, notificationID string) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	h.writeActionResult(w, h.manager.Actions(viewer).MarkAsRead(r.Context(), notificationID), map[string]string{"id": notificationID})
}

// MarkAllNotificationsRead 全部已读
func (h *RealtimeHandler) MarkAllNotificationsRead(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ViewerFromContext(r.Context())
	n, err := h.manager.Actions(viewer).MarkAllAsRead(r.Context())
	h.writeActionResult(w, err, map[string]int64{"updated": n})
}

func (h *RealtimeHandler) writeActionResult(w http.ResponseWriter, err error, result any) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, Ok(result))
	case errors.Is(err, repository.ErrNotFound):
		writeJSON(w, http.StatusNotFound, FailCode(ResultNotFound, "not found"))
	default:
		h.logger.Error("Action failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("action failed"))
	}
}

func writeSnapshotError(w http.ResponseWriter, err error) {
	if errors.Is(err, reconcile.ErrSnapshotFailed) {
		writeJSON(w, http.StatusServiceUnavailable, FailCode(ResultSnapshotFailed, "failed to load dashboard"))
		return
	}
	writeJSON(w, http.StatusInternalServerError, Fail("failed to load dashboard"))
}
