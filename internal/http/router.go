package httpapi

import (
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// HandleHandler 支持 http.Handler 接口（用于 /metrics）
func (r *Router) HandleHandler(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRealtimeRoutes 注册看板、操作与实时推送路由（均需认证）
func (r *Router) RegisterRealtimeRoutes(h *RealtimeHandler, a *Authenticator) {
	r.Handle("/api/v1/dashboard", a.Wrap(method(http.MethodGet, h.GetDashboard)))
	r.Handle("/api/v1/dashboard/summary", a.Wrap(method(http.MethodGet, h.GetDashboardSummary)))
	r.Handle("/api/v1/dashboard/export.xlsx", a.Wrap(method(http.MethodGet, h.ExportDashboard)))
	r.Handle("/api/v1/realtime/ws", a.Wrap(method(http.MethodGet, h.ServeWebSocket)))

	// /api/v1/alerts/{id}/acknowledge | /api/v1/alerts/{id}/resolve
	r.Handle("/api/v1/alerts/", a.Wrap(method(http.MethodPost, func(w http.ResponseWriter, req *http.Request) {
		id, action, ok := splitIDAction(req.URL.Path, "/api/v1/alerts/")
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch action {
		case "acknowledge":
			h.AcknowledgeAlert(w, req, id)
		case "resolve":
			h.ResolveAlert(w, req, id)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})))

	// /api/v1/notifications/read-all | /api/v1/notifications/{id}/read
	r.Handle("/api/v1/notifications/", a.Wrap(method(http.MethodPost, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/api/v1/notifications/read-all" {
			h.MarkAllNotificationsRead(w, req)
			return
		}
		id, action, ok := splitIDAction(req.URL.Path, "/api/v1/notifications/")
		if !ok || action != "read" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		h.MarkNotificationRead(w, req, id)
	})))
}

// RegisterOpsRoutes 健康检查与指标（无需认证）
func (r *Router) RegisterOpsRoutes(metricsHandler http.Handler) {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, Ok(map[string]string{"status": "ok"}))
	})
	if metricsHandler != nil {
		r.HandleHandler("/metrics", metricsHandler)
	}
}

func method(m string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if req.Method != m {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, req)
	}
}

// splitIDAction 解析 {prefix}{id}/{action}
func splitIDAction(path, prefix string) (id, action string, ok bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
