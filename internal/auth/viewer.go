package auth

import (
	"context"
	"strings"
)

// Role 用户角色（只透传，不做授权决策）
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
	RoleViewer   Role = "VIEWER"
)

// NormalizeRole 大小写不敏感；空角色按 VIEWER 处理
func NormalizeRole(role string) (Role, bool) {
	switch Role(strings.ToUpper(strings.TrimSpace(role))) {
	case RoleAdmin:
		return RoleAdmin, true
	case RoleOperator:
		return RoleOperator, true
	case RoleViewer, "":
		return RoleViewer, true
	}
	return "", false
}

// Viewer 当前查看者：视图与所有权过滤的身份来源
type Viewer struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

type contextKey string

const contextKeyViewer contextKey = "auth.viewer"

// WithViewer 把查看者写入 context
func WithViewer(ctx context.Context, v Viewer) context.Context {
	return context.WithValue(ctx, contextKeyViewer, v)
}

// ViewerFromContext 从 context 取查看者
func ViewerFromContext(ctx context.Context) (Viewer, bool) {
	if ctx == nil {
		return Viewer{}, false
	}
	v, ok := ctx.Value(contextKeyViewer).(Viewer)
	if !ok || v.UserID == "" {
		return Viewer{}, false
	}
	return v, true
}
