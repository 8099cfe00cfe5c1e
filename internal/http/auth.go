package httpapi

import (
	"net/http"
	"strings"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"

	"go.uber.org/zap"
)

// Authenticator 从 Bearer token（或 websocket 的 access_token 查询参数）解析查看者
type Authenticator struct {
	secret []byte
	logger *zap.Logger
}

func NewAuthenticator(secret string, logger *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), logger: logger}
}

// Wrap 校验通过后把查看者放入请求 context
func (a *Authenticator) Wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, Result[any]{Code: ResultTokenExpired, Type: "error", Message: "missing token"})
			return
		}
		viewer, err := auth.ParseJWT(token, a.secret)
		if err != nil {
			a.logger.Debug("Rejected token", zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, Result[any]{Code: ResultTokenExpired, Type: "error", Message: "invalid token"})
			return
		}
		next(w, r.WithContext(auth.WithViewer(r.Context(), viewer)))
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return ""
	}
	// 浏览器 WebSocket 无法设置请求头
	return r.URL.Query().Get("access_token")
}
