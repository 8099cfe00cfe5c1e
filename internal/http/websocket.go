package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/auth"
	"github.com/xMartinezYT/PlataformaIoT-sub000/internal/reconcile"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源，鉴权走 token
	},
}

// WSMessage 推送到前端的统一消息结构
type WSMessage struct {
	Type  string `json:"type"` // state / pong / error
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts"`
}

// wsCommand 前端发来的指令：ping / retry
type wsCommand struct {
	Type string `json:"type"`
}

// stateSlot 只保留最新一份待推送状态，监听方永不阻塞
type stateSlot struct {
	mu     sync.Mutex
	latest *reconcile.State
	wake   chan struct{}
}

func newStateSlot() *stateSlot {
	return &stateSlot{wake: make(chan struct{}, 1)}
}

func (s *stateSlot) put(st reconcile.State) {
	s.mu.Lock()
	s.latest = &st
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *stateSlot) take() (reconcile.State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return reconcile.State{}, false
	}
	st := *s.latest
	s.latest = nil
	return st, true
}

// ServeWebSocket 挂载一个视图，每次状态变化推送完整状态；连接断开即关闭视图
func (h *RealtimeHandler) ServeWebSocket(w http.ResponseWriter, r *http.Request) {
	viewer, _ := auth.ViewerFromContext(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	view, err := h.manager.Open(context.Background(), viewer)
	if view == nil {
		h.logger.Error("Failed to open view", zap.String("user_id", viewer.UserID), zap.Error(err))
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		_ = conn.WriteJSON(WSMessage{Type: "error", Error: "failed to open view", TS: now()})
		return
	}
	// 任何退出路径都关闭视图
	defer view.Close()
	if errors.Is(err, reconcile.ErrSnapshotFailed) {
		h.logger.Warn("View opened without snapshot, waiting for retry", zap.String("view_id", view.ID()))
	}

	if h.observer != nil {
		detach := h.observer.Attach(view)
		defer detach()
	}

	slot := newStateSlot()
	unregister := view.OnChange(slot.put)
	defer unregister()
	slot.put(view.State())

	replies := make(chan WSMessage, 4)
	readDone := make(chan struct{})
	go h.readLoop(conn, view, replies, readDone)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-readDone:
			return
		case <-view.Done():
			return
		case <-slot.wake:
			st, ok := slot.take()
			if !ok {
				continue
			}
			if err := writeMessage(conn, WSMessage{Type: "state", Data: st, TS: now()}); err != nil {
				h.logger.Debug("WebSocket write failed", zap.Error(err))
				return
			}
		case msg := <-replies:
			if err := writeMessage(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *RealtimeHandler) readLoop(conn *websocket.Conn, view *reconcile.View, replies chan<- WSMessage, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var cmd wsCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))

		var reply WSMessage
		switch cmd.Type {
		case "ping":
			reply = WSMessage{Type: "pong", TS: now()}
		case "retry":
			if err := view.Retry(context.Background()); err != nil {
				reply = WSMessage{Type: "error", Error: err.Error(), TS: now()}
			} else {
				continue
			}
		default:
			continue
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func writeMessage(conn *websocket.Conn, msg WSMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(msg)
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
