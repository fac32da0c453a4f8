package handlers

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orris-inc/sidecar/internal/shared/goroutine"
	"github.com/orris-inc/sidecar/internal/shared/logger"
)

const (
	watchWriteWait  = 10 * time.Second
	watchPongWait   = 60 * time.Second
	watchPingPeriod = 30 * time.Second
	watchBufferSize = 64
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // callers are authenticated before the upgrade
	},
}

// EventSource lets the handler observe events flowing through the runtime.
type EventSource interface {
	Subscribe(pattern string, fn func(event string, data any)) func()
}

// WatchMessage is one frame of the watch stream.
type WatchMessage struct {
	Event     string `json:"event"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type WatchHandler struct {
	events EventSource
	logger logger.Interface
}

func NewWatchHandler(events EventSource, log logger.Interface) *WatchHandler {
	return &WatchHandler{events: events, logger: log}
}

// Watch handles GET /v1/registry/watch?pattern=... and streams matching
// events as JSON text frames. The default pattern follows node changes.
// Frames are dropped, not queued, for a client that cannot keep up.
func (h *WatchHandler) Watch(c *gin.Context) {
	pattern := c.DefaultQuery("pattern", "$sidecar-node.*")

	conn, err := watchUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("failed to upgrade to websocket",
			"error", err,
			"ip", c.ClientIP(),
		)
		return
	}

	send := make(chan []byte, watchBufferSize)
	done := make(chan struct{})
	var dropped atomic.Int64

	unsubscribe := h.events.Subscribe(pattern, func(event string, data any) {
		msg, err := json.Marshal(WatchMessage{Event: event, Data: data, Timestamp: time.Now().UnixMilli()})
		if err != nil {
			h.logger.Warnw("failed to encode watch event", "event", event, "error", err)
			return
		}
		select {
		case send <- msg:
		case <-done:
		default:
			dropped.Add(1)
		}
	})

	h.logger.Infow("registry watcher connected",
		"ip", c.ClientIP(),
		"pattern", pattern,
	)

	goroutine.SafeGo(h.logger, "registry-watch-write-pump", func() {
		h.writePump(conn, send, done)
	})
	h.readPump(conn)

	close(done)
	unsubscribe()
	h.logger.Infow("registry watcher disconnected",
		"ip", c.ClientIP(),
		"dropped", dropped.Load(),
	)
}

// readPump only services control frames; watchers send nothing else.
func (h *WatchHandler) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(watchPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(watchPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warnw("registry watch websocket read error", "error", err)
			}
			return
		}
	}
}

func (h *WatchHandler) writePump(conn *websocket.Conn, send <-chan []byte, done <-chan struct{}) {
	ticker := time.NewTicker(watchPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return

		case msg := <-send:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Warnw("failed to write to registry watch websocket", "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(watchWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
