package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/app/orch"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Settings struct {
	ReadLimit  int64
	PingPeriod time.Duration
	PongWait   time.Duration
	WriteWait  time.Duration
	SendQueue  int
}

func DefaultSettings() Settings {
	return Settings{
		ReadLimit:  32768,
		PingPeriod: 54 * time.Second,
		PongWait:   60 * time.Second,
		WriteWait:  5 * time.Second,
		SendQueue:  64,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	Limiter *RoomRateLimiter
	cfg     Settings
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RoomRateLimiter, cfg Settings) *SignalWSController {
	return &SignalWSController{Orch: o, Limiter: limiter, cfg: cfg}
}

// WsSignalConn is the outbound side of one websocket. Its queue is bounded:
// when full, the oldest frame is dropped to make room for the newest.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu      sync.Mutex
	closed  bool
	dropped int
}

func NewWsSignalConn(conn *websocket.Conn, queue int) *WsSignalConn {
	return &WsSignalConn{conn: conn, send: make(chan core.Frame, queue)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrClosed
	}
	select {
	case c.send <- f:
		return nil
	default:
	}
	select {
	case <-c.send:
		c.dropped++
	default:
	}
	select {
	case c.send <- f:
	default:
		c.dropped++
	}
	return core.ErrBackpressure
}

// Close stops accepting frames and ends the write pump, which sends a close
// frame and closes the socket. Frames still queued may be dropped when the
// pump's context is canceled at the same time.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *WsSignalConn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// credential reads the bearer token from the Authorization header or, for
// browsers that cannot set headers on websockets, the token query parameter.
func credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func handshakeStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusServiceUnavailable
}

// HandleSignal authenticates before upgrading, so a rejected client never
// gets a websocket.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	user, err := ctl.Orch.Authenticate(c.Request.Context(), credential(c.Request))
	if err != nil {
		code := domain.Code(err)
		metrics.HandshakeFailures.WithLabelValues(code).Inc()
		log.Info().Err(err).Str("module", "signal").Str("remote", c.ClientIP()).Msg("handshake rejected")
		c.AbortWithStatusJSON(handshakeStatus(err), gin.H{"error": code})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.cfg.ReadLimit)

	conn := NewWsSignalConn(ws, ctl.cfg.SendQueue)
	ctx, cancel := context.WithCancel(ctx)
	sess, err := ctl.Orch.Open(ctx, user, conn, cancel)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(user.ID)).Msg("open session")
		cancel()
		_ = ws.Close()
		return
	}
	log.Info().Str("module", "signal").Str("conn", string(sess.ID())).Str("user", string(user.ID)).Msg("new WS connection")

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, sess, conn)
}
