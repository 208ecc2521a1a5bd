package signal

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/metrics"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			ctl.writeClose(c)
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				ctl.writeClose(c)
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.cfg.WriteWait)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		}
	}
}

func (ctl *SignalWSController) writeClose(c *WsSignalConn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ctl.cfg.WriteWait))
}

func (ctl *SignalWSController) readPump(ctx context.Context, sess *core.Session, c *WsSignalConn) {
	defer func() {
		log.Debug().Str("module", "signal").Str("conn", string(sess.ID())).Msg("readPump closing")
		ctl.Orch.OnDisconnect(sess.ID())
		if len(ctl.Orch.Registry.SessionsOf(sess.UserID())) == 0 {
			ctl.Limiter.Forget(sess.UserID())
		}
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(sess.ID())).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Info().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Msg("readPump read error")
				}
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(ctl.cfg.PongWait))
			ctl.handleSignal(ctx, sess, data)
		}
	}
}

// handleSignal decodes one frame and dispatches it. Failures are answered
// with an error event naming the operation; the connection stays open.
func (ctl *SignalWSController) handleSignal(ctx context.Context, sess *core.Session, data []byte) {
	ev, op, err := protocol.Decode(data)
	if err == nil {
		err = ctl.allow(sess, op)
	}
	if err == nil {
		err = ctl.Orch.Dispatch(ctx, sess, ev)
	}

	label := op
	if ev == nil {
		label = "invalid"
	}
	code := domain.Code(err)
	if code == "" {
		code = "ok"
	}
	metrics.InboundEvents.WithLabelValues(label, code).Inc()

	if err == nil || errors.Is(err, core.ErrClosed) {
		return
	}
	log.Info().Err(err).Str("module", "signal").Str("conn", string(sess.ID())).Str("op", op).Msg("event rejected")
	ctl.sendJSON(sess, protocol.ErrorFor(op, err))
}

func (ctl *SignalWSController) sendJSON(sess *core.Session, v protocol.Outbound) {
	b, err := protocol.Encode(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	_ = sess.Send(b)
}
