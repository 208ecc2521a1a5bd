package orch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/Pulse/internal/app"
	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/metrics"
	"github.com/dkeye/Pulse/internal/protocol"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

type Options struct {
	Identity   app.IdentityValidator
	Directory  app.Directory
	Policy     app.Policy
	Retry      app.Retry
	Timeout    time.Duration
	ICEServers []webrtc.ICEServer
}

// Orchestrator is the hub: it accepts connections, dispatches their events
// and runs disconnect cleanup.
type Orchestrator struct {
	Registry *app.Registry
	Rooms    *app.Rooms
	Policy   app.Policy
	Viewers  *app.ViewerSync

	identity   app.IdentityValidator
	dir        app.Directory
	retry      app.Retry
	timeout    time.Duration
	iceServers []webrtc.ICEServer

	// in-flight persistence calls
	wg sync.WaitGroup
}

func New(opts Options) *Orchestrator {
	if opts.Policy == nil {
		opts.Policy = app.DropOldestPolicy{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = app.DefaultRetry()
	}
	o := &Orchestrator{
		Registry:   app.NewRegistry(),
		Policy:     opts.Policy,
		identity:   opts.Identity,
		dir:        opts.Directory,
		retry:      opts.Retry,
		timeout:    opts.Timeout,
		iceServers: opts.ICEServers,
	}
	o.Viewers = app.NewViewerSync(opts.Directory, opts.Retry)
	o.Rooms = app.NewRooms(opts.Directory, &app.Presence{Counts: o.Viewers.Push}, opts.Timeout)
	o.Rooms.OnSlow = o.applyPolicy
	return o
}

// Run drives background bookkeeping until ctx is done.
func (o *Orchestrator) Run(ctx context.Context) {
	o.Viewers.Run(ctx)
}

// Wait blocks until pending message persistence has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Authenticate validates the handshake credential and loads the account.
// It runs before the transport is upgraded.
func (o *Orchestrator) Authenticate(ctx context.Context, credential string) (*domain.User, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("missing credential: %w", domain.ErrUnauthenticated)
	}
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ident, err := o.identity.Validate(ctx, credential)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthenticated) || errors.Is(err, domain.ErrForbidden) {
			return nil, err
		}
		metrics.CollaboratorErrors.WithLabelValues("identity").Inc()
		return nil, fmt.Errorf("identity: %w: %w", domain.ErrUnauthenticated, err)
	}

	user, err := o.dir.User(ctx, ident.UserID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("unknown user %s: %w", ident.UserID, domain.ErrForbidden)
	case err != nil:
		metrics.CollaboratorErrors.WithLabelValues("user status").Inc()
		return nil, fmt.Errorf("user status: %w: %w", domain.ErrForbidden, err)
	case user.Banned():
		return nil, fmt.Errorf("user %s is banned: %w", ident.UserID, domain.ErrForbidden)
	}
	if user.Username == "" {
		user.Username = ident.Username
	}
	return user, nil
}

// Open registers an authenticated connection, joins it to its own user
// channel and greets it. cancel stops the transport pumps.
func (o *Orchestrator) Open(ctx context.Context, user *domain.User, conn core.SignalConnection, cancel context.CancelFunc) (*core.Session, error) {
	sess := core.NewSession(core.ConnID(uuid.NewString()), user, conn)
	o.Registry.Bind(sess, cancel)
	metrics.Connections.Inc()

	if _, err := o.Rooms.Join(ctx, sess, domain.UserRoom(user.ID)); err != nil {
		o.OnDisconnect(sess.ID())
		return nil, fmt.Errorf("join user channel: %w", err)
	}
	o.reply(sess, protocol.Connected{
		Type:         protocol.EvConnected,
		ConnectionID: sess.ID(),
		UserID:       user.ID,
		ICEServers:   o.iceServers,
	})
	log.Info().Str("module", "orch").Str("conn", string(sess.ID())).Str("user", string(user.ID)).Msg("connected")
	return sess, nil
}

// Accept is Authenticate followed by Open.
func (o *Orchestrator) Accept(ctx context.Context, credential string, conn core.SignalConnection, cancel context.CancelFunc) (*core.Session, error) {
	user, err := o.Authenticate(ctx, credential)
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues(domain.Code(err)).Inc()
		return nil, err
	}
	return o.Open(ctx, user, conn, cancel)
}

// Dispatch routes one decoded client event. The returned error is reported
// back to the sender as an error event; the connection stays open.
func (o *Orchestrator) Dispatch(ctx context.Context, sess *core.Session, ev protocol.Inbound) error {
	if sess.Closed() {
		return core.ErrClosed
	}
	switch ev := ev.(type) {
	case protocol.Ping:
		o.reply(sess, protocol.Pong{Type: protocol.EvPong})
		return nil
	case protocol.RoomJoin:
		return o.Join(ctx, sess, ev)
	case protocol.RoomLeave:
		return o.Leave(sess, ev)
	case protocol.ChatSend:
		return o.Chat(sess, ev)
	case protocol.TypingStart:
		return o.Typing(sess, ev.RoomID, protocol.EvTypingStart)
	case protocol.TypingStop:
		return o.Typing(sess, ev.RoomID, protocol.EvTypingStop)
	case protocol.StreamChat:
		return o.StreamChat(sess, ev)
	case protocol.StreamReaction:
		return o.StreamReaction(sess, ev)
	case protocol.SignalOffer:
		return o.RelayOffer(sess, ev)
	case protocol.SignalAnswer:
		return o.RelayAnswer(sess, ev)
	case protocol.SignalICE:
		return o.RelayICE(sess, ev)
	default:
		return fmt.Errorf("unhandled event %T: %w", ev, domain.ErrBadRequest)
	}
}

// OnDisconnect runs cleanup for a connection. Only the first call for an id
// does anything; later calls report false. Frames still queued on the
// connection are not guaranteed to be written.
func (o *Orchestrator) OnDisconnect(id core.ConnID) bool {
	o.Registry.Cancel(id)
	sess, ok := o.Registry.Unbind(id)
	if !ok {
		return false
	}
	n, _ := o.Rooms.RemoveConnection(sess)
	sess.Signal().Close()
	metrics.Connections.Dec()
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(sess.UserID())).Int("rooms", n).Msg("disconnected")
	return true
}

// publish fans ev out and applies the backpressure policy to slow members.
func (o *Orchestrator) publish(id domain.RoomID, ev protocol.Outbound, exclude core.ConnID) (int, error) {
	res, room, err := o.Rooms.Publish(id, ev, exclude)
	if err != nil {
		return 0, err
	}
	metrics.Delivered.Add(float64(res.SendTo))
	o.applyPolicy(room, res.Slow)
	return res.SendTo, nil
}

// applyPolicy runs the backpressure policy for members whose queue
// overflowed. It must be called outside the room's critical section.
func (o *Orchestrator) applyPolicy(room *core.Room, slow []*core.Session) {
	for _, s := range slow {
		metrics.SlowConsumers.Inc()
		if o.Policy.OnBackPressure(room, s) == app.KickMember {
			log.Warn().Str("module", "orch").Str("conn", string(s.ID())).Str("room", string(room.ID())).Msg("kick slow consumer")
			o.OnDisconnect(s.ID())
		}
	}
}

// reply sends ev to a single connection.
func (o *Orchestrator) reply(sess *core.Session, ev protocol.Outbound) {
	f, err := protocol.Encode(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("encode reply")
		return
	}
	o.sendTo(nil, sess, f)
}

func (o *Orchestrator) sendTo(room *core.Room, sess *core.Session, f core.Frame) bool {
	switch err := sess.Send(f); {
	case err == nil:
		return true
	case errors.Is(err, core.ErrBackpressure):
		metrics.SlowConsumers.Inc()
		if o.Policy.OnBackPressure(room, sess) == app.KickMember {
			o.OnDisconnect(sess.ID())
		}
		return true
	default:
		return false
	}
}
