package signal

import (
	"fmt"

	"github.com/dkeye/Pulse/internal/core"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/dkeye/Pulse/internal/protocol"
)

// limitedOps are the user-generated events subject to rate limiting.
var limitedOps = map[string]bool{
	protocol.OpChatSend:       true,
	protocol.OpTypingStart:    true,
	protocol.OpTypingStop:     true,
	protocol.OpStreamChat:     true,
	protocol.OpStreamReaction: true,
}

func (ctl *SignalWSController) allow(sess *core.Session, op string) error {
	if ctl.Limiter == nil || !limitedOps[op] {
		return nil
	}
	if !ctl.Limiter.Allow(sess.UserID()) {
		return fmt.Errorf("%s: %w", op, domain.ErrRateLimited)
	}
	return nil
}
