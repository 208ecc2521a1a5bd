package app

import (
	"context"
	"sync"

	"github.com/dkeye/Pulse/internal/metrics"
	"github.com/rs/zerolog/log"
)

// ViewerSync pushes stream viewer counts to the directory off the hot path.
// Only the latest count per stream is kept, so a slow collaborator never
// sees stale values after it recovers.
type ViewerSync struct {
	sink  ViewerCountSink
	retry Retry

	mu      sync.Mutex
	pending map[string]int
	wake    chan struct{}
}

func NewViewerSync(sink ViewerCountSink, retry Retry) *ViewerSync {
	return &ViewerSync{
		sink:    sink,
		retry:   retry,
		pending: make(map[string]int),
		wake:    make(chan struct{}, 1),
	}
}

// Push records the latest count; it never blocks.
func (v *ViewerSync) Push(streamID string, count int) {
	v.mu.Lock()
	v.pending[streamID] = count
	v.mu.Unlock()
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

// Run flushes pending counts until ctx is done.
func (v *ViewerSync) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.wake:
			v.flush(ctx)
		}
	}
}

func (v *ViewerSync) flush(ctx context.Context) {
	v.mu.Lock()
	batch := v.pending
	v.pending = make(map[string]int)
	v.mu.Unlock()

	for streamID, count := range batch {
		err := v.retry.Do(ctx, func(ctx context.Context) error {
			return v.sink.UpdateViewerCount(ctx, streamID, count)
		})
		if err != nil {
			metrics.CollaboratorErrors.WithLabelValues("viewer count").Inc()
			log.Warn().Err(err).Str("module", "app.viewersync").Str("stream", streamID).Int("count", count).Msg("viewer count not synced")
		}
	}
}
