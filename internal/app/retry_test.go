package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dkeye/Pulse/internal/app/apptest"
	"github.com/dkeye/Pulse/internal/domain"
	"github.com/stretchr/testify/assert"
)

func fastRetry(attempts int) Retry {
	return Retry{Attempts: attempts, Min: time.Millisecond, Max: 5 * time.Millisecond, Timeout: time.Second}
}

func TestRetryStopsAfterSuccess(t *testing.T) {
	calls := 0
	err := fastRetry(5).Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.ErrTransient
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryIsBounded(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), func(context.Context) error {
		calls++
		return domain.ErrTransient
	})
	assert.ErrorIs(t, err, domain.ErrTransient)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUpOnPermanentErrors(t *testing.T) {
	calls := 0
	err := fastRetry(3).Do(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("stream: %w", domain.ErrNotFound)
	})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, 1, calls)
}

func TestViewerSyncKeepsLatestCount(t *testing.T) {
	dir := apptest.NewDirectory()
	vs := NewViewerSync(dir, fastRetry(2))
	vs.Push("s1", 1)
	vs.Push("s1", 2)
	vs.Push("s1", 3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vs.Run(ctx)

	assert.Eventually(t, func() bool {
		n, ok := dir.ViewerCount("s1")
		return ok && n == 3
	}, time.Second, 5*time.Millisecond)
}

func TestViewerSyncSurvivesFailingCollaborator(t *testing.T) {
	dir := apptest.NewDirectory()
	dir.SetFail(true)
	vs := NewViewerSync(dir, fastRetry(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go vs.Run(ctx)

	vs.Push("s1", 4)
	time.Sleep(50 * time.Millisecond)
	_, ok := dir.ViewerCount("s1")
	assert.False(t, ok)

	dir.SetFail(false)
	vs.Push("s1", 5)
	assert.Eventually(t, func() bool {
		n, ok := dir.ViewerCount("s1")
		return ok && n == 5
	}, time.Second, 5*time.Millisecond)
}
