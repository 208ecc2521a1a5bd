package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	router "github.com/dkeye/Pulse/internal/adapters/http"
	"github.com/dkeye/Pulse/internal/adapters/signal"
	"github.com/dkeye/Pulse/internal/app"
	"github.com/dkeye/Pulse/internal/app/orch"
	"github.com/dkeye/Pulse/internal/auth"
	"github.com/dkeye/Pulse/internal/config"
	"github.com/dkeye/Pulse/internal/directory"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 5 * time.Second

// run wires the hub from cfg and serves until ctx is done.
func run(ctx context.Context, cfg *config.Config) error {
	validator, err := newValidator(cfg)
	if err != nil {
		return err
	}
	dir, closeDir, err := newDirectory(cfg)
	if err != nil {
		return err
	}
	defer closeDir()

	o := orch.New(orch.Options{
		Identity:  validator,
		Directory: dir,
		Policy:    app.PolicyFor(cfg.Backpressure),
		Retry: app.Retry{
			Attempts: cfg.Retry.Attempts,
			Min:      cfg.Retry.Min,
			Max:      cfg.Retry.Max,
			Timeout:  cfg.CollaboratorTimeout,
		},
		Timeout:    cfg.CollaboratorTimeout,
		ICEServers: cfg.WebRTC(),
	})
	limiter := signal.NewRoomRateLimiter(cfg.RateLimit.Events, cfg.RateLimit.Interval)
	ctrl := signal.NewSignalWSController(o, limiter, signal.Settings{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendQueue:  cfg.SendQueue,
	})

	r := router.SetupRouter(ctx, cfg, o, ctrl)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go o.Run(ctx)

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("Pulse server started")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("module", "main").Msg("server error")
			return err
		}
	case <-ctx.Done():
	}

	log.Info().Str("module", "main").Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("module", "main").Msg("Server forced to shutdown")
	}
	o.Wait()
	log.Info().Str("module", "main").Msg("Server exited gracefully")
	return nil
}

func newValidator(cfg *config.Config) (app.IdentityValidator, error) {
	switch cfg.Identity.Mode {
	case "remote":
		return auth.NewRemoteValidator(cfg.Identity.Address, &http.Client{Timeout: cfg.CollaboratorTimeout}), nil
	default:
		return auth.NewJWTValidator(cfg.Identity.Secret, cfg.Identity.Issuer)
	}
}

func newDirectory(cfg *config.Config) (app.Directory, func(), error) {
	switch cfg.Directory.Mode {
	case "remote":
		return directory.NewRemote(cfg.Directory.Address, &http.Client{Timeout: cfg.CollaboratorTimeout}), func() {}, nil
	default:
		store, err := directory.OpenSQLite(cfg.Directory.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open directory: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Warn().Err(err).Str("module", "main").Msg("closing directory")
			}
		}, nil
	}
}
