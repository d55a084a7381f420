package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/httpapi"
	"kasirinaja/terminal/internal/notify"
)

const (
	probeTimeout    = 3 * time.Second
	shutdownTimeout = 8 * time.Second
)

// Handler returns the terminal HTTP API.
func (rt *Runtime) Handler() http.Handler {
	auth := httpapi.NewAuthManager(rt.Config.AuthSecret, rt.Config.AccessTokenTTL(), rt.Config.ManagerPIN, rt.Datastore)
	api := httpapi.New(httpapi.Services{
		Executor:   rt.Executor,
		Reconciler: rt.Reconciler,
		Validator:  rt.Validator,
		Metrics:    rt.Metrics,
	}, auth, rt.Config.AllowedOrigin)
	return api.Handler()
}

// Serve runs the HTTP API and the background loops until ctx is cancelled.
// Items left in syncing by a previous crash are reset before the loops start.
func (rt *Runtime) Serve(ctx context.Context) error {
	if _, err := rt.Reconciler.RecoverStale(ctx); err != nil {
		rt.log.Error().Err(err).Msg("failed to recover interrupted sync items")
	}

	var wg sync.WaitGroup
	loopCtx, stopLoops := context.WithCancel(ctx)
	defer func() {
		stopLoops()
		wg.Wait()
	}()

	interval := rt.Config.SyncInterval()
	wg.Add(2)
	go func() {
		defer wg.Done()
		rt.Monitor.Run(loopCtx, rt.Datastore, interval, probeTimeout)
	}()
	go func() {
		defer wg.Done()
		rt.Reconciler.Run(loopCtx, interval, rt.Monitor.Reconnected())
	}()
	if sub, ok := rt.Notifier.(notify.Subscriber); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.watchOtherTerminals(loopCtx, sub)
		}()
	}

	server := &http.Server{
		Addr:              rt.Config.Address(),
		Handler:           rt.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * rt.Config.RequestTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		rt.log.Info().Str("addr", server.Addr).Str("terminal", rt.Terminal.TerminalID).Msg("terminal listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err, ok := <-serveErr:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.log.Error().Err(err).Msg("shutdown error")
	}
	rt.log.Info().Msg("terminal stopped")
	return nil
}

// watchOtherTerminals logs operations other terminals of the store applied.
func (rt *Runtime) watchOtherTerminals(ctx context.Context, sub notify.Subscriber) {
	err := sub.Subscribe(ctx, func(_ context.Context, event domain.OperationEvent) {
		if event.TerminalID == rt.Terminal.TerminalID {
			return
		}
		rt.log.Info().
			Str("kind", string(event.Kind)).
			Str("order", event.OrderID).
			Str("operation", event.OperationID).
			Str("from_terminal", event.TerminalID).
			Msg("operation applied by another terminal")
	})
	if err != nil && ctx.Err() == nil {
		rt.log.Warn().Err(err).Msg("operation broadcast subscription ended")
	}
}
