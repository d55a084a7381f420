// Package app assembles a terminal from configuration: datastore, sync queue,
// broadcast, connectivity monitor, executor and reconciler.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"kasirinaja/terminal/internal/config"
	"kasirinaja/terminal/internal/conflict"
	"kasirinaja/terminal/internal/connectivity"
	"kasirinaja/terminal/internal/httpapi"
	"kasirinaja/terminal/internal/logging"
	"kasirinaja/terminal/internal/notify"
	"kasirinaja/terminal/internal/queue"
	queuememory "kasirinaja/terminal/internal/queue/memory"
	"kasirinaja/terminal/internal/queue/sqlite"
	"kasirinaja/terminal/internal/service"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/store/memory"
	pgstore "kasirinaja/terminal/internal/store/postgres"
	"kasirinaja/terminal/internal/telemetry"
	"kasirinaja/terminal/internal/validation"
)

const connectAttempts = 5

// Datastore is what the terminal needs from the remote store: the operation
// contract plus the login accounts.
type Datastore interface {
	store.Datastore
	httpapi.UserStore
}

type Runtime struct {
	Config     config.Config
	Terminal   service.Terminal
	Datastore  Datastore
	Queue      queue.Store
	Notifier   notify.Notifier
	Metrics    *telemetry.Metrics
	Monitor    *connectivity.Monitor
	Validator  validation.Validator
	Executor   *service.Executor
	Reconciler *service.Reconciler

	log     zerolog.Logger
	closers []func() error
}

// Build wires a runtime. An unreachable datastore is not fatal: the terminal
// starts offline and the monitor brings it online later.
func Build(ctx context.Context, cfg config.Config) (*Runtime, error) {
	rt := &Runtime{
		Config:    cfg,
		Terminal:  service.Terminal{StoreID: cfg.StoreID, TerminalID: cfg.TerminalID},
		Metrics:   telemetry.New(),
		Validator: validation.New(cfg.MaxTransactionCents),
		log:       logging.With("app"),
	}

	online, err := rt.openDatastore(ctx)
	if err != nil {
		return nil, err
	}
	if err := rt.openQueue(); err != nil {
		_ = rt.Close()
		return nil, err
	}
	rt.openNotifier(ctx)

	rt.Monitor = connectivity.NewMonitor(online, rt.Metrics)
	deps := service.Deps{
		Datastore:      rt.Datastore,
		Queue:          rt.Queue,
		Notifier:       rt.Notifier,
		Connectivity:   rt.Monitor,
		Metrics:        rt.Metrics,
		Validator:      rt.Validator,
		RequestTimeout: cfg.RequestTimeout(),
	}
	rt.Executor = service.NewExecutor(rt.Terminal, deps)
	rt.Reconciler = service.NewReconciler(rt.Terminal, deps, conflict.ParseRule(cfg.ConflictRule))
	return rt, nil
}

func (rt *Runtime) openDatastore(ctx context.Context) (bool, error) {
	if rt.Config.DatabaseURL == "" {
		rt.Datastore = memory.NewSeeded()
		rt.log.Info().Msg("datastore: in-memory demo")
		return true, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second

	pg, err := backoff.Retry(ctx, func() (*pgstore.Store, error) {
		s, err := pgstore.New(ctx, rt.Config.DatabaseURL)
		if err != nil && !errors.Is(err, store.ErrUnavailable) {
			return nil, backoff.Permanent(err)
		}
		return s, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(connectAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			rt.log.Warn().Err(err).Dur("retry_in", next).Msg("datastore not reachable yet")
		}),
	)
	if err == nil {
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = pg.Close()
			return false, err
		}
		rt.Datastore = pg
		rt.closers = append(rt.closers, pg.Close)
		rt.log.Info().Msg("datastore: postgres")
		return true, nil
	}
	if !errors.Is(err, store.ErrUnavailable) {
		return false, fmt.Errorf("connect datastore: %w", err)
	}

	pg, openErr := pgstore.Open(rt.Config.DatabaseURL)
	if openErr != nil {
		return false, fmt.Errorf("open datastore: %w", openErr)
	}
	rt.Datastore = pg
	rt.closers = append(rt.closers, pg.Close)
	rt.log.Warn().Err(err).Msg("datastore: postgres unreachable, starting offline")
	return false, nil
}

func (rt *Runtime) openQueue() error {
	if rt.Config.QueuePath == "" {
		rt.Queue = queuememory.New()
		rt.log.Warn().Msg("sync queue: in-memory, queued operations are lost on restart")
		return nil
	}
	q, err := sqlite.Open(rt.Config.QueuePath)
	if err != nil {
		return fmt.Errorf("open sync queue: %w", err)
	}
	rt.Queue = q
	rt.closers = append(rt.closers, q.Close)
	rt.log.Info().Str("path", rt.Config.QueuePath).Msg("sync queue: sqlite")
	return nil
}

// openNotifier falls back to no broadcast when the broker is unusable.
func (rt *Runtime) openNotifier(ctx context.Context) {
	rt.Notifier = notify.Noop{}

	switch rt.Config.NotifyBackend {
	case config.NotifyRedis:
		n := notify.NewRedisNotifier(rt.Config.RedisAddr, rt.Config.RedisPassword, rt.Config.RedisDB, rt.Config.StoreID)
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := n.Ping(pingCtx); err != nil {
			rt.log.Warn().Err(err).Msg("redis unavailable, broadcasting will retry per publish")
		}
		rt.Notifier = n
		rt.closers = append(rt.closers, n.Close)
		rt.log.Info().Msg("broadcast: redis")
	case config.NotifyStan:
		n, err := notify.NewStanNotifier(rt.Config.NatsClusterID, rt.Config.StoreID+"-"+rt.Config.TerminalID, rt.Config.NatsURL, rt.Config.StoreID)
		if err != nil {
			rt.log.Warn().Err(err).Msg("nats streaming unavailable, broadcast disabled")
			return
		}
		rt.Notifier = n
		rt.closers = append(rt.closers, n.Close)
		rt.log.Info().Msg("broadcast: nats streaming")
	default:
		rt.log.Info().Msg("broadcast: none")
	}
}

// Close releases every connection Build opened, newest first.
func (rt *Runtime) Close() error {
	// Broadcasts still in flight need the notifier, so they finish first.
	if rt.Executor != nil {
		rt.Executor.WaitPublished()
	}
	if rt.Reconciler != nil {
		rt.Reconciler.WaitPublished()
	}

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
