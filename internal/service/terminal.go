package service

import (
	"context"
	"time"

	"kasirinaja/terminal/internal/audit"
	"kasirinaja/terminal/internal/domain"
	"kasirinaja/terminal/internal/notify"
	"kasirinaja/terminal/internal/queue"
	"kasirinaja/terminal/internal/store"
	"kasirinaja/terminal/internal/telemetry"
	"kasirinaja/terminal/internal/validation"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// Terminal identifies the device the Executor and Reconciler act for. It is
// passed in at construction; nothing in this package keeps process-wide state.
type Terminal struct {
	StoreID    string
	TerminalID string
}

func (t Terminal) withDefaults() Terminal {
	if t.StoreID == "" {
		t.StoreID = "main-store"
	}
	if t.TerminalID == "" {
		t.TerminalID = "T-01"
	}
	return t
}

// Connectivity is the online flag shared by the Executor, the Reconciler and
// the probe loop.
type Connectivity interface {
	Online() bool
	Set(online bool) bool
}

type alwaysOnline struct{}

func (alwaysOnline) Online() bool { return true }

func (alwaysOnline) Set(_ bool) bool { return false }

const DefaultRequestTimeout = 8 * time.Second

// Deps are the collaborators shared by the Executor and the Reconciler. Nil
// Notifier, Connectivity and Metrics fall back to no-ops.
type Deps struct {
	Datastore      store.Datastore
	Queue          queue.Store
	Audit          audit.Logger
	Notifier       notify.Notifier
	Connectivity   Connectivity
	Metrics        *telemetry.Metrics
	Validator      validation.Validator
	RequestTimeout time.Duration
	Now            func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Audit == nil && d.Datastore != nil {
		d.Audit = audit.NewStoreLogger(d.Datastore)
	}
	if d.Notifier == nil {
		d.Notifier = notify.Noop{}
	}
	if d.Connectivity == nil {
		d.Connectivity = alwaysOnline{}
	}
	if d.Validator.MaxTransactionCents <= 0 {
		d.Validator = validation.New(validation.DefaultMaxTransactionCents)
	}
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = DefaultRequestTimeout
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return d
}
