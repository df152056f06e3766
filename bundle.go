package approvo

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/approvo/internal/audit"
	"github.com/petrijr/approvo/internal/dispatch"
	"github.com/petrijr/approvo/internal/engine"
	"github.com/petrijr/approvo/internal/persistence"
	"github.com/petrijr/approvo/internal/registry"
	"github.com/petrijr/approvo/internal/timer"
)

// Options configures a Bundle. The zero value is usable: default logger,
// no observer, the built-in topic configuration, and the audit journal on
// the same backend as the instance/task store.
type Options struct {
	// Logger receives structured engine logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Observer receives lifecycle callbacks. Defaults to the noop observer.
	Observer Observer

	// Topics is the worker topic configuration. Defaults to DefaultTopics().
	Topics []TopicConfig

	// AuditRedis, if set, stores the audit journal in Redis under the
	// "approvo:" key prefix instead of the store's backend.
	AuditRedis *redis.Client
}

// Bundle wires the engine, task registry, worker dispatcher, SLA timer
// scheduler, and audit journal into one working unit sharing a store.
type Bundle struct {
	Engine  Engine
	Tasks   TaskService
	Workers WorkerService
	Audit   AuditQuery

	sched *timer.Scheduler
	log   *audit.Log
}

// NewInMemoryBundle returns a Bundle backed entirely by in-memory stores.
// Suited for tests and single-process embedding without durability needs.
func NewInMemoryBundle(opts Options) *Bundle {
	store := persistence.NewInMemoryStore()
	events := eventStore(opts, func() (audit.EventStore, error) {
		return audit.NewMemoryEventStore(), nil
	})
	return newBundle(persistence.Store{Instances: store, Tasks: store}, events, opts)
}

// NewSQLiteBundle returns a Bundle that persists instances, tasks, and the
// audit journal in the provided SQLite database.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:approvo.db?_journal=WAL")
//	bundle, err := approvo.NewSQLiteBundle(db, approvo.Options{})
func NewSQLiteBundle(db *sql.DB, opts Options) (*Bundle, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}

	var events audit.EventStore
	if opts.AuditRedis != nil {
		events = audit.NewRedisEventStore(opts.AuditRedis, "approvo:")
	} else {
		events, err = audit.NewSQLiteEventStore(db)
		if err != nil {
			return nil, err
		}
	}
	return newBundle(persistence.Store{Instances: store, Tasks: store}, events, opts), nil
}

func eventStore(opts Options, fallback func() (audit.EventStore, error)) audit.EventStore {
	if opts.AuditRedis != nil {
		return audit.NewRedisEventStore(opts.AuditRedis, "approvo:")
	}
	es, _ := fallback()
	return es
}

func newBundle(store persistence.Store, events audit.EventStore, opts Options) *Bundle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topics := opts.Topics
	if topics == nil {
		topics = DefaultTopics()
	}

	log := audit.New(events, logger)
	sched := timer.NewScheduler(logger)
	reg := registry.New(store, sched, log, logger, opts.Observer)
	disp := dispatch.New(topics, reg, log, logger)
	reg.BindQueue(disp)

	eng := engine.New(store, log, logger, opts.Observer)
	eng.BindTasks(reg)
	reg.BindSink(eng)
	sched.BindEscalator(reg)

	return &Bundle{
		Engine:  eng,
		Tasks:   reg,
		Workers: disp,
		Audit:   log,
		sched:   sched,
		log:     log,
	}
}

// AuditRecorder returns the write side of the audit journal, for handlers
// that record domain events (see pkg/worker.NewComplianceCheckHandler).
func (b *Bundle) AuditRecorder() *audit.Log { return b.log }

// RunTimers starts the SLA sweep loop in a goroutine and returns. It stops
// when ctx is cancelled.
func (b *Bundle) RunTimers(ctx context.Context, interval time.Duration) {
	go b.sched.Run(ctx, interval)
}

// SweepTimers fires SLA timers due at the given time. Exposed so embedders
// and tests can drive time explicitly instead of running the sweep loop.
func (b *Bundle) SweepTimers(ctx context.Context, now time.Time) {
	b.sched.Sweep(ctx, now)
}

// FlushAudit blocks until all accepted audit events are written.
func (b *Bundle) FlushAudit() { b.log.Flush() }

// Close flushes the audit journal and stops its writer.
func (b *Bundle) Close() { b.log.Close() }
