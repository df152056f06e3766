// Package audit implements the append-only, causally ordered event journal
// of the workflow engine. Events are accepted synchronously (sequence number
// and timestamp assigned under a small lock) and written to the backing
// store by a single writer goroutine, keeping journal writes off the
// critical path of task and process mutation.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// entry carries either an event to append or a flush acknowledgement.
type entry struct {
	ev  api.AuditEvent
	ack chan struct{}
}

// Log is the append-only audit journal. It guarantees that events of a
// single process instance become visible to readers in the order they were
// accepted, regardless of which goroutine emitted them.
type Log struct {
	store  EventStore
	logger *slog.Logger

	mu   sync.Mutex
	seqs map[string]int64

	ch   chan entry
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// New creates a Log over the given store and starts its writer goroutine.
// If logger is nil, slog.Default() is used.
func New(store EventStore, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Log{
		store:  store,
		logger: logger,
		seqs:   make(map[string]int64),
		ch:     make(chan entry, 256),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.writeLoop()
	return l
}

// Record accepts an event: it assigns the per-instance sequence number and
// acceptance timestamp, then hands the event to the writer. Callers do not
// wait for durability. Events are never mutated or removed once accepted.
func (l *Log) Record(ev api.AuditEvent) {
	l.mu.Lock()
	l.seqs[ev.InstanceID]++
	ev.Seq = l.seqs[ev.InstanceID]
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	l.mu.Unlock()

	select {
	case l.ch <- entry{ev: ev}:
	case <-l.quit:
		// Closed log: write synchronously so late events are not lost.
		l.append(ev)
	}
}

// Flush blocks until every event accepted before the call has been written
// to the store. Intended for tests and shutdown paths.
func (l *Log) Flush() {
	ack := make(chan struct{})
	select {
	case l.ch <- entry{ack: ack}:
		<-ack
	case <-l.quit:
	}
}

// Close flushes pending events and stops the writer. Safe to call twice.
func (l *Log) Close() {
	l.closeOnce.Do(func() {
		l.Flush()
		close(l.quit)
		<-l.done
	})
}

func (l *Log) writeLoop() {
	defer close(l.done)
	for {
		select {
		case e := <-l.ch:
			if e.ack != nil {
				close(e.ack)
				continue
			}
			l.append(e.ev)
		case <-l.quit:
			// Drain whatever is still buffered.
			for {
				select {
				case e := <-l.ch:
					if e.ack != nil {
						close(e.ack)
						continue
					}
					l.append(e.ev)
				default:
					return
				}
			}
		}
	}
}

// append writes one event. Store failures are logged, never propagated:
// audit writes must not fail workflow progress.
func (l *Log) append(ev api.AuditEvent) {
	if err := l.store.Append(context.Background(), ev); err != nil {
		l.logger.Error("audit_append_failed",
			slog.String("instance_id", ev.InstanceID),
			slog.String("event_type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}

// Ensure Log satisfies the query contract.
var _ api.AuditQuery = (*Log)(nil)

func (l *Log) ByInstance(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	return l.store.ByInstance(ctx, instanceID)
}

func (l *Log) ByTask(ctx context.Context, taskID string) ([]api.AuditEvent, error) {
	return l.store.ByTask(ctx, taskID)
}

func (l *Log) ByActor(ctx context.Context, actor string) ([]api.AuditEvent, error) {
	return l.store.ByActor(ctx, actor)
}

func (l *Log) ByEventType(ctx context.Context, t api.EventType) ([]api.AuditEvent, error) {
	return l.store.ByEventType(ctx, t)
}

func (l *Log) ByDateRange(ctx context.Context, start, end time.Time) ([]api.AuditEvent, error) {
	return l.store.ByDateRange(ctx, start, end)
}

func (l *Log) CountSince(ctx context.Context, t api.EventType, since time.Time) (int64, error) {
	return l.store.CountSince(ctx, t, since)
}

func (l *Log) InstancesWithBreach(ctx context.Context, since time.Time) ([]string, error) {
	return l.store.InstancesWithBreach(ctx, since)
}
