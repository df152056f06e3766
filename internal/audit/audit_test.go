package audit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/approvo/pkg/api"
)

func newTestLog(t *testing.T) (*Log, *MemoryEventStore) {
	t.Helper()

	store := NewMemoryEventStore()
	log := New(store, nil)
	t.Cleanup(log.Close)
	return log, store
}

func TestRecordAssignsPerInstanceSequence(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	log.Record(api.AuditEvent{InstanceID: "inst-a", Type: api.EventWorkflowStarted, Actor: api.SystemActor})
	log.Record(api.AuditEvent{InstanceID: "inst-b", Type: api.EventWorkflowStarted, Actor: api.SystemActor})
	log.Record(api.AuditEvent{InstanceID: "inst-a", Type: api.EventTaskCreated, Actor: api.SystemActor})
	log.Flush()

	a, err := log.ByInstance(ctx, "inst-a")
	if err != nil {
		t.Fatalf("ByInstance failed: %v", err)
	}
	if len(a) != 2 {
		t.Fatalf("expected 2 events for inst-a, got %d", len(a))
	}
	if a[0].Seq != 1 || a[1].Seq != 2 {
		t.Fatalf("expected seqs 1,2, got %d,%d", a[0].Seq, a[1].Seq)
	}
	if a[0].Type != api.EventWorkflowStarted || a[1].Type != api.EventTaskCreated {
		t.Fatalf("events out of acceptance order: %v, %v", a[0].Type, a[1].Type)
	}

	b, err := log.ByInstance(ctx, "inst-b")
	if err != nil {
		t.Fatalf("ByInstance failed: %v", err)
	}
	if len(b) != 1 || b[0].Seq != 1 {
		t.Fatalf("expected inst-b to have its own sequence starting at 1, got %+v", b)
	}
}

func TestConcurrentRecordKeepsOrder(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				log.Record(api.AuditEvent{
					InstanceID: "inst-1",
					Type:       api.EventDecisionMade,
					Actor:      fmt.Sprintf("actor-%d", g),
				})
			}
		}(g)
	}
	wg.Wait()
	log.Flush()

	events, err := log.ByInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("ByInstance failed: %v", err)
	}
	if len(events) != goroutines*perGoroutine {
		t.Fatalf("expected %d events, got %d", goroutines*perGoroutine, len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("gap or disorder at index %d: seq %d", i, ev.Seq)
		}
	}
}

func TestByInstanceSortsOutOfOrderAppends(t *testing.T) {
	store := NewMemoryEventStore()
	ctx := context.Background()

	// Racing records can reach the backend out of sequence order; reads
	// must reorder them regardless.
	for _, seq := range []int64{3, 1, 4, 2} {
		err := store.Append(ctx, api.AuditEvent{
			InstanceID: "inst-1",
			Seq:        seq,
			Type:       api.EventDecisionMade,
			Actor:      api.SystemActor,
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	events, err := store.ByInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("ByInstance failed: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i+1) {
			t.Fatalf("disorder at index %d: seq %d", i, ev.Seq)
		}
	}
}

func TestQueries(t *testing.T) {
	log, _ := newTestLog(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	log.Record(api.AuditEvent{InstanceID: "inst-1", TaskID: "task-1", Type: api.EventTaskClaimed, Actor: "alice", At: base})
	log.Record(api.AuditEvent{InstanceID: "inst-1", TaskID: "task-1", Type: api.EventTaskCompleted, Actor: "alice", At: base.Add(time.Minute)})
	log.Record(api.AuditEvent{InstanceID: "inst-2", TaskID: "task-2", Type: api.EventSLABreach, Actor: api.SystemActor, At: base.Add(2 * time.Minute)})
	log.Record(api.AuditEvent{InstanceID: "inst-2", TaskID: "task-2", Type: api.EventTaskEscalated, Actor: api.SystemActor, At: base.Add(3 * time.Minute)})
	log.Flush()

	byTask, err := log.ByTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("ByTask failed: %v", err)
	}
	if len(byTask) != 2 {
		t.Fatalf("expected 2 events for task-1, got %d", len(byTask))
	}

	byActor, err := log.ByActor(ctx, "alice")
	if err != nil {
		t.Fatalf("ByActor failed: %v", err)
	}
	if len(byActor) != 2 {
		t.Fatalf("expected 2 events for alice, got %d", len(byActor))
	}

	byType, err := log.ByEventType(ctx, api.EventSLABreach)
	if err != nil {
		t.Fatalf("ByEventType failed: %v", err)
	}
	if len(byType) != 1 || byType[0].InstanceID != "inst-2" {
		t.Fatalf("unexpected SLA_BREACH events: %+v", byType)
	}

	inRange, err := log.ByDateRange(ctx, base.Add(time.Minute), base.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("ByDateRange failed: %v", err)
	}
	if len(inRange) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(inRange))
	}

	n, err := log.CountSince(ctx, api.EventTaskCompleted, base)
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 TASK_COMPLETED since base, got %d", n)
	}

	breached, err := log.InstancesWithBreach(ctx, base)
	if err != nil {
		t.Fatalf("InstancesWithBreach failed: %v", err)
	}
	if len(breached) != 1 || breached[0] != "inst-2" {
		t.Fatalf("expected [inst-2], got %v", breached)
	}
}

func TestRecordAfterCloseWritesSynchronously(t *testing.T) {
	store := NewMemoryEventStore()
	log := New(store, nil)

	log.Record(api.AuditEvent{InstanceID: "inst-1", Type: api.EventWorkflowStarted, Actor: api.SystemActor})
	log.Close()

	// A straggler after Close must still land in the store.
	log.Record(api.AuditEvent{InstanceID: "inst-1", Type: api.EventWorkflowCompleted, Actor: api.SystemActor})

	events, err := store.ByInstance(context.Background(), "inst-1")
	if err != nil {
		t.Fatalf("ByInstance failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events after close, got %d", len(events))
	}
}

func newTestSQLiteEventStore(t *testing.T) *SQLiteEventStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteEventStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore failed: %v", err)
	}
	return store
}

func TestSQLiteEventStore(t *testing.T) {
	store := newTestSQLiteEventStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	events := []api.AuditEvent{
		{Seq: 1, InstanceID: "inst-1", TaskID: "task-1", TaskName: "Manager Approval", Type: api.EventTaskCreated, Actor: api.SystemActor, At: base},
		{Seq: 2, InstanceID: "inst-1", TaskID: "task-1", Type: api.EventTaskClaimed, Actor: "bob", Role: "managers", At: base.Add(time.Minute)},
		{Seq: 3, InstanceID: "inst-1", TaskID: "task-1", Type: api.EventSLABreach, Actor: api.SystemActor, At: base.Add(2 * time.Minute)},
	}
	for _, ev := range events {
		if err := store.Append(ctx, ev); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	got, err := store.ByInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("ByInstance failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d", len(got))
	}
	if got[0].TaskName != "Manager Approval" {
		t.Fatalf("expected task name to round-trip, got %q", got[0].TaskName)
	}
	if got[1].Role != "managers" {
		t.Fatalf("expected role to round-trip, got %q", got[1].Role)
	}
	if !got[2].At.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("expected timestamp to round-trip, got %v", got[2].At)
	}

	n, err := store.CountSince(ctx, api.EventSLABreach, base)
	if err != nil {
		t.Fatalf("CountSince failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 breach, got %d", n)
	}

	breached, err := store.InstancesWithBreach(ctx, base)
	if err != nil {
		t.Fatalf("InstancesWithBreach failed: %v", err)
	}
	if len(breached) != 1 || breached[0] != "inst-1" {
		t.Fatalf("expected [inst-1], got %v", breached)
	}
}
