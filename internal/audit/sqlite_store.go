package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// SQLiteEventStore stores audit events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interface.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			seq INTEGER NOT NULL,
			instance_id TEXT NOT NULL,
			task_id TEXT NOT NULL DEFAULT '',
			task_name TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			old_value TEXT NOT NULL DEFAULT '',
			new_value TEXT NOT NULL DEFAULT '',
			actor TEXT NOT NULL,
			role TEXT NOT NULL DEFAULT '',
			comment TEXT NOT NULL DEFAULT '',
			at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_audit_instance ON audit_events(instance_id, seq);
		CREATE INDEX IF NOT EXISTS idx_audit_task ON audit_events(task_id);
		CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_events(actor);
		CREATE INDEX IF NOT EXISTS idx_audit_at ON audit_events(at);
	`)
	return err
}

func (s *SQLiteEventStore) Append(ctx context.Context, ev api.AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (seq, instance_id, task_id, task_name, type, old_value, new_value, actor, role, comment, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Seq,
		ev.InstanceID,
		ev.TaskID,
		ev.TaskName,
		string(ev.Type),
		ev.OldValue,
		ev.NewValue,
		ev.Actor,
		ev.Role,
		ev.Comment,
		ev.At.UnixNano(),
	)
	return err
}

const eventColumns = `seq, instance_id, task_id, task_name, type, old_value, new_value, actor, role, comment, at`

func (s *SQLiteEventStore) ByInstance(ctx context.Context, instanceID string) ([]api.AuditEvent, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		WHERE instance_id = ?
		ORDER BY seq ASC`, instanceID)
}

func (s *SQLiteEventStore) ByTask(ctx context.Context, taskID string) ([]api.AuditEvent, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		WHERE task_id = ?
		ORDER BY at, id`, taskID)
}

func (s *SQLiteEventStore) ByActor(ctx context.Context, actor string) ([]api.AuditEvent, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		WHERE actor = ?
		ORDER BY at, id`, actor)
}

func (s *SQLiteEventStore) ByEventType(ctx context.Context, t api.EventType) ([]api.AuditEvent, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		WHERE type = ?
		ORDER BY at, id`, string(t))
}

func (s *SQLiteEventStore) ByDateRange(ctx context.Context, start, end time.Time) ([]api.AuditEvent, error) {
	return s.query(ctx, `
		SELECT `+eventColumns+` FROM audit_events
		WHERE at >= ? AND at <= ?
		ORDER BY at, id`, start.UnixNano(), end.UnixNano())
}

func (s *SQLiteEventStore) CountSince(ctx context.Context, t api.EventType, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM audit_events
		WHERE type = ? AND at >= ?`, string(t), since.UnixNano()).Scan(&n)
	return n, err
}

func (s *SQLiteEventStore) InstancesWithBreach(ctx context.Context, since time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT instance_id FROM audit_events
		WHERE type = ? AND at >= ?
		ORDER BY instance_id`, string(api.EventSLABreach), since.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SQLiteEventStore) query(ctx context.Context, q string, args ...any) ([]api.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.AuditEvent
	for rows.Next() {
		var (
			ev  api.AuditEvent
			typ string
			atN int64
		)
		if err := rows.Scan(&ev.Seq, &ev.InstanceID, &ev.TaskID, &ev.TaskName, &typ,
			&ev.OldValue, &ev.NewValue, &ev.Actor, &ev.Role, &ev.Comment, &atN); err != nil {
			return nil, err
		}
		ev.Type = api.EventType(typ)
		ev.At = time.Unix(0, atN)
		out = append(out, ev)
	}
	return out, rows.Err()
}
