package persistence

import (
	"database/sql"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/petrijr/approvo/pkg/api"
)

// SQLiteStore is an InstanceStore and TaskStore backed by SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var _ InstanceStore = (*SQLiteStore)(nil)

var _ TaskStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS process_instances (
			id TEXT PRIMARY KEY,
			topology TEXT NOT NULL,
			stage TEXT NOT NULL,
			status TEXT NOT NULL,
			variables BLOB,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			completed_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS workflow_tasks (
			id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL,
			stage TEXT NOT NULL,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			role_groups BLOB,
			topic TEXT NOT NULL DEFAULT '',
			assignee TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			due_at INTEGER NOT NULL DEFAULT 0,
			escalation INTEGER NOT NULL DEFAULT 0,
			decision TEXT NOT NULL DEFAULT '',
			variables BLOB,
			version INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tasks_instance ON workflow_tasks(instance_id);
		CREATE INDEX IF NOT EXISTS idx_tasks_topic_state ON workflow_tasks(topic, state);`,
	)
	return err
}

func (s *SQLiteStore) SaveInstance(inst *api.ProcessInstance) error {
	vars, err := EncodeVariables(inst.Variables)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO process_instances (id, topology, stage, status, variables, version, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.Topology,
		inst.Stage,
		string(inst.Status),
		vars,
		inst.Version,
		inst.CreatedAt.UnixNano(),
		inst.UpdatedAt.UnixNano(),
		nanosOrZero(inst.CompletedAt),
	)
	return err
}

func (s *SQLiteStore) UpdateInstance(inst *api.ProcessInstance, expectedVersion int64) error {
	vars, err := EncodeVariables(inst.Variables)
	if err != nil {
		return err
	}

	inst.UpdatedAt = time.Now()

	res, err := s.db.Exec(`
		UPDATE process_instances
		SET topology = ?, stage = ?, status = ?, variables = ?, version = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND version = ?`,
		inst.Topology,
		inst.Stage,
		string(inst.Status),
		vars,
		expectedVersion+1,
		inst.UpdatedAt.UnixNano(),
		nanosOrZero(inst.CompletedAt),
		inst.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is missing or someone updated it first.
		if _, getErr := s.GetInstance(inst.ID); getErr != nil {
			return getErr
		}
		return api.ErrStaleVersion
	}

	inst.Version = expectedVersion + 1
	return nil
}

const instanceColumns = `id, topology, stage, status, variables, version, created_at, updated_at, completed_at`

func (s *SQLiteStore) GetInstance(id string) (*api.ProcessInstance, error) {
	row := s.db.QueryRow(`
		SELECT `+instanceColumns+`
		FROM process_instances
		WHERE id = ?`,
		id,
	)

	inst, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrInstanceNotFound
	}
	return inst, err
}

func (s *SQLiteStore) ListInstances(filter InstanceFilter) ([]*api.ProcessInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM process_instances`
	var args []any
	var clauses []string

	if filter.Topology != "" {
		clauses = append(clauses, "topology = ?")
		args = append(args, filter.Topology)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.ProcessInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*api.ProcessInstance, error) {
	var inst api.ProcessInstance
	var statusStr string
	var vars []byte
	var createdNs, updatedNs, completedNs int64

	if err := row.Scan(&inst.ID, &inst.Topology, &inst.Stage, &statusStr, &vars,
		&inst.Version, &createdNs, &updatedNs, &completedNs); err != nil {
		return nil, err
	}

	inst.Status = api.Status(statusStr)
	inst.CreatedAt = time.Unix(0, createdNs)
	inst.UpdatedAt = time.Unix(0, updatedNs)
	if completedNs != 0 {
		inst.CompletedAt = time.Unix(0, completedNs)
	}

	decoded, err := DecodeVariables(vars)
	if err != nil {
		return nil, err
	}
	inst.Variables = decoded

	return &inst, nil
}

func (s *SQLiteStore) SaveTask(t *api.Task) error {
	vars, err := EncodeVariables(t.Variables)
	if err != nil {
		return err
	}
	roles, err := EncodeStrings(t.RoleGroups)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO workflow_tasks (id, instance_id, stage, name, kind, role_groups, topic, assignee, state, due_at, escalation, decision, variables, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.InstanceID,
		t.Stage,
		t.Name,
		string(t.Kind),
		roles,
		t.Topic,
		t.Assignee,
		string(t.State),
		nanosOrZero(t.DueAt),
		boolToInt(t.Escalation),
		t.Decision,
		vars,
		t.Version,
		t.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) UpdateTask(t *api.Task, expectedVersion int64) error {
	vars, err := EncodeVariables(t.Variables)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE workflow_tasks
		SET assignee = ?, state = ?, decision = ?, variables = ?, version = ?
		WHERE id = ? AND version = ?`,
		t.Assignee,
		string(t.State),
		t.Decision,
		vars,
		expectedVersion+1,
		t.ID,
		expectedVersion,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := s.GetTask(t.ID); getErr != nil {
			return getErr
		}
		return api.ErrStaleVersion
	}

	t.Version = expectedVersion + 1
	return nil
}

const taskColumns = `id, instance_id, stage, name, kind, role_groups, topic, assignee, state, due_at, escalation, decision, variables, version, created_at`

func (s *SQLiteStore) GetTask(id string) (*api.Task, error) {
	row := s.db.QueryRow(`
		SELECT `+taskColumns+`
		FROM workflow_tasks
		WHERE id = ?`,
		id,
	)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, api.ErrTaskNotFound
	}
	return t, err
}

func (s *SQLiteStore) ListTasks(filter TaskFilter) ([]*api.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks`
	var args []any
	var clauses []string

	if filter.InstanceID != "" {
		clauses = append(clauses, "instance_id = ?")
		args = append(args, filter.InstanceID)
	}
	if filter.Stage != "" {
		clauses = append(clauses, "stage = ?")
		args = append(args, filter.Stage)
	}
	if filter.Assignee != "" {
		clauses = append(clauses, "assignee = ?")
		args = append(args, filter.Assignee)
	}
	if filter.Topic != "" {
		clauses = append(clauses, "topic = ?")
		args = append(args, filter.Topic)
	}
	if filter.OpenOnly {
		clauses = append(clauses, "state IN ('CREATED', 'ASSIGNED')")
	}
	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*api.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		// Role-group membership lives in a JSON column, so it is filtered
		// here rather than in SQL.
		if filter.RoleGroup != "" && !slices.Contains(t.RoleGroups, filter.RoleGroup) {
			continue
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func scanTask(row rowScanner) (*api.Task, error) {
	var t api.Task
	var kindStr, stateStr string
	var roles, vars []byte
	var dueNs, createdNs int64
	var escalation int

	if err := row.Scan(&t.ID, &t.InstanceID, &t.Stage, &t.Name, &kindStr, &roles,
		&t.Topic, &t.Assignee, &stateStr, &dueNs, &escalation, &t.Decision,
		&vars, &t.Version, &createdNs); err != nil {
		return nil, err
	}

	t.Kind = api.TaskKind(kindStr)
	t.State = api.TaskState(stateStr)
	t.Escalation = escalation != 0
	if dueNs != 0 {
		t.DueAt = time.Unix(0, dueNs)
	}
	t.CreatedAt = time.Unix(0, createdNs)

	decodedRoles, err := DecodeStrings(roles)
	if err != nil {
		return nil, err
	}
	t.RoleGroups = decodedRoles

	decodedVars, err := DecodeVariables(vars)
	if err != nil {
		return nil, err
	}
	t.Variables = decodedVars

	return &t, nil
}

func nanosOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
