package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/flowkit/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Workflows ---

const workflowColumns = `id, organization_id, name, description, status, trigger_on, objects, behaviors, execution, visual_data, created_by, created_at, updated_at`

type workflowRow struct {
	objects, behaviors, execution string
	visualData                    sql.NullString
}

func encodeWorkflow(wf *schema.Workflow) (workflowRow, error) {
	var row workflowRow
	objects := wf.Objects
	if objects == nil {
		objects = []schema.ObjectRef{}
	}
	behaviors := wf.Behaviors
	if behaviors == nil {
		behaviors = []schema.BehaviorDefinition{}
	}
	b, err := json.Marshal(objects)
	if err != nil {
		return row, fmt.Errorf("marshal objects: %w", err)
	}
	row.objects = string(b)
	if b, err = json.Marshal(behaviors); err != nil {
		return row, fmt.Errorf("marshal behaviors: %w", err)
	}
	row.behaviors = string(b)
	if b, err = json.Marshal(wf.Execution); err != nil {
		return row, fmt.Errorf("marshal execution: %w", err)
	}
	row.execution = string(b)
	if wf.VisualData != nil {
		if b, err = json.Marshal(wf.VisualData); err != nil {
			return row, fmt.Errorf("marshal visual_data: %w", err)
		}
		row.visualData = sql.NullString{String: string(b), Valid: true}
	}
	return row, nil
}

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	row, err := encodeWorkflow(wf)
	if err != nil {
		return err
	}
	wf.CreatedAt = timeOrNow(wf.CreatedAt)
	wf.UpdatedAt = timeOrNow(wf.UpdatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO workflows (`+workflowColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.OrganizationID, wf.Name, nullStr(wf.Description), string(wf.Status),
		nullStr(wf.Execution.TriggerOn), row.objects, row.behaviors, row.execution, row.visualData,
		nullStr(wf.CreatedBy), wf.CreatedAt, wf.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	workflows, err := scanWorkflows(rows)
	if err != nil {
		return nil, err
	}
	if len(workflows) == 0 {
		return nil, storeNotFound("workflow", id)
	}
	return workflows[0], nil
}

// UpdateWorkflow replaces every mutable column of the workflow with wf's values.
func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	row, err := encodeWorkflow(wf)
	if err != nil {
		return err
	}
	wf.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE workflows SET name = ?, description = ?, status = ?, trigger_on = ?, objects = ?, behaviors = ?,
		 execution = ?, visual_data = ?, updated_at = ? WHERE id = ?`,
		wf.Name, nullStr(wf.Description), string(wf.Status), nullStr(wf.Execution.TriggerOn),
		row.objects, row.behaviors, row.execution, row.visualData, wf.UpdatedAt, wf.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", wf.ID)
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error) {
	var where []string
	var args []any

	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TriggerOn != "" {
		where = append(where, "trigger_on = ?")
		args = append(args, filter.TriggerOn)
	}

	query := "SELECT " + workflowColumns + " FROM workflows"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWorkflows(rows)
}

func (s *LibSQLStore) DeleteWorkflow(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func scanWorkflows(rows *sql.Rows) ([]*schema.Workflow, error) {
	var workflows []*schema.Workflow
	for rows.Next() {
		wf := &schema.Workflow{}
		var (
			description, triggerOn, createdBy sql.NullString
			row                               workflowRow
			status                            string
		)
		if err := rows.Scan(&wf.ID, &wf.OrganizationID, &wf.Name, &description, &status, &triggerOn,
			&row.objects, &row.behaviors, &row.execution, &row.visualData, &createdBy,
			&wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, err
		}
		wf.Description = description.String
		wf.CreatedBy = createdBy.String
		wf.Status = schema.WorkflowStatus(status)
		if err := json.Unmarshal([]byte(row.objects), &wf.Objects); err != nil {
			return nil, fmt.Errorf("unmarshal objects: %w", err)
		}
		if err := json.Unmarshal([]byte(row.behaviors), &wf.Behaviors); err != nil {
			return nil, fmt.Errorf("unmarshal behaviors: %w", err)
		}
		if err := json.Unmarshal([]byte(row.execution), &wf.Execution); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		if row.visualData.Valid && row.visualData.String != "" {
			wf.VisualData = &schema.VisualData{}
			if err := json.Unmarshal([]byte(row.visualData.String), wf.VisualData); err != nil {
				return nil, fmt.Errorf("unmarshal visual_data: %w", err)
			}
		}
		workflows = append(workflows, wf)
	}
	return workflows, rows.Err()
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMapOrDefault(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
