package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// --- Audit ---

func (s *LibSQLStore) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	entry.Timestamp = timeOrNow(entry.Timestamp)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (organization_id, user_id, action, resource_type, resource_id, success, details, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.OrganizationID, nullStr(entry.UserID), entry.Action, entry.ResourceType, nullStr(entry.ResourceID),
		boolInt(entry.Success), nullRaw(entry.Details), entry.Timestamp,
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	return nil
}

func (s *LibSQLStore) ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	var where []string
	var args []any

	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.ResourceID != "" {
		where = append(where, "resource_id = ?")
		args = append(args, filter.ResourceID)
	}
	if filter.Action != "" {
		where = append(where, "action = ?")
		args = append(args, filter.Action)
	}

	query := `SELECT id, organization_id, user_id, action, resource_type, resource_id, success, details, timestamp FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var userID, resourceID, details sql.NullString
		var success int
		if err := rows.Scan(&e.ID, &e.OrganizationID, &userID, &e.Action, &e.ResourceType, &resourceID,
			&success, &details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.UserID = userID.String
		e.ResourceID = resourceID.String
		e.Success = success != 0
		e.Details = rawOrNil(details)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Sessions and grants ---

func (s *LibSQLStore) CreateSession(ctx context.Context, sess *Session) error {
	sess.CreatedAt = timeOrNow(sess.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, organization_id, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.OrganizationID, sess.ExpiresAt, sess.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) GetSession(ctx context.Context, id string) (*Session, error) {
	sess := &Session{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, organization_id, expires_at, created_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.UserID, &sess.OrganizationID, &sess.ExpiresAt, &sess.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("session", id)
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *LibSQLStore) GrantRole(ctx context.Context, userID, organizationID, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_roles (user_id, organization_id, role) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, organization_id) DO UPDATE SET role = excluded.role`,
		userID, organizationID, role,
	)
	return err
}

func (s *LibSQLStore) GetUserRole(ctx context.Context, userID, organizationID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM user_roles WHERE user_id = ? AND organization_id = ?`, userID, organizationID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", storeNotFound("role", userID+"/"+organizationID)
	}
	return role, err
}

// SetRolePermissions replaces the permission set of role.
func (s *LibSQLStore) SetRolePermissions(ctx context.Context, role string, permissions []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM role_permissions WHERE role = ?`, role); err != nil {
		return err
	}
	for _, p := range permissions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO role_permissions (role, permission) VALUES (?, ?)`, role, p); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListRolePermissions(ctx context.Context, role string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM role_permissions WHERE role = ? ORDER BY permission`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// --- Scheduled jobs ---

const scheduledJobColumns = `workflow_id, organization_id, cron_expression, enabled, last_run_at, next_run_at, last_run_status, created_at`

// UpsertScheduledJob creates the job or updates its cron expression,
// enabled flag and next run. Run history is preserved.
func (s *LibSQLStore) UpsertScheduledJob(ctx context.Context, job *ScheduledJob) error {
	job.CreatedAt = timeOrNow(job.CreatedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (`+scheduledJobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(workflow_id) DO UPDATE SET
		   cron_expression = excluded.cron_expression, enabled = excluded.enabled, next_run_at = excluded.next_run_at`,
		job.WorkflowID, job.OrganizationID, job.CronExpression, boolInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), job.CreatedAt,
	)
	return err
}

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, workflowID string) (*ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledJobColumns+` FROM scheduled_jobs WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	jobs, err := scanScheduledJobs(rows)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, storeNotFound("scheduled_job", workflowID)
	}
	return jobs[0], nil
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, workflowID string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, workflowID)

	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE scheduled_jobs SET %s WHERE workflow_id = ?", strings.Join(sets, ", ")), args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", workflowID)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}

	query := "SELECT " + scheduledJobColumns + " FROM scheduled_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanScheduledJobs(rows)
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, workflowID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled_job", workflowID)
}

func scanScheduledJobs(rows *sql.Rows) ([]*ScheduledJob, error) {
	var jobs []*ScheduledJob
	for rows.Next() {
		j := &ScheduledJob{}
		var enabled int
		var lastRun, nextRun sql.NullTime
		var lastStatus sql.NullString
		if err := rows.Scan(&j.WorkflowID, &j.OrganizationID, &j.CronExpression, &enabled,
			&lastRun, &nextRun, &lastStatus, &j.CreatedAt); err != nil {
			return nil, err
		}
		j.Enabled = enabled != 0
		if lastRun.Valid {
			j.LastRunAt = &lastRun.Time
		}
		if nextRun.Valid {
			j.NextRunAt = &nextRun.Time
		}
		j.LastRunStatus = lastStatus.String
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

var _ Store = (*LibSQLStore)(nil)
