package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

func (s *LibSQLStore) CreateExecutionLog(ctx context.Context, log *ExecutionLog) error {
	if log.Status == "" {
		log.Status = schema.ExecutionStatusRunning
	}
	log.StartedAt = timeOrNow(log.StartedAt)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_logs (id, workflow_id, workflow_name, organization_id, status, result, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.ID, log.WorkflowID, log.WorkflowName, log.OrganizationID, string(log.Status),
		nullRaw(log.Result), log.StartedAt, nullTime(log.CompletedAt),
	)
	return err
}

// AppendExecutionLine appends a line with a monotonically increasing
// per-execution sequence. Sealed logs reject further lines.
func (s *LibSQLStore) AppendExecutionLine(ctx context.Context, executionID string, line *LogLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, `SELECT status FROM execution_logs WHERE id = ?`, executionID).Scan(&status)
	if err == sql.ErrNoRows {
		return storeNotFound("execution_log", executionID)
	}
	if err != nil {
		return err
	}
	if schema.ExecutionStatus(status) != schema.ExecutionStatusRunning {
		return schema.NewErrorf(schema.ErrCodeConflict, "execution log %q is sealed", executionID)
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM execution_log_lines WHERE execution_id = ?`, executionID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	line.Sequence = seq
	line.Timestamp = timeOrNow(line.Timestamp)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO execution_log_lines (execution_id, sequence, level, message, behavior_type, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		executionID, seq, string(line.Level), line.Message, nullStr(line.BehaviorType), line.Timestamp,
	); err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit log line: %w", err)
	}
	return nil
}

func (s *LibSQLStore) CompleteExecutionLog(ctx context.Context, executionID string, status schema.ExecutionStatus, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE execution_logs SET status = ?, result = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(status), nullRaw(result), time.Now().UTC(), executionID, string(schema.ExecutionStatusRunning),
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "running execution_log", executionID)
}

// GetExecutionLog returns the log with its lines in sequence order.
func (s *LibSQLStore) GetExecutionLog(ctx context.Context, id string) (*ExecutionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, workflow_id, workflow_name, organization_id, status, result, started_at, completed_at
		 FROM execution_logs WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	logs, err := scanExecutionLogs(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if len(logs) == 0 {
		return nil, storeNotFound("execution_log", id)
	}
	log := logs[0]

	lineRows, err := s.db.QueryContext(ctx,
		`SELECT sequence, level, message, behavior_type, timestamp
		 FROM execution_log_lines WHERE execution_id = ? ORDER BY sequence ASC`, id)
	if err != nil {
		return nil, err
	}
	defer lineRows.Close()
	for lineRows.Next() {
		l := &LogLine{}
		var level string
		var behaviorType sql.NullString
		if err := lineRows.Scan(&l.Sequence, &level, &l.Message, &behaviorType, &l.Timestamp); err != nil {
			return nil, err
		}
		l.Level = schema.LogLevel(level)
		l.BehaviorType = behaviorType.String
		log.Lines = append(log.Lines, l)
	}
	return log, lineRows.Err()
}

// ListExecutionLogs returns log headers (without lines), newest first.
func (s *LibSQLStore) ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]*ExecutionLog, error) {
	var where []string
	var args []any

	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}

	query := `SELECT id, workflow_id, workflow_name, organization_id, status, result, started_at, completed_at FROM execution_logs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanExecutionLogs(rows)
}

func scanExecutionLogs(rows *sql.Rows) ([]*ExecutionLog, error) {
	var logs []*ExecutionLog
	for rows.Next() {
		l := &ExecutionLog{}
		var status string
		var result sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&l.ID, &l.WorkflowID, &l.WorkflowName, &l.OrganizationID, &status, &result,
			&l.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		l.Status = schema.ExecutionStatus(status)
		l.Result = rawOrNil(result)
		if completedAt.Valid {
			l.CompletedAt = &completedAt.Time
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
