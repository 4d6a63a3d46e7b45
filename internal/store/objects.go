package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

const objectColumns = `id, organization_id, type, subtype, name, status, custom_properties, created_at, updated_at`

func (s *LibSQLStore) InsertObject(ctx context.Context, obj *Object) error {
	props, err := marshalMapOrDefault(obj.CustomProperties)
	if err != nil {
		return fmt.Errorf("marshal custom_properties: %w", err)
	}
	obj.CreatedAt = timeOrNow(obj.CreatedAt)
	obj.UpdatedAt = timeOrNow(obj.UpdatedAt)
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO objects (`+objectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obj.ID, obj.OrganizationID, obj.Type, nullStr(obj.Subtype), nullStr(obj.Name), nullStr(obj.Status),
		props, obj.CreatedAt, obj.UpdatedAt,
	)
	return err
}

func (s *LibSQLStore) GetObject(ctx context.Context, id string) (*Object, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+objectColumns+` FROM objects WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	objs, err := scanObjects(rows)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, storeNotFound("object", id)
	}
	return objs[0], nil
}

// PatchObject applies patch inside a transaction so concurrent property
// merges on the same document do not lose writes.
func (s *LibSQLStore) PatchObject(ctx context.Context, id string, patch ObjectPatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var propsJSON string
	err = tx.QueryRowContext(ctx, `SELECT custom_properties FROM objects WHERE id = ?`, id).Scan(&propsJSON)
	if err == sql.ErrNoRows {
		return storeNotFound("object", id)
	}
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().UTC()}

	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, nullStr(*patch.Name))
	}
	if patch.Subtype != nil {
		sets = append(sets, "subtype = ?")
		args = append(args, nullStr(*patch.Subtype))
	}
	if patch.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, nullStr(*patch.Status))
	}
	if len(patch.CustomProperties) > 0 {
		props := map[string]any{}
		if propsJSON != "" {
			if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
				return fmt.Errorf("unmarshal custom_properties: %w", err)
			}
		}
		for k, v := range patch.CustomProperties {
			if v == nil {
				delete(props, k)
				continue
			}
			props[k] = v
		}
		merged, err := marshalMapOrDefault(props)
		if err != nil {
			return fmt.Errorf("marshal custom_properties: %w", err)
		}
		sets = append(sets, "custom_properties = ?")
		args = append(args, merged)
	}
	args = append(args, id)

	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf("UPDATE objects SET %s WHERE id = ?", strings.Join(sets, ", ")), args...); err != nil {
		return err
	}
	return tx.Commit()
}

// IncrementCounters adds deltas to the numeric map stored under property,
// read and written in one transaction, and returns the resulting map.
// Missing or non-numeric counters start at zero.
func (s *LibSQLStore) IncrementCounters(ctx context.Context, id, property string, deltas map[string]float64) (map[string]any, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var propsJSON string
	err = tx.QueryRowContext(ctx, `SELECT custom_properties FROM objects WHERE id = ?`, id).Scan(&propsJSON)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("object", id)
	}
	if err != nil {
		return nil, err
	}

	props := map[string]any{}
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return nil, fmt.Errorf("unmarshal custom_properties: %w", err)
		}
	}
	counters, _ := props[property].(map[string]any)
	if counters == nil {
		counters = map[string]any{}
	}
	for name, delta := range deltas {
		current, _ := counters[name].(float64)
		counters[name] = current + delta
	}
	props[property] = counters

	merged, err := marshalMapOrDefault(props)
	if err != nil {
		return nil, fmt.Errorf("marshal custom_properties: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE objects SET custom_properties = ?, updated_at = ? WHERE id = ?`,
		merged, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return counters, nil
}

func (s *LibSQLStore) DeleteObject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "object", id)
}

// QueryObjects returns matching objects ordered oldest first, ties broken by id.
// PropertyEquals is applied after the indexed (organization, type) lookup.
func (s *LibSQLStore) QueryObjects(ctx context.Context, filter ObjectFilter) ([]*Object, error) {
	var where []string
	var args []any

	if filter.OrganizationID != "" {
		where = append(where, "organization_id = ?")
		args = append(args, filter.OrganizationID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, filter.Type)
	}
	if filter.Subtype != "" {
		where = append(where, "subtype = ?")
		args = append(args, filter.Subtype)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.ExcludeStatus != "" {
		where = append(where, "(status IS NULL OR status != ?)")
		args = append(args, filter.ExcludeStatus)
	}

	query := "SELECT " + objectColumns + " FROM objects"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	objs, err := scanObjects(rows)
	if err != nil {
		return nil, err
	}

	var out []*Object
	for _, o := range objs {
		if !matchesProperties(o, filter.PropertyEquals) {
			continue
		}
		out = append(out, o)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func matchesProperties(o *Object, want map[string]any) bool {
	for k, v := range want {
		got, ok := o.CustomProperties[k]
		if !ok || !looseEqual(got, v) {
			return false
		}
	}
	return true
}

// looseEqual compares a decoded JSON value with a Go value, treating all
// numeric kinds as float64.
func looseEqual(got, want any) bool {
	if gf, ok := toFloat(got); ok {
		if wf, ok := toFloat(want); ok {
			return gf == wf
		}
	}
	return reflect.DeepEqual(got, want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func scanObjects(rows *sql.Rows) ([]*Object, error) {
	var objs []*Object
	for rows.Next() {
		o := &Object{}
		var subtype, name, status sql.NullString
		var props string
		if err := rows.Scan(&o.ID, &o.OrganizationID, &o.Type, &subtype, &name, &status, &props,
			&o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, err
		}
		o.Subtype = subtype.String
		o.Name = name.String
		o.Status = status.String
		if props != "" {
			if err := json.Unmarshal([]byte(props), &o.CustomProperties); err != nil {
				return nil, fmt.Errorf("unmarshal custom_properties: %w", err)
			}
		}
		objs = append(objs, o)
	}
	return objs, rows.Err()
}
