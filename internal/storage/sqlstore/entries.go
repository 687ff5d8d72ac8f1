package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/printfleet/printfleet/internal/idgen"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

const entryColumns = `id, component_id, product_id, printer_id, gcode_id, start_at, finish_at, deadline, status, created_at, updated_at`

func scanEntry(row rowScanner) (*types.ScheduleEntry, error) {
	var (
		e                               types.ScheduleEntry
		start, finish, deadline, status string
		createdAt, updatedAt            string
	)
	if err := row.Scan(&e.ID, &e.ComponentID, &e.ProductID, &e.PrinterID, &e.GcodeID,
		&start, &finish, &deadline, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.Status = types.EntryStatus(status)
	for _, f := range []struct {
		dst *time.Time
		src string
	}{
		{&e.Start, start}, {&e.Finish, finish}, {&e.Deadline, deadline},
		{&e.CreatedAt, createdAt}, {&e.UpdatedAt, updatedAt},
	} {
		t, err := parseTime(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = t
	}
	return &e, nil
}

func entryQuery(filter types.EntryFilter) (string, []any) {
	var (
		where []string
		args  []any
	)
	if filter.PrinterID != "" {
		where = append(where, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if filter.ProductID != "" {
		where = append(where, "product_id = ?")
		args = append(args, filter.ProductID)
	}
	if len(filter.ComponentIDs) > 0 {
		where = append(where, "component_id IN ("+placeholders(len(filter.ComponentIDs))+")")
		for _, id := range filter.ComponentIDs {
			args = append(args, id)
		}
	}
	if len(filter.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	query := `SELECT ` + entryColumns + ` FROM schedule_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	return query + " ORDER BY start_at, printer_id, id", args
}

func listEntries(ctx context.Context, q querier, filter types.EntryFilter) ([]*types.ScheduleEntry, error) {
	query, args := entryQuery(filter)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list entries", err)
	}
	defer rows.Close()
	var out []*types.ScheduleEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapDBError("scan entry", err)
		}
		out = append(out, e)
	}
	return out, wrapDBError("list entries", rows.Err())
}

func getEntry(ctx context.Context, q querier, id string) (*types.ScheduleEntry, error) {
	e, err := scanEntry(q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM schedule_entries WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBErrorf(err, "get entry %s", id)
	}
	return e, nil
}

// GetEntry retrieves a schedule entry by ID.
func (s *Store) GetEntry(ctx context.Context, id string) (*types.ScheduleEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return getEntry(ctx, s.db, id)
}

// ListEntries returns entries matching filter ordered by start, printer, ID.
func (s *Store) ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	return listEntries(ctx, s.db, filter)
}

// UpdateEntryStatus applies a lifecycle transition in its own transaction.
func (s *Store) UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error) {
	var out *types.ScheduleEntry
	err := s.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		out, err = tx.UpdateEntryStatus(ctx, id, status)
		return err
	})
	return out, err
}

// txStore implements storage.Transaction on a dedicated connection with an
// open transaction.
type txStore struct {
	conn   *sql.Conn
	parent *Store
}

var _ storage.Transaction = (*txStore)(nil)

// LockPrinters takes row locks on the printers in ID order. On engines whose
// BeginStmt already holds the database write lock this only verifies that the
// printers exist.
func (t *txStore) LockPrinters(ctx context.Context, printerIDs []string) error {
	if len(printerIDs) == 0 {
		return nil
	}
	args := make([]any, len(printerIDs))
	for i, id := range printerIDs {
		args[i] = id
	}
	rows, err := t.conn.QueryContext(ctx, `SELECT id FROM printers WHERE id IN (`+placeholders(len(args))+`) ORDER BY id`+
		t.parent.dialect.LockSuffix, args...)
	if err != nil {
		return wrapDBError("lock printers", err)
	}
	defer rows.Close()
	found := make(map[string]bool, len(printerIDs))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return wrapDBError("lock printers", err)
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return wrapDBError("lock printers", err)
	}
	for _, id := range printerIDs {
		if !found[id] {
			return notFound("printer", id)
		}
	}
	return nil
}

func (t *txStore) ListEntries(ctx context.Context, filter types.EntryFilter) ([]*types.ScheduleEntry, error) {
	return listEntries(ctx, t.conn, filter)
}

func (t *txStore) DeleteEntries(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := t.conn.ExecContext(ctx, `DELETE FROM schedule_entries WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return wrapDBError("delete entries", err)
}

func (t *txStore) CreateEntry(ctx context.Context, e *types.ScheduleEntry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	if e.ID == "" {
		e.ID = idgen.New(idgen.PrefixEntry, 0)
	}
	now := t.parent.now().UTC()
	e.CreatedAt, e.UpdatedAt = now, now
	_, err := t.conn.ExecContext(ctx, `INSERT INTO schedule_entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ComponentID, e.ProductID, e.PrinterID, e.GcodeID,
		formatTime(e.Start), formatTime(e.Finish), formatTime(e.Deadline), string(e.Status),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if t.parent.isDuplicate(err) {
		return fmt.Errorf("entry for component %s: %w", e.ComponentID, storage.ErrConflict)
	}
	return wrapDBError("insert entry", err)
}

func (t *txStore) UpdateEntryStatus(ctx context.Context, id string, status types.EntryStatus) (*types.ScheduleEntry, error) {
	e, err := getEntry(ctx, t.conn, id)
	if err != nil {
		return nil, err
	}
	if err := types.CheckTransition(e.Status, status); err != nil {
		return nil, fmt.Errorf("entry %s: %w", id, err)
	}
	e.Status = status
	e.UpdatedAt = t.parent.now().UTC()
	if _, err := t.conn.ExecContext(ctx, `UPDATE schedule_entries SET status = ?, updated_at = ? WHERE id = ?`,
		string(e.Status), formatTime(e.UpdatedAt), id); err != nil {
		return nil, wrapDBErrorf(err, "update entry %s", id)
	}
	return e, nil
}

func (t *txStore) RecordGcodeDuration(ctx context.Context, gcodeID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: non-positive duration %s", storage.ErrInvalid, d)
	}
	res, err := t.conn.ExecContext(ctx, `UPDATE gcodes SET historical_seconds = ? WHERE id = ?`, seconds(d), gcodeID)
	if err != nil {
		return wrapDBErrorf(err, "record duration for gcode %s", gcodeID)
	}
	return checkAffected(res, "gcode", gcodeID)
}
