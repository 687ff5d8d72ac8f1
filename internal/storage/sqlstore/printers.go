package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/printfleet/printfleet/internal/idgen"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

const printerColumns = `id, name, model, host, port, window_start, window_end, materials,
	heated_chamber, status, print_state, status_updated_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrinter(row rowScanner) (*types.Printer, error) {
	var (
		p                    types.Printer
		winStart, winEnd     sql.NullInt64
		materials            string
		heated               int
		status               string
		statusAt             sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Model, &p.Host, &p.Port, &winStart, &winEnd, &materials,
		&heated, &status, &p.PrintState, &statusAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.Window = parseWindow(winStart, winEnd)
	p.Materials = splitMaterials(materials)
	p.HeatedChamber = heated != 0
	p.Status = types.PrinterStatus(status)
	var err error
	if p.StatusUpdatedAt, err = parseNullTime(statusAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePrinter inserts p, assigning an ID when empty.
func (s *Store) CreatePrinter(ctx context.Context, p *types.Printer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	if p.ID == "" {
		p.ID = idgen.New(idgen.PrefixPrinter, 0)
	}
	now := s.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now

	ws, we := windowColumns(p.Window)
	_, err := s.db.ExecContext(ctx, `INSERT INTO printers (`+printerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Model, p.Host, p.Port, ws, we, joinMaterials(p.Materials),
		boolInt(p.HeatedChamber), string(p.Status), p.PrintState, nullTime(p.StatusUpdatedAt),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if s.isDuplicate(err) {
		return fmt.Errorf("printer %s: %w", p.ID, storage.ErrConflict)
	}
	return wrapDBError("insert printer", err)
}

// GetPrinter retrieves a printer by ID.
func (s *Store) GetPrinter(ctx context.Context, id string) (*types.Printer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+printerColumns+` FROM printers WHERE id = ?`, id)
	p, err := scanPrinter(row)
	if err != nil {
		return nil, wrapDBErrorf(err, "get printer %s", id)
	}
	return p, nil
}

// ListPrinters returns all printers ordered by ID.
func (s *Store) ListPrinters(ctx context.Context) ([]*types.Printer, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+printerColumns+` FROM printers ORDER BY id`)
	if err != nil {
		return nil, wrapDBError("list printers", err)
	}
	defer rows.Close()

	var out []*types.Printer
	for rows.Next() {
		p, err := scanPrinter(rows)
		if err != nil {
			return nil, wrapDBError("scan printer", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("list printers", rows.Err())
}

// UpdatePrinter rewrites the catalog fields of p. Status fields are owned by
// SetPrinterStatus and left untouched.
func (s *Store) UpdatePrinter(ctx context.Context, p *types.Printer) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	p.UpdatedAt = s.now().UTC()
	ws, we := windowColumns(p.Window)
	res, err := s.db.ExecContext(ctx, `UPDATE printers SET name = ?, model = ?, host = ?, port = ?,
		window_start = ?, window_end = ?, materials = ?, heated_chamber = ?, updated_at = ?
		WHERE id = ?`,
		p.Name, p.Model, p.Host, p.Port, ws, we, joinMaterials(p.Materials),
		boolInt(p.HeatedChamber), formatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return wrapDBErrorf(err, "update printer %s", p.ID)
	}
	return checkAffected(res, "printer", p.ID)
}

// DeletePrinter removes a printer and its gcodes. It refuses while active
// schedule entries still reference the printer.
func (s *Store) DeletePrinter(ctx context.Context, id string) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		if err := refuseActive(ctx, conn, "printer_id", "printer", id); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM component_gcodes WHERE gcode_id IN (SELECT id FROM gcodes WHERE printer_id = ?)`, id); err != nil {
			return wrapDBError("delete printer gcode links", err)
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM gcodes WHERE printer_id = ?`, id); err != nil {
			return wrapDBError("delete printer gcodes", err)
		}
		res, err := conn.ExecContext(ctx, `DELETE FROM printers WHERE id = ?`, id)
		if err != nil {
			return wrapDBErrorf(err, "delete printer %s", id)
		}
		return checkAffected(res, "printer", id)
	})
}

// SetPrinterStatus records the status feed's latest observation.
func (s *Store) SetPrinterStatus(ctx context.Context, id string, status types.PrinterStatus, printState string, at time.Time) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if !status.IsValid() {
		return fmt.Errorf("%w: printer status %q", storage.ErrInvalid, status)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE printers SET status = ?, print_state = ?, status_updated_at = ? WHERE id = ?`,
		string(status), printState, formatTime(at), id)
	if err != nil {
		return wrapDBErrorf(err, "set printer status %s", id)
	}
	return checkAffected(res, "printer", id)
}

// refuseActive returns storage.ErrConflict when active entries reference id
// through column.
func refuseActive(ctx context.Context, q querier, column, kind, id string) error {
	args := []any{id}
	for _, st := range storage.ActiveStatuses {
		args = append(args, string(st))
	}
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_entries WHERE `+column+` = ? AND status IN (`+
		placeholders(len(storage.ActiveStatuses))+`)`, args...).Scan(&n)
	if err != nil {
		return wrapDBError("count active entries", err)
	}
	if n > 0 {
		return fmt.Errorf("%s %s has %d active schedule entries: %w", kind, id, n, storage.ErrConflict)
	}
	return nil
}
