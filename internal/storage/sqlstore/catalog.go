package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/printfleet/printfleet/internal/idgen"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// ── Gcodes ──────────────────────────────────────────────────────────────────

const gcodeColumns = `id, printer_id, name, file_path, material, estimated_seconds, historical_seconds, created_at`

func scanGcode(row rowScanner) (*types.Gcode, error) {
	var (
		g          types.Gcode
		est        int64
		historical sql.NullInt64
		createdAt  string
	)
	if err := row.Scan(&g.ID, &g.PrinterID, &g.Name, &g.FilePath, &g.Material, &est, &historical, &createdAt); err != nil {
		return nil, err
	}
	g.EstimatedDuration = fromSeconds(est)
	g.HistoricalDuration = parseNullSeconds(historical)
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// CreateGcode inserts g. The owning printer must exist and support g's
// material; this is the only place that compatibility is checked.
func (s *Store) CreateGcode(ctx context.Context, g *types.Gcode) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	g.Material = types.NormalizeMaterial(g.Material)
	return s.inTx(ctx, func(conn *sql.Conn) error {
		p, err := scanPrinter(conn.QueryRowContext(ctx, `SELECT `+printerColumns+` FROM printers WHERE id = ?`, g.PrinterID))
		if err != nil {
			return wrapDBErrorf(err, "gcode printer %s", g.PrinterID)
		}
		if !p.Supports(g.Material) {
			return fmt.Errorf("%w: printer %s does not support material %s (supports %s)",
				storage.ErrInvalid, p.ID, g.Material, strings.Join(p.Materials, ","))
		}
		if g.ID == "" {
			g.ID = idgen.New(idgen.PrefixGcode, 0)
		}
		g.CreatedAt = s.now().UTC()
		_, err = conn.ExecContext(ctx, `INSERT INTO gcodes (`+gcodeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.PrinterID, g.Name, g.FilePath, g.Material, seconds(g.EstimatedDuration),
			nullSeconds(g.HistoricalDuration), formatTime(g.CreatedAt))
		if s.isDuplicate(err) {
			return fmt.Errorf("gcode %s: %w", g.ID, storage.ErrConflict)
		}
		return wrapDBError("insert gcode", err)
	})
}

// GetGcode retrieves a gcode by ID.
func (s *Store) GetGcode(ctx context.Context, id string) (*types.Gcode, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	g, err := scanGcode(s.db.QueryRowContext(ctx, `SELECT `+gcodeColumns+` FROM gcodes WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBErrorf(err, "get gcode %s", id)
	}
	return g, nil
}

// ListGcodes returns gcodes matching filter ordered by printer then ID.
func (s *Store) ListGcodes(ctx context.Context, filter types.GcodeFilter) ([]*types.Gcode, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if filter.PrinterID != "" {
		where = append(where, "printer_id = ?")
		args = append(args, filter.PrinterID)
	}
	if filter.Material != "" {
		where = append(where, "material = ?")
		args = append(args, types.NormalizeMaterial(filter.Material))
	}
	query := `SELECT ` + gcodeColumns + ` FROM gcodes`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY printer_id, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBError("list gcodes", err)
	}
	defer rows.Close()
	var out []*types.Gcode
	for rows.Next() {
		g, err := scanGcode(rows)
		if err != nil {
			return nil, wrapDBError("scan gcode", err)
		}
		out = append(out, g)
	}
	return out, wrapDBError("list gcodes", rows.Err())
}

// UpdateGcode rewrites g's name, file, material and durations. The printer
// cannot change and must support the new material.
func (s *Store) UpdateGcode(ctx context.Context, g *types.Gcode) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	g.Material = types.NormalizeMaterial(g.Material)
	return s.inTx(ctx, func(conn *sql.Conn) error {
		cur, err := scanGcode(conn.QueryRowContext(ctx, `SELECT `+gcodeColumns+` FROM gcodes WHERE id = ?`, g.ID))
		if err != nil {
			return wrapDBErrorf(err, "get gcode %s", g.ID)
		}
		if cur.PrinterID != g.PrinterID {
			return fmt.Errorf("%w: gcode %s belongs to printer %s", storage.ErrInvalid, g.ID, cur.PrinterID)
		}
		p, err := scanPrinter(conn.QueryRowContext(ctx, `SELECT `+printerColumns+` FROM printers WHERE id = ?`, g.PrinterID))
		if err != nil {
			return wrapDBErrorf(err, "gcode printer %s", g.PrinterID)
		}
		if !p.Supports(g.Material) {
			return fmt.Errorf("%w: printer %s does not support material %s (supports %s)",
				storage.ErrInvalid, p.ID, g.Material, strings.Join(p.Materials, ","))
		}
		g.CreatedAt = cur.CreatedAt
		_, err = conn.ExecContext(ctx, `UPDATE gcodes SET name = ?, file_path = ?, material = ?, estimated_seconds = ?, historical_seconds = ? WHERE id = ?`,
			g.Name, g.FilePath, g.Material, seconds(g.EstimatedDuration), nullSeconds(g.HistoricalDuration), g.ID)
		return wrapDBErrorf(err, "update gcode %s", g.ID)
	})
}

// DeleteGcode removes a gcode unless active entries still use it.
func (s *Store) DeleteGcode(ctx context.Context, id string) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		if err := refuseActive(ctx, conn, "gcode_id", "gcode", id); err != nil {
			return err
		}
		if _, err := conn.ExecContext(ctx, `DELETE FROM component_gcodes WHERE gcode_id = ?`, id); err != nil {
			return wrapDBError("delete gcode links", err)
		}
		res, err := conn.ExecContext(ctx, `DELETE FROM gcodes WHERE id = ?`, id)
		if err != nil {
			return wrapDBErrorf(err, "delete gcode %s", id)
		}
		return checkAffected(res, "gcode", id)
	})
}

// ── Products ────────────────────────────────────────────────────────────────

const productColumns = `id, name, description, due_date, created_at`

func scanProduct(row rowScanner) (*types.Product, error) {
	var (
		p              types.Product
		due, createdAt string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &due, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if p.DueDate, err = parseTime(due); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreateProduct inserts p. The due date is fixed from here on.
func (s *Store) CreateProduct(ctx context.Context, p *types.Product) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	if p.ID == "" {
		p.ID = idgen.New(idgen.PrefixProduct, 0)
	}
	p.DueDate = p.DueDate.UTC()
	p.CreatedAt = s.now().UTC()
	_, err := s.db.ExecContext(ctx, `INSERT INTO products (`+productColumns+`) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Description, formatTime(p.DueDate), formatTime(p.CreatedAt))
	if s.isDuplicate(err) {
		return fmt.Errorf("product %s: %w", p.ID, storage.ErrConflict)
	}
	return wrapDBError("insert product", err)
}

// GetProduct retrieves a product by ID.
func (s *Store) GetProduct(ctx context.Context, id string) (*types.Product, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBErrorf(err, "get product %s", id)
	}
	return p, nil
}

// ListProducts returns products by due date, then ID.
func (s *Store) ListProducts(ctx context.Context) ([]*types.Product, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products ORDER BY due_date, id`)
	if err != nil {
		return nil, wrapDBError("list products", err)
	}
	defer rows.Close()
	var out []*types.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, wrapDBError("scan product", err)
		}
		out = append(out, p)
	}
	return out, wrapDBError("list products", rows.Err())
}

// DeleteProduct removes a product with its components and their entries.
// It refuses while any component is in progress.
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_entries WHERE product_id = ? AND status = ?`,
			id, string(types.EntryInProgress)).Scan(&n); err != nil {
			return wrapDBError("count in-progress entries", err)
		}
		if n > 0 {
			return fmt.Errorf("product %s has %d prints in progress: %w", id, n, storage.ErrConflict)
		}
		for _, stmt := range []string{
			`DELETE FROM schedule_entries WHERE product_id = ?`,
			`DELETE FROM component_gcodes WHERE component_id IN (SELECT id FROM components WHERE product_id = ?)`,
			`DELETE FROM components WHERE product_id = ?`,
		} {
			if _, err := conn.ExecContext(ctx, stmt, id); err != nil {
				return wrapDBErrorf(err, "delete product %s", id)
			}
		}
		res, err := conn.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id)
		if err != nil {
			return wrapDBErrorf(err, "delete product %s", id)
		}
		return checkAffected(res, "product", id)
	})
}

// ── Components ──────────────────────────────────────────────────────────────

const componentColumns = `id, product_id, name, material, seq, created_at`

func scanComponent(row rowScanner) (*types.Component, error) {
	var (
		c         types.Component
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.ProductID, &c.Name, &c.Material, &c.Seq, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateComponent inserts c with the next creation sequence number within
// its product, and records its allowed gcode set.
func (s *Store) CreateComponent(ctx context.Context, c *types.Component) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalid, err)
	}
	c.Material = types.NormalizeMaterial(c.Material)
	return s.inTx(ctx, func(conn *sql.Conn) error {
		var exists int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE id = ?`, c.ProductID).Scan(&exists); err != nil {
			return wrapDBError("check product", err)
		}
		if exists == 0 {
			return notFound("product", c.ProductID)
		}
		for _, gid := range c.AllowedGcodes {
			var n int
			if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM gcodes WHERE id = ?`, gid).Scan(&n); err != nil {
				return wrapDBError("check gcode", err)
			}
			if n == 0 {
				return notFound("gcode", gid)
			}
		}
		var maxSeq sql.NullInt64
		if err := conn.QueryRowContext(ctx, `SELECT MAX(seq) FROM components WHERE product_id = ?`, c.ProductID).Scan(&maxSeq); err != nil {
			return wrapDBError("next component seq", err)
		}
		c.Seq = int(maxSeq.Int64) + 1
		if c.ID == "" {
			c.ID = idgen.New(idgen.PrefixComponent, 0)
		}
		c.CreatedAt = s.now().UTC()
		_, err := conn.ExecContext(ctx, `INSERT INTO components (`+componentColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.ProductID, c.Name, c.Material, c.Seq, formatTime(c.CreatedAt))
		if s.isDuplicate(err) {
			return fmt.Errorf("component %s: %w", c.ID, storage.ErrConflict)
		}
		if err != nil {
			return wrapDBError("insert component", err)
		}
		for _, gid := range c.AllowedGcodes {
			if _, err := conn.ExecContext(ctx, `INSERT INTO component_gcodes (component_id, gcode_id) VALUES (?, ?)`, c.ID, gid); err != nil {
				if s.isDuplicate(err) {
					continue
				}
				return wrapDBError("insert component gcode", err)
			}
		}
		return nil
	})
}

// GetComponent retrieves a component with its allowed gcode set.
func (s *Store) GetComponent(ctx context.Context, id string) (*types.Component, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	c, err := scanComponent(s.db.QueryRowContext(ctx, `SELECT `+componentColumns+` FROM components WHERE id = ?`, id))
	if err != nil {
		return nil, wrapDBErrorf(err, "get component %s", id)
	}
	if err := s.loadAllowed(ctx, []*types.Component{c}); err != nil {
		return nil, err
	}
	return c, nil
}

// ListComponents returns a product's components in creation order.
func (s *Store) ListComponents(ctx context.Context, productID string) ([]*types.Component, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+componentColumns+` FROM components WHERE product_id = ? ORDER BY seq, id`, productID)
	if err != nil {
		return nil, wrapDBError("list components", err)
	}
	var out []*types.Component
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			rows.Close()
			return nil, wrapDBError("scan component", err)
		}
		out = append(out, c)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, wrapDBError("list components", err)
	}
	if err := s.loadAllowed(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) loadAllowed(ctx context.Context, comps []*types.Component) error {
	if len(comps) == 0 {
		return nil
	}
	byID := make(map[string]*types.Component, len(comps))
	args := make([]any, 0, len(comps))
	for _, c := range comps {
		byID[c.ID] = c
		args = append(args, c.ID)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT component_id, gcode_id FROM component_gcodes
		WHERE component_id IN (`+placeholders(len(args))+`) ORDER BY component_id, gcode_id`, args...)
	if err != nil {
		return wrapDBError("load allowed gcodes", err)
	}
	defer rows.Close()
	for rows.Next() {
		var cid, gid string
		if err := rows.Scan(&cid, &gid); err != nil {
			return wrapDBError("scan allowed gcode", err)
		}
		if c := byID[cid]; c != nil {
			c.AllowedGcodes = append(c.AllowedGcodes, gid)
		}
	}
	return wrapDBError("load allowed gcodes", rows.Err())
}

// DeleteComponent removes a component and its schedule entry unless the
// entry is in progress.
func (s *Store) DeleteComponent(ctx context.Context, id string) error {
	return s.inTx(ctx, func(conn *sql.Conn) error {
		var n int
		if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schedule_entries WHERE component_id = ? AND status = ?`,
			id, string(types.EntryInProgress)).Scan(&n); err != nil {
			return wrapDBError("count in-progress entries", err)
		}
		if n > 0 {
			return fmt.Errorf("component %s is printing: %w", id, storage.ErrConflict)
		}
		for _, stmt := range []string{
			`DELETE FROM schedule_entries WHERE component_id = ?`,
			`DELETE FROM component_gcodes WHERE component_id = ?`,
		} {
			if _, err := conn.ExecContext(ctx, stmt, id); err != nil {
				return wrapDBErrorf(err, "delete component %s", id)
			}
		}
		res, err := conn.ExecContext(ctx, `DELETE FROM components WHERE id = ?`, id)
		if err != nil {
			return wrapDBErrorf(err, "delete component %s", id)
		}
		return checkAffected(res, "component", id)
	})
}
