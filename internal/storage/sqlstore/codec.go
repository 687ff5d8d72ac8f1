package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/printfleet/printfleet/internal/types"
)

// timeLayout is fixed-width so stored values sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older tooling
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// seconds rounds partial seconds up so a stored duration never shrinks.
func seconds(d time.Duration) int64 {
	n := int64(d / time.Second)
	if d%time.Second > 0 {
		n++
	}
	return n
}

func fromSeconds(n int64) time.Duration {
	return time.Duration(n) * time.Second
}

func nullSeconds(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: seconds(*d), Valid: true}
}

func parseNullSeconds(n sql.NullInt64) *time.Duration {
	if !n.Valid {
		return nil
	}
	d := fromSeconds(n.Int64)
	return &d
}

func windowColumns(w *types.Window) (sql.NullInt64, sql.NullInt64) {
	if w == nil {
		return sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(w.Start), Valid: true}, sql.NullInt64{Int64: int64(w.End), Valid: true}
}

func parseWindow(start, end sql.NullInt64) *types.Window {
	if !start.Valid || !end.Valid {
		return nil
	}
	return &types.Window{Start: types.TimeOfDay(start.Int64), End: types.TimeOfDay(end.Int64)}
}

func joinMaterials(m []string) string {
	return strings.Join(types.NormalizeMaterials(m), ",")
}

func splitMaterials(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
