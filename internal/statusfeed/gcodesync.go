package statusfeed

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// DefaultHistoryLimit is how many past jobs SyncGcodes reads.
const DefaultHistoryLimit = 200

// SyncOptions controls SyncGcodes.
type SyncOptions struct {
	// DefaultMaterial is used for files whose metadata names no filament.
	// A printer with a single material falls back to that one.
	DefaultMaterial string
	HistoryLimit    int
	// Prune removes stored gcodes of the printer whose file is gone.
	Prune bool
}

// SkippedFile is a printer file SyncGcodes could not turn into a gcode.
type SkippedFile struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SyncReport lists gcode IDs by what SyncGcodes did with them.
type SyncReport struct {
	PrinterID string        `json:"printer_id"`
	Files     int           `json:"files"`
	Created   []string      `json:"created"`
	Updated   []string      `json:"updated"`
	Unchanged []string      `json:"unchanged"`
	Removed   []string      `json:"removed,omitempty"`
	Skipped   []SkippedFile `json:"skipped,omitempty"`
}

// SyncGcodes makes the printer's stored gcodes match the files on its
// Moonraker instance. Estimates come from file metadata; the historical
// duration is the total duration of the latest completed job for the file,
// or the metadata's own figure when the history has none. Stored gcodes are
// matched by file path.
func SyncGcodes(ctx context.Context, store storage.Storage, client *Client, printer *types.Printer, opts SyncOptions) (*SyncReport, error) {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	files, err := client.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files on %s: %w", printer.ID, err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	jobs, err := client.History(ctx, opts.HistoryLimit)
	if err != nil {
		// The history component is optional in Moonraker.
		debug.Tagf("statusfeed", "history on %s unavailable: %v\n", printer.ID, err)
	}
	latest := latestCompleted(jobs)

	stored, err := store.ListGcodes(ctx, types.GcodeFilter{PrinterID: printer.ID})
	if err != nil {
		return nil, fmt.Errorf("list gcodes: %w", err)
	}
	byPath := make(map[string]*types.Gcode, len(stored))
	for _, g := range stored {
		if g.FilePath != "" {
			byPath[g.FilePath] = g
		}
	}

	r := &SyncReport{PrinterID: printer.ID, Files: len(files)}
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		if f.Path == "" {
			continue
		}
		seen[f.Path] = true
		md, err := client.FileMetadata(ctx, f.Path)
		if err != nil {
			r.Skipped = append(r.Skipped, SkippedFile{Path: f.Path, Reason: err.Error()})
			continue
		}
		material := fileMaterial(md.FilamentType, opts.DefaultMaterial, printer)
		switch {
		case material == "":
			r.Skipped = append(r.Skipped, SkippedFile{Path: f.Path, Reason: "metadata names no filament type"})
			continue
		case !printer.Supports(material):
			r.Skipped = append(r.Skipped, SkippedFile{Path: f.Path, Reason: "printer does not support " + material})
			continue
		}
		est := fromSeconds(md.EstimatedTime)
		if est < types.MinGcodeDuration {
			r.Skipped = append(r.Skipped, SkippedFile{Path: f.Path, Reason: "metadata has no estimated time"})
			continue
		}
		var hist *time.Duration
		if job, ok := latest[f.Path]; ok && fromSeconds(job.TotalDuration) >= types.MinGcodeDuration {
			d := fromSeconds(job.TotalDuration)
			hist = &d
		} else if md.HistoricalPrintTime != nil && fromSeconds(*md.HistoricalPrintTime) >= types.MinGcodeDuration {
			d := fromSeconds(*md.HistoricalPrintTime)
			hist = &d
		}

		cur, ok := byPath[f.Path]
		if !ok {
			g := &types.Gcode{
				PrinterID:          printer.ID,
				Name:               strings.TrimSuffix(path.Base(f.Path), path.Ext(f.Path)),
				FilePath:           f.Path,
				Material:           material,
				EstimatedDuration:  est,
				HistoricalDuration: hist,
			}
			if err := store.CreateGcode(ctx, g); err != nil {
				return r, fmt.Errorf("create gcode for %s: %w", f.Path, err)
			}
			r.Created = append(r.Created, g.ID)
			continue
		}
		if hist == nil {
			hist = cur.HistoricalDuration
		}
		if cur.Material == material && cur.EstimatedDuration == est && equalDuration(cur.HistoricalDuration, hist) {
			r.Unchanged = append(r.Unchanged, cur.ID)
			continue
		}
		next := *cur
		next.Material, next.EstimatedDuration, next.HistoricalDuration = material, est, hist
		if err := store.UpdateGcode(ctx, &next); err != nil {
			return r, fmt.Errorf("update gcode %s: %w", cur.ID, err)
		}
		r.Updated = append(r.Updated, cur.ID)
	}

	if opts.Prune {
		for _, g := range stored {
			if g.FilePath == "" || seen[g.FilePath] {
				continue
			}
			err := store.DeleteGcode(ctx, g.ID)
			switch {
			case err == nil:
				r.Removed = append(r.Removed, g.ID)
			case errors.Is(err, storage.ErrConflict):
				r.Skipped = append(r.Skipped, SkippedFile{Path: g.FilePath, Reason: "file is gone but " + g.ID + " has active entries"})
			default:
				return r, fmt.Errorf("remove gcode %s: %w", g.ID, err)
			}
		}
	}
	return r, nil
}

// latestCompleted maps each filename to its completed job with the latest
// end time.
func latestCompleted(jobs []Job) map[string]Job {
	out := make(map[string]Job)
	for _, j := range jobs {
		if j.Status != JobCompleted || j.EndTime == nil {
			continue
		}
		if prev, ok := out[j.Filename]; ok && *prev.EndTime >= *j.EndTime {
			continue
		}
		out[j.Filename] = j
	}
	return out
}

// fileMaterial picks a material from slicer metadata. Multi-extruder slicers
// separate filament types with ';'; the first one wins.
func fileMaterial(filamentType, fallback string, printer *types.Printer) string {
	first, _, _ := strings.Cut(filamentType, ";")
	if m := types.NormalizeMaterial(first); m != "" {
		return m
	}
	if m := types.NormalizeMaterial(fallback); m != "" {
		return m
	}
	if len(printer.Materials) == 1 {
		return types.NormalizeMaterial(printer.Materials[0])
	}
	return ""
}

func fromSeconds(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return time.Duration(math.Round(s)) * time.Second
}

func equalDuration(a, b *time.Duration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
