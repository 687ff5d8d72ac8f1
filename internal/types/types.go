// Package types defines the core data structures for the printer fleet scheduler.
package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidTransition is returned when a schedule entry status change is not
// allowed by the entry lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// PrinterStatus is the last known reachability of a printer.
type PrinterStatus string

const (
	PrinterOnline  PrinterStatus = "online"
	PrinterOffline PrinterStatus = "offline"
	PrinterUnknown PrinterStatus = "unknown"
)

// IsValid checks if the printer status value is valid
func (s PrinterStatus) IsValid() bool {
	switch s {
	case PrinterOnline, PrinterOffline, PrinterUnknown:
		return true
	}
	return false
}

// Printer is a schedulable machine. Only printers reported reachable by the
// status feed receive work.
type Printer struct {
	ID              string        `json:"id"`
	Name            string        `json:"name"`
	Model           string        `json:"model,omitempty"`
	Host            string        `json:"host,omitempty"`
	Port            int           `json:"port,omitempty"`
	Window          *Window       `json:"window,omitempty"`
	Materials       []string      `json:"materials"`
	HeatedChamber   bool          `json:"heated_chamber,omitempty"`
	Status          PrinterStatus `json:"status"`
	PrintState      string        `json:"print_state,omitempty"`
	StatusUpdatedAt *time.Time    `json:"status_updated_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Validate checks if the printer has valid field values
func (p *Printer) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.Port < 0 || p.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535 (got %d)", p.Port)
	}
	if p.Window != nil {
		if err := p.Window.Validate(); err != nil {
			return fmt.Errorf("availability window: %w", err)
		}
	}
	if p.Status != "" && !p.Status.IsValid() {
		return fmt.Errorf("invalid printer status: %s", p.Status)
	}
	return nil
}

// SetDefaults normalises materials and fills an unknown status.
func (p *Printer) SetDefaults() {
	p.Materials = NormalizeMaterials(p.Materials)
	if p.Status == "" {
		p.Status = PrinterUnknown
	}
}

// Supports reports whether the printer can print the material.
func (p *Printer) Supports(material string) bool {
	m := NormalizeMaterial(material)
	for _, have := range p.Materials {
		if have == m {
			return true
		}
	}
	return false
}

// Address returns host:port of the printer's Moonraker endpoint.
func (p *Printer) Address() string {
	port := p.Port
	if port == 0 {
		port = DefaultMoonrakerPort
	}
	return fmt.Sprintf("%s:%d", p.Host, port)
}

// DefaultMoonrakerPort is used when a printer is registered without a port.
const DefaultMoonrakerPort = 7125

// Gcode is a sliced machine file bound to one printer. Its estimated duration
// is what the scheduler plans with.
type Gcode struct {
	ID                 string         `json:"id"`
	PrinterID          string         `json:"printer_id"`
	Name               string         `json:"name"`
	FilePath           string         `json:"file_path,omitempty"`
	Material           string         `json:"material"`
	EstimatedDuration  time.Duration  `json:"estimated_duration"`
	HistoricalDuration *time.Duration `json:"historical_duration,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
}

// MinGcodeDuration is the shortest print time a gcode may declare. Stores
// keep durations in whole seconds.
const MinGcodeDuration = time.Second

// Validate checks if the gcode has valid field values
func (g *Gcode) Validate() error {
	if g.PrinterID == "" {
		return fmt.Errorf("printer_id is required")
	}
	if strings.TrimSpace(g.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if NormalizeMaterial(g.Material) == "" {
		return fmt.Errorf("material is required")
	}
	if g.EstimatedDuration < MinGcodeDuration {
		return fmt.Errorf("estimated duration must be at least %s (got %s)", MinGcodeDuration, g.EstimatedDuration)
	}
	if g.HistoricalDuration != nil && *g.HistoricalDuration < MinGcodeDuration {
		return fmt.Errorf("historical duration must be at least %s", MinGcodeDuration)
	}
	return nil
}

// Product groups components that share a due date.
type Product struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks if the product has valid field values
func (p *Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if p.DueDate.IsZero() {
		return fmt.Errorf("due date is required")
	}
	return nil
}

// Component is one printable part of a product. Each component needs exactly
// one placement on one printer.
type Component struct {
	ID            string    `json:"id"`
	ProductID     string    `json:"product_id"`
	Name          string    `json:"name"`
	Material      string    `json:"material"`
	AllowedGcodes []string  `json:"allowed_gcodes,omitempty"`
	Seq           int       `json:"seq"`
	CreatedAt     time.Time `json:"created_at"`
}

// Validate checks if the component has valid field values
func (c *Component) Validate() error {
	if c.ProductID == "" {
		return fmt.Errorf("product_id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if NormalizeMaterial(c.Material) == "" {
		return fmt.Errorf("material is required")
	}
	return nil
}

// EntryStatus is the lifecycle state of a schedule entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryScheduled  EntryStatus = "scheduled"
	EntryInProgress EntryStatus = "in-progress"
	EntryCompleted  EntryStatus = "completed"
	EntryFailed     EntryStatus = "failed"
)

// IsValid checks if the entry status value is valid
func (s EntryStatus) IsValid() bool {
	switch s {
	case EntryPending, EntryScheduled, EntryInProgress, EntryCompleted, EntryFailed:
		return true
	}
	return false
}

// IsActive reports whether an entry in this state occupies printer time.
func (s EntryStatus) IsActive() bool {
	return s == EntryPending || s == EntryScheduled || s == EntryInProgress
}

// IsPinned reports whether the entry can no longer be rescheduled.
func (s EntryStatus) IsPinned() bool {
	return s == EntryInProgress || s == EntryCompleted
}

var entryTransitions = map[EntryStatus][]EntryStatus{
	EntryPending:    {EntryScheduled},
	EntryScheduled:  {EntryInProgress, EntryFailed},
	EntryInProgress: {EntryCompleted, EntryFailed},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to EntryStatus) bool {
	for _, next := range entryTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition wrapped with both states when
// from -> to is not allowed.
func CheckTransition(from, to EntryStatus) error {
	if !to.IsValid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ScheduleEntry is the persisted placement of one component.
type ScheduleEntry struct {
	ID          string      `json:"id"`
	ComponentID string      `json:"component_id"`
	ProductID   string      `json:"product_id"`
	PrinterID   string      `json:"printer_id"`
	GcodeID     string      `json:"gcode_id"`
	Start       time.Time   `json:"start"`
	Finish      time.Time   `json:"finish"`
	Deadline    time.Time   `json:"deadline"`
	Status      EntryStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Validate checks if the entry has valid field values
func (e *ScheduleEntry) Validate() error {
	if e.ComponentID == "" || e.PrinterID == "" || e.GcodeID == "" {
		return fmt.Errorf("component, printer and gcode are required")
	}
	if !e.Finish.After(e.Start) {
		return fmt.Errorf("finish %s must be after start %s", e.Finish.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if !e.Status.IsValid() {
		return fmt.Errorf("invalid entry status: %s", e.Status)
	}
	return nil
}

// Overlaps reports whether the entry's [Start, Finish) intersects [start, finish).
func (e *ScheduleEntry) Overlaps(start, finish time.Time) bool {
	return start.Before(e.Finish) && e.Start.Before(finish)
}

// EntryFilter selects schedule entries. Zero fields match everything.
type EntryFilter struct {
	PrinterID    string
	ProductID    string
	ComponentIDs []string
	Statuses     []EntryStatus
}

// GcodeFilter selects gcodes. Zero fields match everything.
type GcodeFilter struct {
	PrinterID string
	Material  string
}

// NormalizeMaterial trims and upper-cases a material name so "pla " and "PLA"
// compare equal.
func NormalizeMaterial(m string) string {
	return strings.ToUpper(strings.TrimSpace(m))
}

// NormalizeMaterials normalises, deduplicates and sorts a material list.
func NormalizeMaterials(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = NormalizeMaterial(m)
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
