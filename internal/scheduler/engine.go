// Package scheduler assigns product components to printers.
//
// A request runs in three steps. BuildDomain enumerates every (printer,
// gcode, start) candidate of each component, Solve searches for one
// consistent assignment, and Materialize commits it as schedule entries in a
// single transaction. Engine wires the three together against a store and a
// reachability snapshot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/telemetry"
	"github.com/printfleet/printfleet/internal/types"
)

// Default tuning values. config mirrors them under schedule.*.
const (
	DefaultStep    = 5 * time.Minute
	DefaultHorizon = 14 * 24 * time.Hour
	DefaultTimeout = 30 * time.Second
)

// Options configures an Engine. Zero values fall back to the defaults.
type Options struct {
	Step     time.Duration
	Horizon  time.Duration
	Timeout  time.Duration
	MaxNodes int
	Location *time.Location
	Now      func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	if o.Horizon <= 0 {
		o.Horizon = DefaultHorizon
	}
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Status is the outcome of a scheduling request.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInfeasible Status = "infeasible"
)

// Result is returned for every request that got as far as solving.
type Result struct {
	Status             Status                 `json:"status"`
	ProductID          string                 `json:"product_id"`
	Entries            []*types.ScheduleEntry `json:"entries"`
	Reason             string                 `json:"reason,omitempty"`
	UnsatisfiableItems []string               `json:"unsatisfiable_items,omitempty"`
	Pinned             []string               `json:"pinned,omitempty"`
	DryRun             bool                   `json:"dry_run,omitempty"`
	Stats              Stats                  `json:"stats"`

	cause error
}

// Cause returns the typed error behind an infeasible result, or nil.
func (r *Result) Cause() error { return r.cause }

// Engine runs scheduling requests against a store.
type Engine struct {
	store storage.Storage
	reach Reachability
	opts  Options
	locks *ResourceLocks

	metrics *telemetry.SchedulerMetrics
}

// New creates an engine. A nil reach treats every printer as reachable.
func New(store storage.Storage, reach Reachability, opts Options) *Engine {
	if reach == nil {
		reach = AllReachable
	}
	return &Engine{
		store:   store,
		reach:   reach,
		opts:    opts.withDefaults(),
		locks:   NewResourceLocks(),
		metrics: telemetry.NewSchedulerMetrics(),
	}
}

// Schedule plans every schedulable component of the product and commits the
// result. Infeasibility comes back as a Result with a nil error; input
// errors, conflicts, timeouts and storage failures are returned as errors.
func (e *Engine) Schedule(ctx context.Context, productID string) (*Result, error) {
	return e.run(ctx, productID, false)
}

// Plan is Schedule without the commit.
func (e *Engine) Plan(ctx context.Context, productID string) (*Result, error) {
	return e.run(ctx, productID, true)
}

func (e *Engine) run(ctx context.Context, productID string, dryRun bool) (res *Result, err error) {
	start := time.Now()
	defer func() {
		outcome := telemetry.OutcomeError
		if err == nil {
			outcome = string(res.Status)
		} else if errors.Is(err, ErrConflict) {
			outcome = telemetry.OutcomeConflict
		}
		e.metrics.Request(ctx, outcome, dryRun, time.Since(start))
	}()

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	req, err := e.load(ctx, productID)
	if err != nil {
		return nil, err
	}
	res = &Result{Status: StatusScheduled, ProductID: productID, DryRun: dryRun, Pinned: req.pinned}
	if len(req.components) == 0 {
		// Everything is already printing or printed.
		res.Entries = []*types.ScheduleEntry{}
		return res, nil
	}

	online := snapshot(e.reach, req.catalog.Printers)
	vars := make([]Variable, len(req.components))
	for i, c := range req.components {
		vars[i] = Variable{Component: c, Domain: BuildDomain(c, req.catalog, online, req.horizon)}
		debug.Logf("scheduler: component %s has %d candidates\n", c.ID, len(vars[i].Domain))
	}

	plan, stats, err := Solve(ctx, vars, req.product.DueDate, SolveOptions{MaxNodes: e.opts.MaxNodes})
	res.Stats = stats
	e.metrics.SolverNodes(ctx, stats.Nodes)
	if err != nil {
		var empty *EmptyDomainError
		switch {
		case errors.As(err, &empty):
			res.UnsatisfiableItems = empty.Components
		case errors.Is(err, ErrInfeasible):
		default:
			return nil, err
		}
		res.Status = StatusInfeasible
		res.Entries = []*types.ScheduleEntry{}
		res.Reason = err.Error()
		res.cause = err
		return res, nil
	}

	comps := make([]*types.Component, len(vars))
	for i, v := range vars {
		comps[i] = v.Component
	}
	if dryRun {
		res.Entries = make([]*types.ScheduleEntry, len(plan))
		for i, c := range plan {
			res.Entries[i] = &types.ScheduleEntry{
				ComponentID: comps[i].ID,
				ProductID:   productID,
				PrinterID:   c.PrinterID,
				GcodeID:     c.GcodeID,
				Start:       c.Start,
				Finish:      c.Finish,
				Deadline:    req.product.DueDate,
				Status:      types.EntryScheduled,
			}
		}
		return res, nil
	}

	entries, err := Materialize(ctx, e.store, e.locks, req.product, comps, plan)
	if err != nil {
		return nil, err
	}
	res.Entries = entries
	return res, nil
}

type request struct {
	product    *types.Product
	components []*types.Component
	pinned     []string
	catalog    *Catalog
	horizon    Horizon
}

// load validates the product and reads everything the domain builder needs.
func (e *Engine) load(ctx context.Context, productID string) (*request, error) {
	if strings.TrimSpace(productID) == "" {
		return nil, &InputError{Field: "product_id", Reason: "is required"}
	}
	product, err := e.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, &InputError{Field: "product_id", Reason: fmt.Sprintf("product %s does not exist", productID), Err: err}
		}
		return nil, fmt.Errorf("load product: %w", err)
	}
	if product.DueDate.IsZero() {
		return nil, &InputError{Field: "due_date", Reason: "product has no due date"}
	}
	all, err := e.store.ListComponents(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load components: %w", err)
	}
	if len(all) == 0 {
		return nil, &InputError{Field: "components", Reason: fmt.Sprintf("product %s has no components", productID)}
	}
	for _, c := range all {
		if types.NormalizeMaterial(c.Material) == "" {
			return nil, &InputError{Field: "material", Reason: fmt.Sprintf("component %s has no material", c.ID)}
		}
	}

	printers, err := e.store.ListPrinters(ctx)
	if err != nil {
		return nil, fmt.Errorf("load printers: %w", err)
	}
	gcodes, err := e.store.ListGcodes(ctx, types.GcodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("load gcodes: %w", err)
	}
	active, err := e.store.ListEntries(ctx, types.EntryFilter{Statuses: storage.ActiveStatuses})
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	done, err := e.store.ListEntries(ctx, types.EntryFilter{ProductID: productID, Statuses: []types.EntryStatus{types.EntryCompleted}})
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}

	pinned := make(map[string]bool)
	for _, en := range append(active, done...) {
		if en.ProductID == productID && en.Status.IsPinned() {
			pinned[en.ComponentID] = true
		}
	}
	req := &request{product: product}
	mine := make(map[string]bool, len(all))
	for _, c := range all {
		if pinned[c.ID] {
			req.pinned = append(req.pinned, c.ID)
			continue
		}
		mine[c.ID] = true
		req.components = append(req.components, c)
	}

	cat := &Catalog{
		Printers: printers,
		Gcodes:   make(map[string][]*types.Gcode),
		Busy:     make(map[string][]*types.ScheduleEntry),
	}
	for _, g := range gcodes {
		cat.Gcodes[g.PrinterID] = append(cat.Gcodes[g.PrinterID], g)
	}
	for _, en := range active {
		// Entries about to be replaced do not block their own components.
		if mine[en.ComponentID] {
			continue
		}
		cat.Busy[en.PrinterID] = append(cat.Busy[en.PrinterID], en)
	}
	req.catalog = cat
	req.horizon = Horizon{
		Now:      e.opts.Now(),
		Due:      product.DueDate,
		Step:     e.opts.Step,
		Span:     e.opts.Horizon,
		Location: e.opts.Location,
	}
	return req, nil
}
