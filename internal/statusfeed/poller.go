package statusfeed

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/printfleet/printfleet/internal/debug"
)

// Target is one printer to poll.
type Target struct {
	PrinterID string
	BaseURL   string
}

// TargetSource lists the printers to poll. It is called before every round
// so printers added while the daemon runs are picked up.
type TargetSource func(ctx context.Context) ([]Target, error)

// DefaultConcurrency bounds parallel requests per round.
const DefaultConcurrency = 8

// Poller queries every target over HTTP on an interval.
type Poller struct {
	source      TargetSource
	registry    *Registry
	opts        []Option
	concurrency int

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
}

// NewPoller creates a poller reporting into reg. opts apply to every Client.
func NewPoller(source TargetSource, reg *Registry, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Poller{
		source:      source,
		registry:    reg,
		opts:        opts,
		concurrency: DefaultConcurrency,
		interval:    interval,
		reset:       make(chan struct{}, 1),
	}
}

// SetInterval changes the poll interval; the running loop picks it up
// immediately.
func (p *Poller) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	p.mu.Lock()
	p.interval = d
	p.mu.Unlock()
	select {
	case p.reset <- struct{}{}:
	default:
	}
}

// Interval returns the current poll interval.
func (p *Poller) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// PollOnce queries every target in parallel and reports each result. The
// returned states are in target order. Check failures are offline states,
// not errors; only a failing TargetSource is an error.
func (p *Poller) PollOnce(ctx context.Context) ([]PrinterState, error) {
	targets, err := p.source(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]PrinterState, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, t := range targets {
		g.Go(func() error {
			out[i] = NewClient(t.BaseURL, p.opts...).Check(gctx, t.PrinterID)
			if !out[i].Online {
				debug.Tagf("poll", "%s offline: %s\n", t.PrinterID, out[i].Error)
			}
			return nil
		})
	}
	_ = g.Wait()

	seen := make(map[string]bool, len(out))
	for _, st := range out {
		seen[st.PrinterID] = true
		p.registry.Report(st)
	}
	// Printers removed from the catalog drop out of the registry.
	for _, st := range p.registry.Snapshot() {
		if !seen[st.PrinterID] {
			p.registry.Disconnect(st.PrinterID)
		}
	}
	return out, nil
}

// Run polls until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	for {
		if _, err := p.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			debug.Tagf("poll", "listing printers: %v\n", err)
		}
		t := time.NewTimer(p.Interval())
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-p.reset:
			t.Stop()
		case <-t.C:
		}
	}
}
