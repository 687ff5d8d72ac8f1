package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/printfleet/printfleet/internal/types"
)

// ctxCheckInterval is how many search nodes pass between context checks.
const ctxCheckInterval = 1024

// Variable is one component together with its candidate domain.
type Variable struct {
	Component *types.Component
	Domain    []Candidate
}

// Stats describes one solver run.
type Stats struct {
	Nodes      int           `json:"nodes"`
	Backtracks int           `json:"backtracks"`
	Elapsed    time.Duration `json:"elapsed_ns"`
}

// SolveOptions tunes the search. MaxNodes <= 0 means unlimited.
type SolveOptions struct {
	MaxNodes int
}

// Solve assigns exactly one candidate to every variable so that no finish
// passes due and no two assignments clash on a printer. The returned slice is
// parallel to vars after they are sorted into creation order.
//
// Errors: *EmptyDomainError when a variable has no candidate finishing by
// due (no search is run), ErrInfeasible when the search is exhausted,
// ErrSearchLimit when MaxNodes is exceeded, or the context error.
func Solve(ctx context.Context, vars []Variable, due time.Time, opts SolveOptions) ([]Candidate, Stats, error) {
	started := time.Now()
	sort.SliceStable(vars, func(i, j int) bool {
		return creationLess(vars[i].Component, vars[j].Component)
	})

	live := make([][]Candidate, len(vars))
	var empty []string
	for i, v := range vars {
		for _, c := range v.Domain {
			if !c.Finish.After(due) && c.Finish.After(c.Start) {
				live[i] = append(live[i], c)
			}
		}
		if len(live[i]) == 0 {
			empty = append(empty, v.Component.ID)
		}
	}
	if len(empty) > 0 {
		return nil, Stats{Elapsed: time.Since(started)}, &EmptyDomainError{Components: empty}
	}

	s := &search{ctx: ctx, maxNodes: opts.MaxNodes, chosen: make([]*Candidate, len(vars))}
	ok, err := s.descend(live)
	stats := Stats{Nodes: s.nodes, Backtracks: s.backtracks, Elapsed: time.Since(started)}
	if err != nil {
		return nil, stats, err
	}
	if !ok {
		return nil, stats, ErrInfeasible
	}
	out := make([]Candidate, len(vars))
	for i, c := range s.chosen {
		out[i] = *c
	}
	return out, stats, nil
}

// creationLess orders components by Seq, then ID.
func creationLess(a, b *types.Component) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

type search struct {
	ctx        context.Context
	maxNodes   int
	nodes      int
	backtracks int
	chosen     []*Candidate
}

// descend picks the unassigned variable with the smallest live domain and
// tries each of its candidates in order. Every live domain of an unassigned
// variable is already consistent with all committed choices.
func (s *search) descend(live [][]Candidate) (bool, error) {
	v := s.pick(live)
	if v < 0 {
		return true, nil
	}
	for _, cand := range live[v] {
		s.nodes++
		if s.nodes%ctxCheckInterval == 0 {
			if err := s.ctx.Err(); err != nil {
				return false, err
			}
		}
		if s.maxNodes > 0 && s.nodes > s.maxNodes {
			return false, ErrSearchLimit
		}

		next, ok := s.forward(live, v, cand)
		if !ok {
			continue
		}
		c := cand
		s.chosen[v] = &c
		done, err := s.descend(next)
		if err != nil || done {
			return done, err
		}
		s.chosen[v] = nil
		s.backtracks++
	}
	return false, nil
}

// pick returns the most constrained unassigned variable, or -1 when every
// variable is assigned. Ties keep creation order.
func (s *search) pick(live [][]Candidate) int {
	best := -1
	for i := range live {
		if s.chosen[i] != nil {
			continue
		}
		if best < 0 || len(live[i]) < len(live[best]) {
			best = i
		}
	}
	return best
}

// forward filters every other unassigned domain against cand. It fails as
// soon as one of them would become empty.
func (s *search) forward(live [][]Candidate, v int, cand Candidate) ([][]Candidate, bool) {
	next := make([][]Candidate, len(live))
	for u, dom := range live {
		if u == v || s.chosen[u] != nil {
			next[u] = dom
			continue
		}
		kept := make([]Candidate, 0, len(dom))
		for _, c := range dom {
			if !c.Clashes(cand) {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			return nil, false
		}
		next[u] = kept
	}
	return next, true
}
