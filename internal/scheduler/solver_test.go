package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printfleet/printfleet/internal/types"
)

func slot(printer string, h, m int, d time.Duration) Candidate {
	s := at(h, m)
	return Candidate{PrinterID: printer, GcodeID: "gc-" + printer, Start: s, Finish: s.Add(d)}
}

func variable(id string, seq int, dom ...Candidate) Variable {
	return Variable{Component: &types.Component{ID: id, Seq: seq}, Domain: dom}
}

func TestSolveOrdersByCreation(t *testing.T) {
	vars := []Variable{
		variable("cm-b", 2, slot("p", 10, 0, time.Hour), slot("p", 11, 0, time.Hour)),
		variable("cm-a", 1, slot("p", 10, 0, time.Hour), slot("p", 11, 0, time.Hour)),
	}
	got, _, err := Solve(context.Background(), vars, at(20, 0), SolveOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cm-a", vars[0].Component.ID)
	assert.Equal(t, at(10, 0), got[0].Start, "ties go to the earlier component")
	assert.Equal(t, at(11, 0), got[1].Start)
}

func TestSolveMostConstrainedFirst(t *testing.T) {
	// cm-a would naturally take 10:00, but cm-b can only go there.
	vars := []Variable{
		variable("cm-a", 1, slot("p", 10, 0, time.Hour), slot("p", 11, 0, time.Hour)),
		variable("cm-b", 2, slot("p", 10, 0, time.Hour)),
	}
	got, stats, err := Solve(context.Background(), vars, at(20, 0), SolveOptions{})
	require.NoError(t, err)
	assert.Equal(t, at(11, 0), got[0].Start)
	assert.Equal(t, at(10, 0), got[1].Start)
	assert.Zero(t, stats.Backtracks)
}

func TestSolveDeadlineRecheck(t *testing.T) {
	vars := []Variable{
		variable("cm-a", 1, slot("p", 10, 0, time.Hour)),
		variable("cm-b", 2, slot("p", 19, 30, time.Hour)),
	}
	_, _, err := Solve(context.Background(), vars, at(20, 0), SolveOptions{})
	var empty *EmptyDomainError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, []string{"cm-b"}, empty.Components)
}

func TestSolveEmptyDomainsListedInCreationOrder(t *testing.T) {
	vars := []Variable{
		variable("cm-c", 3),
		variable("cm-b", 2, slot("p", 10, 0, time.Hour)),
		variable("cm-a", 1),
	}
	_, stats, err := Solve(context.Background(), vars, at(20, 0), SolveOptions{})
	assert.ErrorIs(t, err, ErrEmptyDomain)
	assert.EqualError(t, err, "no compatible online printer can finish component(s) cm-a, cm-c before the due date")
	assert.Zero(t, stats.Nodes)
}

func TestSolveInfeasible(t *testing.T) {
	vars := []Variable{
		variable("cm-a", 1, slot("p", 10, 0, time.Hour), slot("p", 10, 30, time.Hour)),
		variable("cm-b", 2, slot("p", 10, 15, time.Hour)),
	}
	got, stats, err := Solve(context.Background(), vars, at(20, 0), SolveOptions{})
	assert.Nil(t, got)
	assert.ErrorIs(t, err, ErrInfeasible)
	assert.Equal(t, 1, stats.Nodes)
}

func TestSolveAcrossPrinters(t *testing.T) {
	vars := []Variable{
		variable("cm-a", 1, slot("q", 10, 0, time.Hour), slot("p", 10, 0, 2*time.Hour)),
		variable("cm-b", 2, slot("q", 10, 30, time.Hour), slot("q", 11, 0, time.Hour)),
		variable("cm-c", 3, slot("p", 11, 0, time.Hour), slot("p", 12, 0, time.Hour)),
	}
	got, _, err := Solve(context.Background(), vars, at(20, 0), SolveOptions{})
	require.NoError(t, err)
	for i, a := range got {
		for _, b := range got[i+1:] {
			assert.False(t, a.Clashes(b), "%+v clashes with %+v", a, b)
		}
	}
}

// pigeonhole builds n components competing for n-1 disjoint slots.
func pigeonhole(n int) []Variable {
	var slots []Candidate
	for i := 0; i < n-1; i++ {
		slots = append(slots, slot("p", 10+i, 0, time.Hour))
	}
	vars := make([]Variable, n)
	for i := range vars {
		vars[i] = variable(fmt.Sprintf("cm-%02d", i), i+1, slots...)
	}
	return vars
}

func TestSolveNodeLimit(t *testing.T) {
	_, stats, err := Solve(context.Background(), pigeonhole(5), at(20, 0), SolveOptions{MaxNodes: 10})
	assert.ErrorIs(t, err, ErrSearchLimit)
	assert.False(t, errors.Is(err, ErrInfeasible))
	assert.Equal(t, 11, stats.Nodes)

	_, stats, err = Solve(context.Background(), pigeonhole(5), at(20, 0), SolveOptions{})
	assert.ErrorIs(t, err, ErrInfeasible)
	assert.Equal(t, 64, stats.Nodes)
	assert.Positive(t, stats.Backtracks)
}

func TestSolveHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Big enough to pass the periodic context check.
	_, stats, err := Solve(ctx, pigeonhole(8), at(20, 0), SolveOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ctxCheckInterval, stats.Nodes)
}
