package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/printfleet/printfleet/internal/scheduler"
)

// Scheduler is the subset of *scheduler.Engine the API needs.
type Scheduler interface {
	Schedule(ctx context.Context, productID string) (*scheduler.Result, error)
	Plan(ctx context.Context, productID string) (*scheduler.Result, error)
}

// NewScheduleHandler runs a scheduling request for the product named in the
// path. ?dry_run=1 plans without writing.
//
// Status codes: 200 scheduled, 422 infeasible (the Result is still the
// body), 400 bad input, 409 lost a slot race, 503 timeout or search limit.
func NewScheduleHandler(s Scheduler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))

		run := s.Schedule
		if dryRun {
			run = s.Plan
		}
		res, err := run(r.Context(), id)
		if err != nil {
			writeScheduleError(w, err)
			return
		}
		status := http.StatusOK
		if res.Status == scheduler.StatusInfeasible {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, res)
	})
}

func writeScheduleError(w http.ResponseWriter, err error) {
	var input *scheduler.InputError
	switch {
	case errors.As(err, &input):
		WriteJSONError(w, http.StatusBadRequest, "invalid scheduling request", err.Error())
	case errors.Is(err, scheduler.ErrConflict):
		WriteJSONError(w, http.StatusConflict, "schedule conflict", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, scheduler.ErrSearchLimit):
		WriteServiceUnavailable(w, "scheduling did not finish", err.Error())
	default:
		WriteJSONError(w, http.StatusInternalServerError, "scheduling failed", err.Error())
	}
}
