package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// NewEntryListHandler lists schedule entries. Query parameters printer,
// product and status filter; status may repeat or be comma separated.
func NewEntryListHandler(store storage.Storage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := types.EntryFilter{
			PrinterID: strings.TrimSpace(q.Get("printer")),
			ProductID: strings.TrimSpace(q.Get("product")),
		}
		for _, raw := range q["status"] {
			for _, s := range strings.Split(raw, ",") {
				st := types.EntryStatus(strings.TrimSpace(s))
				if st == "" {
					continue
				}
				if !st.IsValid() {
					WriteJSONError(w, http.StatusBadRequest, "invalid status filter", fmt.Sprintf("unknown status %q", st))
					return
				}
				filter.Statuses = append(filter.Statuses, st)
			}
		}

		entries, err := store.ListEntries(r.Context(), filter)
		if err != nil {
			writeStorageError(w, "list schedule", err)
			return
		}
		if entries == nil {
			entries = []*types.ScheduleEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	})
}

type statusRequest struct {
	Status string `json:"status"`
}

// NewEntryStatusHandler moves an entry along its lifecycle.
func NewEntryStatusHandler(store storage.Storage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close() // nolint:errcheck

		var req statusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteJSONError(w, http.StatusBadRequest, "decode payload", err.Error())
			return
		}
		status := types.EntryStatus(strings.TrimSpace(req.Status))
		if status == "" {
			WriteJSONError(w, http.StatusBadRequest, "status is required", "")
			return
		}

		entry, err := store.UpdateEntryStatus(r.Context(), r.PathValue("id"), status)
		if err != nil {
			writeStorageError(w, "update entry status", err)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	})
}

func writeStorageError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		WriteJSONError(w, http.StatusNotFound, op+": not found", err.Error())
	case errors.Is(err, types.ErrInvalidTransition), errors.Is(err, storage.ErrConflict):
		WriteJSONError(w, http.StatusConflict, op+": conflict", err.Error())
	case errors.Is(err, storage.ErrInvalid):
		WriteJSONError(w, http.StatusBadRequest, op+": invalid", err.Error())
	case errors.Is(err, storage.ErrClosed):
		WriteServiceUnavailable(w, op+": store closed", err.Error())
	default:
		WriteJSONError(w, http.StatusInternalServerError, op+" failed", err.Error())
	}
}
