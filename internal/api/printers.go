package api

import (
	"net/http"

	"github.com/printfleet/printfleet/internal/statusfeed"
	"github.com/printfleet/printfleet/internal/storage"
	"github.com/printfleet/printfleet/internal/types"
)

// StatusSource is a live reachability view; *statusfeed.Registry satisfies it.
type StatusSource interface {
	Snapshot() []statusfeed.PrinterState
}

type printerStatusResponse struct {
	Live     bool                      `json:"live"`
	Printers []statusfeed.PrinterState `json:"printers"`
}

// NewPrinterStatusHandler reports printer reachability from the live source,
// or from persisted printer status when live is nil.
func NewPrinterStatusHandler(live StatusSource, store storage.Storage) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if live != nil {
			states := live.Snapshot()
			if states == nil {
				states = []statusfeed.PrinterState{}
			}
			writeJSON(w, http.StatusOK, printerStatusResponse{Live: true, Printers: states})
			return
		}

		printers, err := store.ListPrinters(r.Context())
		if err != nil {
			writeStorageError(w, "list printers", err)
			return
		}
		states := make([]statusfeed.PrinterState, 0, len(printers))
		for _, p := range printers {
			st := statusfeed.PrinterState{
				PrinterID:  p.ID,
				Online:     p.Status == types.PrinterOnline,
				PrintState: p.PrintState,
			}
			if p.StatusUpdatedAt != nil {
				st.UpdatedAt = *p.StatusUpdatedAt
			}
			states = append(states, st)
		}
		writeJSON(w, http.StatusOK, printerStatusResponse{Printers: states})
	})
}
