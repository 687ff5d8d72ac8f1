package scheduler

import (
	"time"

	"github.com/printfleet/printfleet/internal/types"
)

// Reachability answers whether a printer can currently receive work. The
// engine queries it once per printer per request.
type Reachability interface {
	IsResourceReachable(printerID string) bool
}

// ReachabilityFunc adapts a plain function to Reachability.
type ReachabilityFunc func(printerID string) bool

func (f ReachabilityFunc) IsResourceReachable(printerID string) bool { return f(printerID) }

// AllReachable treats every printer as online.
var AllReachable = ReachabilityFunc(func(string) bool { return true })

// StoredReachability reads the status last persisted on each printer by the
// status daemon. With MaxAge > 0 a status older than MaxAge counts as
// unreachable.
type StoredReachability struct {
	status map[string]bool
}

// NewStoredReachability builds a snapshot from printer records.
func NewStoredReachability(printers []*types.Printer, now time.Time, maxAge time.Duration) *StoredReachability {
	r := &StoredReachability{status: make(map[string]bool, len(printers))}
	for _, p := range printers {
		ok := p.Status == types.PrinterOnline
		if ok && maxAge > 0 {
			ok = p.StatusUpdatedAt != nil && now.Sub(*p.StatusUpdatedAt) <= maxAge
		}
		r.status[p.ID] = ok
	}
	return r
}

func (r *StoredReachability) IsResourceReachable(printerID string) bool {
	return r.status[printerID]
}

// snapshot queries reach once for every printer.
func snapshot(reach Reachability, printers []*types.Printer) map[string]bool {
	out := make(map[string]bool, len(printers))
	for _, p := range printers {
		out[p.ID] = reach.IsResourceReachable(p.ID)
	}
	return out
}
