// Package api serves the scheduler over HTTP for pf serve.
package api

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/storage"
)

// DetermineAccess inspects the requested listen address and returns whether
// authentication is required (i.e., binding to a non-loopback/unspecified host).
// It rejects remote bindings unless allowRemote is explicitly enabled.
func DetermineAccess(listenAddr string, allowRemote bool) (bool, error) {
	host, _, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return false, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	if isLoopbackHost(host) {
		return false, nil
	}
	if !allowRemote {
		return false, fmt.Errorf("refusing remote bind to %q without --allow-remote", host)
	}
	return true, nil
}

// Config captures the inputs required to build the API handler.
type Config struct {
	Store     storage.Storage
	Scheduler Scheduler
	// Status serves /api/v1/printers/status. When nil the stored printer
	// status is reported instead.
	Status      StatusSource
	RequireAuth bool
	AuthToken   string
}

// NewHandler constructs the HTTP handler for the API server.
func NewHandler(cfg Config) (http.Handler, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is required")
	}
	if cfg.Scheduler == nil {
		return nil, errors.New("scheduler is required")
	}
	if cfg.RequireAuth && strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("auth token required when authentication is enabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", healthHandler)
	mux.Handle("POST /api/v1/products/{id}/schedule", NewScheduleHandler(cfg.Scheduler))
	mux.Handle("GET /api/v1/schedule", NewEntryListHandler(cfg.Store))
	mux.Handle("POST /api/v1/entries/{id}/status", NewEntryStatusHandler(cfg.Store))
	mux.Handle("GET /api/v1/printers/status", NewPrinterStatusHandler(cfg.Status, cfg.Store))

	logged := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		debug.Logf("api: %s %s\n", r.Method, r.URL.Path)
		mux.ServeHTTP(w, r)
	})
	if !cfg.RequireAuth {
		return logged, nil
	}

	expectedHeader := "Bearer " + strings.TrimSpace(cfg.AuthToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actual := strings.TrimSpace(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare([]byte(actual), []byte(expectedHeader)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="printfleet"`)
			WriteJSONError(w, http.StatusUnauthorized, "unauthorized", "")
			return
		}
		logged.ServeHTTP(w, r)
	}), nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
