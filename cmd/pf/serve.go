package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/printfleet/printfleet/internal/api"
	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/scheduler"
	"github.com/printfleet/printfleet/internal/statusfeed"
	"github.com/printfleet/printfleet/internal/types"
)

var (
	serveAddr        string
	serveAllowRemote bool
	serveToken       string
	serveNoFeed      bool
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Serve the scheduling API over HTTP",
	GroupID: "daemons",
	Long: `Serves a JSON API:

  GET  /healthz
  POST /api/v1/products/{id}/schedule[?dry_run=1]
  GET  /api/v1/schedule?printer=&product=&status=
  POST /api/v1/entries/{id}/status   {"status": "in-progress"}
  GET  /api/v1/printers/status

The server runs its own status feed, so scheduling requests see live
printer reachability. Pass --no-feed when pf watch already runs; stored
status is used instead. Binding a non-loopback address requires
--allow-remote and bearer-token auth.`,
	Run: func(cmd *cobra.Command, args []string) {
		if show, _ := cmd.Flags().GetBool("status"); show {
			printDaemonStatus("serve")
			return
		}
		if err := runServe(getRootContext(), cmd); err != nil {
			FatalError("%v", err)
		}
	},
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	addr := serveAddr
	if addr == "" {
		addr = config.GetString("serve.addr")
	}
	requireAuth, err := api.DetermineAccess(addr, serveAllowRemote)
	if err != nil {
		return err
	}
	token := strings.TrimSpace(serveToken)
	if token == "" {
		token = strings.TrimSpace(config.GetString("serve.token"))
	}
	requireAuth = requireAuth || token != ""
	if requireAuth && token == "" {
		if token, err = generateAuthToken(); err != nil {
			return fmt.Errorf("generate auth token: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "API auth token: %s\n", token)
		fmt.Fprintf(cmd.OutOrStdout(), "Send requests with header: Authorization: Bearer %s\n", token)
	}

	lock := acquireDaemonLock("serve")
	defer func() { _ = lock.Release() }()

	cfg := api.Config{Store: store, RequireAuth: requireAuth, AuthToken: token}
	g, gctx := errgroup.WithContext(ctx)
	if serveNoFeed {
		cfg.Scheduler = newEngine(storedStatus{maxAge: config.GetDuration("status.max-age")})
	} else {
		reg := newFeedRegistry()
		defer reg.Close()
		cfg.Status = reg
		cfg.Scheduler = newEngine(reg)
		g.Go(func() error {
			statusfeed.Persist(gctx, reg, store)
			return nil
		})
		g.Go(func() error { return runFeed(gctx, reg, store) })
	}

	handler, err := api.NewHandler(cfg)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.Go(func() error {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Printf("[serve] listening on http://%s (auth=%v)", listener.Addr(), requireAuth)
	return g.Wait()
}

// storedStatus reads each printer's persisted status at query time, so a
// separate pf watch keeps it current.
type storedStatus struct {
	maxAge time.Duration
}

func (s storedStatus) IsResourceReachable(printerID string) bool {
	p, err := store.GetPrinter(context.Background(), printerID)
	if err != nil {
		return false
	}
	return scheduler.NewStoredReachability([]*types.Printer{p}, time.Now(), s.maxAge).IsResourceReachable(printerID)
}

func generateAuthToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return strings.TrimRight(base64.URLEncoding.EncodeToString(buf), "="), nil
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default: serve.addr)")
	serveCmd.Flags().BoolVar(&serveAllowRemote, "allow-remote", false, "Permit binding to non-loopback addresses (requires auth token)")
	serveCmd.Flags().StringVar(&serveToken, "auth-token", "", "Bearer token (default: serve.token, generated for remote binds)")
	serveCmd.Flags().BoolVar(&serveNoFeed, "no-feed", false, "Do not run a status feed; use stored printer status")
	serveCmd.Flags().Bool("status", false, "Report whether pf serve is running and exit")
	rootCmd.AddCommand(serveCmd)
}
