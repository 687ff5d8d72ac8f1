package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/statusfeed"
	"github.com/printfleet/printfleet/internal/storage"
)

const (
	feedModePoll      = "poll"
	feedModeWebsocket = "websocket"
)

// storeTargets lists every stored printer that has a Moonraker host.
func storeTargets(s storage.Storage, only string) statusfeed.TargetSource {
	return func(ctx context.Context) ([]statusfeed.Target, error) {
		printers, err := s.ListPrinters(ctx)
		if err != nil {
			return nil, err
		}
		var out []statusfeed.Target
		for _, p := range printers {
			if p.Host == "" || (only != "" && p.ID != only) {
				continue
			}
			out = append(out, statusfeed.Target{PrinterID: p.ID, BaseURL: "http://" + p.Address()})
		}
		return out, nil
	}
}

func clientOptions() []statusfeed.Option {
	var opts []statusfeed.Option
	if key := config.GetString("status.api-key"); key != "" {
		opts = append(opts, statusfeed.WithAPIKey(key))
	}
	if d := config.GetDuration("status.request-timeout"); d > 0 {
		opts = append(opts, statusfeed.WithTimeout(d))
	}
	return opts
}

// newFeedRegistry returns a registry whose heartbeat keeps stored status
// younger than status.max-age.
func newFeedRegistry() *statusfeed.Registry {
	reg := statusfeed.NewRegistry()
	reg.SetHeartbeat(heartbeatFor(config.GetDuration("status.max-age")))
	return reg
}

func heartbeatFor(maxAge time.Duration) time.Duration {
	if maxAge > 0 && maxAge/2 < statusfeed.DefaultHeartbeat {
		return maxAge / 2
	}
	return statusfeed.DefaultHeartbeat
}

// runFeed feeds reg until ctx is cancelled, in the mode status.mode names.
// In poll mode a config.yaml change to status.interval takes effect without
// a restart.
func runFeed(ctx context.Context, reg *statusfeed.Registry, s storage.Storage) error {
	mode := config.GetString("status.mode")
	interval := config.GetDuration("status.interval")
	switch mode {
	case "", feedModePoll:
		poller := statusfeed.NewPoller(storeTargets(s, ""), reg, interval, clientOptions()...)
		config.OnChange(func() {
			if d := config.GetDuration("status.interval"); d > 0 && d != poller.Interval() {
				log.Printf("[watch] poll interval now %s", d)
				poller.SetInterval(d)
			}
		})
		return poller.Run(ctx)
	case feedModeWebsocket:
		return superviseWatchers(ctx, reg, storeTargets(s, ""), interval)
	}
	return fmt.Errorf("unknown status.mode %q (want poll or websocket)", mode)
}

// superviseWatchers keeps one websocket Watcher per target, re-listing
// targets every interval so printers added or removed while running are
// picked up.
func superviseWatchers(ctx context.Context, reg *statusfeed.Registry, source statusfeed.TargetSource, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	type running struct {
		url    string
		cancel context.CancelFunc
	}
	watchers := make(map[string]running)
	var wg sync.WaitGroup
	defer func() {
		for _, w := range watchers {
			w.cancel()
		}
		wg.Wait()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		targets, err := source(ctx)
		if err != nil {
			log.Printf("[watch] listing printers: %v", err)
		} else {
			seen := make(map[string]bool, len(targets))
			for _, t := range targets {
				seen[t.PrinterID] = true
				if w, ok := watchers[t.PrinterID]; ok && w.url == t.BaseURL {
					continue
				} else if ok {
					w.cancel()
				}
				wctx, cancel := context.WithCancel(ctx)
				watchers[t.PrinterID] = running{url: t.BaseURL, cancel: cancel}
				w := statusfeed.NewWatcher(t.PrinterID, t.BaseURL, interval, clientOptions()...)
				wg.Add(1)
				go func() {
					defer wg.Done()
					_ = w.Run(wctx, reg)
				}()
			}
			for id, w := range watchers {
				if !seen[id] {
					w.cancel()
					delete(watchers, id)
					reg.Disconnect(id)
				}
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
