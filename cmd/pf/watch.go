package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/statusfeed"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Run the status feed daemon",
	GroupID: "daemons",
	Long: `Keeps the stored printer status current and advances schedule entries as
prints start, finish or fail.

status.mode selects how printers are watched: poll (default) queries every
printer's Moonraker HTTP API each status.interval; websocket holds one
Moonraker websocket per printer and reconnects with backoff. One pf watch
runs per project.`,
	Run: func(cmd *cobra.Command, args []string) {
		if show, _ := cmd.Flags().GetBool("status"); show {
			printDaemonStatus("watch")
			return
		}
		lock := acquireDaemonLock("watch")
		defer func() { _ = lock.Release() }()

		ctx := getRootContext()
		reg := newFeedRegistry()
		defer reg.Close()
		go statusfeed.Persist(ctx, reg, store)

		log.Printf("[watch] status feed started (mode=%s, interval=%s)", config.GetString("status.mode"), config.GetDuration("status.interval"))
		if err := runFeed(ctx, reg, store); err != nil {
			_ = lock.Release()
			FatalError("%v", err)
		}
		log.Printf("[watch] stopped")
	},
}

func init() {
	watchCmd.Flags().Bool("status", false, "Report whether pf watch is running and exit")
	rootCmd.AddCommand(watchCmd)
}
