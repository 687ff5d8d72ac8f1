package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/statusfeed"
	"github.com/printfleet/printfleet/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status [printer-id]",
	Short:   "Query printers once and record their status",
	GroupID: "daemons",
	Long: `Queries each printer's Moonraker API once, stores whether it is online
and what it is printing, and advances schedule entries accordingly. This is
one round of what pf watch does continuously.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		only := ""
		if len(args) == 1 {
			only = args[0]
			p, err := store.GetPrinter(ctx, only)
			if err != nil {
				FatalError("%v", err)
			}
			if p.Host == "" {
				FatalErrorWithHint(fmt.Sprintf("printer %s has no host", p.ID), fmt.Sprintf("Set one with 'pf printer update %s --host <addr>'", p.ID))
			}
		}

		reg := statusfeed.NewRegistry()
		defer reg.Close()
		states, err := statusfeed.NewPoller(storeTargets(store, only), reg, 0, clientOptions()...).PollOnce(ctx)
		if err != nil {
			FatalError("list printers: %v", err)
		}
		var advanced []string
		for _, st := range states {
			e, err := statusfeed.Record(ctx, store, st)
			if err != nil {
				WarnError("%v", err)
				continue
			}
			if e != nil {
				advanced = append(advanced, fmt.Sprintf("%s -> %s", e.ID, e.Status))
			}
		}

		if jsonOutput {
			outputJSON(map[string]interface{}{"printers": states, "advanced": advanced})
			return
		}
		if len(states) == 0 {
			fmt.Println("No printers with a host to check.")
			return
		}
		t := ui.NewTable("PRINTER", "STATE", "PRINTING", "PROGRESS", "DETAIL")
		for _, st := range states {
			state := ui.RenderPass("online")
			detail := st.Message
			if !st.Online {
				state = ui.RenderFail("offline")
				detail = st.Error
			}
			progress := ""
			if st.Online && st.Filename != "" {
				progress = fmt.Sprintf("%.0f%%", st.Progress*100)
			}
			t.Row(st.PrinterID, state, st.PrintState, progress, ui.TruncateSimple(detail, 48))
		}
		fmt.Print(t.String())
		for _, a := range advanced {
			fmt.Printf("%s entry %s\n", ui.RenderAccent("advanced"), a)
		}
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
