package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/scheduler"
	"github.com/printfleet/printfleet/internal/types"
	"github.com/printfleet/printfleet/internal/ui"
)

// newEngine builds a scheduler from the schedule.* settings.
func newEngine(reach scheduler.Reachability) *scheduler.Engine {
	return scheduler.New(store, reach, scheduler.Options{
		Step:     config.GetDuration("schedule.step"),
		Horizon:  config.GetDuration("schedule.horizon"),
		Timeout:  config.GetDuration("schedule.timeout"),
		MaxNodes: config.GetInt("schedule.max-nodes"),
		Location: scheduleLocation(),
	})
}

// storedReachability reads the printer status persisted by pf watch or
// pf status.
func storedReachability(ctx context.Context) (scheduler.Reachability, []*types.Printer, error) {
	printers, err := store.ListPrinters(ctx)
	if err != nil {
		return nil, nil, err
	}
	return scheduler.NewStoredReachability(printers, time.Now(), config.GetDuration("status.max-age")), printers, nil
}

// scheduleWithRetries re-runs the whole request after retryable failures
// (lost slot races), at most retries extra times.
func scheduleWithRetries(ctx context.Context, retries uint64, run func(context.Context) (*scheduler.Result, error)) (*scheduler.Result, error) {
	var res *scheduler.Result
	attempt := 0
	op := func() error {
		attempt++
		var err error
		res, err = run(ctx)
		if err == nil {
			return nil
		}
		if !scheduler.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		debug.Logf("schedule attempt %d: %v\n", attempt, err)
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), retries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return res, nil
}

var scheduleCmd = &cobra.Command{
	Use:     "schedule <product-id>",
	Short:   "Schedule every unscheduled component of a product",
	GroupID: "schedule",
	Long: `Assigns each component of the product a printer, gcode and start time so
that every print finishes by the due date, no two prints overlap on a
printer, and starts fall inside the printer's availability window.

Components already printing or printed keep their entries. Other entries
of the product are replaced. With --dry-run the plan is shown and nothing
is written. Only printers the status feed last saw online are used unless
--assume-online is given.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		retries, _ := cmd.Flags().GetUint64("retries")
		assumeOnline, _ := cmd.Flags().GetBool("assume-online")

		reach, printers, err := storedReachability(ctx)
		if err != nil {
			FatalError("load printers: %v", err)
		}
		if assumeOnline {
			reach = scheduler.AllReachable
		}
		engine := newEngine(reach)
		run := engine.Schedule
		if dryRun {
			run = engine.Plan
		}

		res, err := scheduleWithRetries(ctx, retries, func(ctx context.Context) (*scheduler.Result, error) {
			return run(ctx, args[0])
		})
		if err != nil {
			if scheduler.IsRetryable(err) {
				FatalErrorWithHint(err.Error(), "Another scheduler took the slot; run again or pass --retries")
			}
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(res)
			if res.Status == scheduler.StatusInfeasible {
				exit(2)
			}
			return
		}
		printResult(res)
		if res.Status == scheduler.StatusInfeasible {
			if !assumeOnline && noneOnline(reach, printers) {
				fmt.Fprintf(os.Stderr, "Hint: no printer is known to be online; run 'pf status' or 'pf watch', or pass --assume-online\n")
			}
			exit(2)
		}
	},
}

func noneOnline(reach scheduler.Reachability, printers []*types.Printer) bool {
	for _, p := range printers {
		if reach.IsResourceReachable(p.ID) {
			return false
		}
	}
	return true
}

func printResult(res *scheduler.Result) {
	if res.Status == scheduler.StatusInfeasible {
		fmt.Printf("%s Cannot schedule %s: %s\n", ui.RenderFailIcon(), res.ProductID, res.Reason)
		for _, id := range res.UnsatisfiableItems {
			fmt.Printf("  %s %s\n", ui.RenderFail("unsatisfiable:"), id)
		}
		return
	}
	verb := "Scheduled"
	if res.DryRun {
		verb = "Planned (dry run)"
	}
	fmt.Printf("%s %s %d component(s) of %s\n", ui.RenderPassIcon(), verb, len(res.Entries), ui.RenderAccent(res.ProductID))
	if len(res.Pinned) > 0 {
		fmt.Printf("  %s %s\n", ui.RenderMuted("kept (printing or printed):"), strings.Join(res.Pinned, ", "))
	}
	if len(res.Entries) > 0 {
		printEntryTable(res.Entries)
	}
	debug.Logf("solver: %d nodes, %d backtracks, %s\n", res.Stats.Nodes, res.Stats.Backtracks, res.Stats.Elapsed)
}

func printEntryTable(entries []*types.ScheduleEntry) {
	t := ui.NewTable("ENTRY", "COMPONENT", "PRINTER", "GCODE", "START", "FINISH", "STATUS")
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = ui.RenderMuted("(plan)")
		}
		t.Row(id, e.ComponentID, e.PrinterID, e.GcodeID, formatTime(e.Start), formatTime(e.Finish), ui.RenderEntryStatus(e.Status))
	}
	fmt.Print(t.String())
}

var entriesCmd = &cobra.Command{
	Use:     "entries",
	Short:   "Inspect and update schedule entries",
	GroupID: "schedule",
}

var entriesList struct {
	printer, product, status string
	active                   bool
}

var entriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedule entries",
	Run: func(cmd *cobra.Command, args []string) {
		filter, err := entryFilter(entriesList.printer, entriesList.product, entriesList.status, entriesList.active)
		if err != nil {
			FatalError("%v", err)
		}
		entries, err := store.ListEntries(getRootContext(), filter)
		if err != nil {
			FatalError("list entries: %v", err)
		}
		if jsonOutput {
			outputJSON(entries)
			return
		}
		if len(entries) == 0 {
			fmt.Println("No schedule entries.")
			return
		}
		printEntryTable(entries)
	},
}

// entryFilter builds a filter from the list flags. --active is shorthand for
// every status that still occupies a printer.
func entryFilter(printer, product, statuses string, active bool) (types.EntryFilter, error) {
	f := types.EntryFilter{PrinterID: printer, ProductID: product}
	for _, s := range splitList(statuses) {
		st := types.EntryStatus(strings.ToLower(s))
		if !st.IsValid() {
			return f, fmt.Errorf("unknown status %q (valid: pending, scheduled, in-progress, completed, failed)", s)
		}
		f.Statuses = append(f.Statuses, st)
	}
	if active {
		f.Statuses = append(f.Statuses, types.EntryPending, types.EntryScheduled, types.EntryInProgress)
	}
	return f, nil
}

var entriesSetStatusCmd = &cobra.Command{
	Use:   "set-status <entry-id> <status>",
	Short: "Move an entry along its lifecycle",
	Long: `Move an entry along its lifecycle:

  pending -> scheduled -> in-progress -> completed
                     \-> failed    \-> failed

pf watch makes these transitions automatically from the printer's print
state, and records the actual print time on the gcode on completion.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		e, err := store.UpdateEntryStatus(getRootContext(), args[0], types.EntryStatus(strings.ToLower(args[1])))
		if err != nil {
			FatalError("set status: %v", err)
		}
		if jsonOutput {
			outputJSON(e)
			return
		}
		debug.PrintNormal("%s Entry %s is now %s\n", ui.RenderPassIcon(), e.ID, ui.RenderEntryStatus(e.Status))
	},
}

func init() {
	scheduleCmd.Flags().Bool("dry-run", false, "Plan without writing entries")
	scheduleCmd.Flags().Uint64("retries", 0, "Re-run the request this many times after a slot conflict")
	scheduleCmd.Flags().Bool("assume-online", false, "Treat every printer as reachable")
	rootCmd.AddCommand(scheduleCmd)

	f := entriesListCmd.Flags()
	f.StringVar(&entriesList.printer, "printer", "", "Only entries on this printer")
	f.StringVar(&entriesList.product, "product", "", "Only entries of this product")
	f.StringVar(&entriesList.status, "status", "", "Comma-separated statuses")
	f.BoolVar(&entriesList.active, "active", false, "Only pending, scheduled and in-progress entries")
	entriesCmd.AddCommand(entriesListCmd, entriesSetStatusCmd)
	rootCmd.AddCommand(entriesCmd)
}
