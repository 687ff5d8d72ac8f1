package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/statusfeed"
	"github.com/printfleet/printfleet/internal/timeparsing"
	"github.com/printfleet/printfleet/internal/types"
	"github.com/printfleet/printfleet/internal/ui"
)

var gcodeCmd = &cobra.Command{
	Use:     "gcode",
	Short:   "Manage sliced gcode files",
	GroupID: "fleet",
}

var gcodeAdd struct {
	id, printer, name, file, material, duration string
}

var gcodeAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a gcode sliced for one printer",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		d, err := timeparsing.ParsePrintDuration(gcodeAdd.duration)
		if err != nil {
			FatalError("--duration: %v", err)
		}
		printer, err := store.GetPrinter(ctx, gcodeAdd.printer)
		if err != nil {
			FatalError("%v", err)
		}
		g := &types.Gcode{
			ID:                gcodeAdd.id,
			PrinterID:         printer.ID,
			Name:              gcodeAdd.name,
			FilePath:          gcodeAdd.file,
			Material:          gcodeAdd.material,
			EstimatedDuration: d,
		}
		if !printer.Supports(g.Material) {
			FatalErrorWithHint(
				fmt.Sprintf("printer %s does not support material %s", printer.ID, types.NormalizeMaterial(g.Material)),
				fmt.Sprintf("Add it with 'pf printer update %s --materials ...'", printer.ID))
		}
		if err := store.CreateGcode(ctx, g); err != nil {
			FatalError("create gcode: %v", err)
		}
		if jsonOutput {
			outputJSON(g)
			return
		}
		debug.PrintNormal("%s Added gcode %s (%s, %s on %s)\n", ui.RenderPassIcon(), ui.RenderAccent(g.ID), g.Material, g.EstimatedDuration, printer.ID)
	},
}

var gcodeListFilter types.GcodeFilter

var gcodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List gcodes",
	Run: func(cmd *cobra.Command, args []string) {
		gcodes, err := store.ListGcodes(getRootContext(), gcodeListFilter)
		if err != nil {
			FatalError("list gcodes: %v", err)
		}
		if jsonOutput {
			outputJSON(gcodes)
			return
		}
		if len(gcodes) == 0 {
			fmt.Println("No gcodes.")
			return
		}
		printGcodeTable(gcodes)
	},
}

func printGcodeTable(gcodes []*types.Gcode) {
	t := ui.NewTable("ID", "PRINTER", "NAME", "MATERIAL", "ESTIMATE", "HISTORY")
	for _, g := range gcodes {
		hist := ""
		if g.HistoricalDuration != nil {
			hist = g.HistoricalDuration.String()
		}
		t.Row(g.ID, g.PrinterID, ui.TruncateSimple(g.Name, 32), g.Material, g.EstimatedDuration.String(), ui.RenderMuted(hist))
	}
	fmt.Print(t.String())
}

var gcodeRemoveCmd = &cobra.Command{
	Use:     "remove <gcode-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a gcode",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.DeleteGcode(getRootContext(), args[0]); err != nil {
			FatalError("remove gcode: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"removed": args[0]})
			return
		}
		debug.PrintNormal("%s Removed gcode %s\n", ui.RenderPassIcon(), args[0])
	},
}

var gcodeSync struct {
	material string
	prune    bool
	history  int
}

var gcodeSyncCmd = &cobra.Command{
	Use:   "sync <printer-id>",
	Short: "Pull gcode files and print times from a printer",
	Long: `Lists the printer's files through Moonraker and stores one gcode per file.
The estimate comes from the slicer metadata, the material from its filament
type (or --material), and the historical time from the latest completed job
in the print history. Gcodes are matched by file path, so re-running updates
them in place. --prune removes stored gcodes whose file is gone.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		printer, err := store.GetPrinter(ctx, args[0])
		if err != nil {
			FatalError("%v", err)
		}
		if printer.Host == "" {
			FatalErrorWithHint(fmt.Sprintf("printer %s has no host", printer.ID), fmt.Sprintf("Set one with 'pf printer update %s --host <addr>'", printer.ID))
		}
		client := statusfeed.NewClient("http://"+printer.Address(), clientOptions()...)
		report, err := statusfeed.SyncGcodes(ctx, store, client, printer, statusfeed.SyncOptions{
			DefaultMaterial: gcodeSync.material,
			HistoryLimit:    gcodeSync.history,
			Prune:           gcodeSync.prune,
		})
		if err != nil {
			FatalError("sync gcodes: %v", err)
		}
		if jsonOutput {
			outputJSON(report)
			return
		}
		debug.PrintNormal("%s Synced %d files from %s: %d created, %d updated, %d unchanged, %d removed\n",
			ui.RenderPassIcon(), report.Files, printer.ID, len(report.Created), len(report.Updated), len(report.Unchanged), len(report.Removed))
		for _, s := range report.Skipped {
			fmt.Printf("%s %s: %s\n", ui.RenderWarn("skipped"), s.Path, s.Reason)
		}
	},
}

func init() {
	f := gcodeAddCmd.Flags()
	f.StringVar(&gcodeAdd.id, "id", "", "Gcode ID (default: generated)")
	f.StringVar(&gcodeAdd.printer, "printer", "", "Printer the file was sliced for (required)")
	f.StringVar(&gcodeAdd.name, "name", "", "Display name (required)")
	f.StringVar(&gcodeAdd.file, "file", "", "Path to the .gcode file")
	f.StringVar(&gcodeAdd.material, "material", "", "Material, e.g. PLA (required)")
	f.StringVar(&gcodeAdd.duration, "duration", "", "Estimated print time: 1h30m, 1:30 or minutes (required)")
	_ = gcodeAddCmd.MarkFlagRequired("printer")
	_ = gcodeAddCmd.MarkFlagRequired("name")
	_ = gcodeAddCmd.MarkFlagRequired("material")
	_ = gcodeAddCmd.MarkFlagRequired("duration")

	gcodeListCmd.Flags().StringVar(&gcodeListFilter.PrinterID, "printer", "", "Only gcodes for this printer")
	gcodeListCmd.Flags().StringVar(&gcodeListFilter.Material, "material", "", "Only gcodes of this material")

	sf := gcodeSyncCmd.Flags()
	sf.StringVar(&gcodeSync.material, "material", "", "Material for files whose metadata names none")
	sf.BoolVar(&gcodeSync.prune, "prune", false, "Remove stored gcodes whose file is gone from the printer")
	sf.IntVar(&gcodeSync.history, "history", statusfeed.DefaultHistoryLimit, "Number of past jobs to read for historical print times")

	gcodeCmd.AddCommand(gcodeAddCmd, gcodeListCmd, gcodeSyncCmd, gcodeRemoveCmd)
	rootCmd.AddCommand(gcodeCmd)
}
