package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/fleetfile"
	"github.com/printfleet/printfleet/internal/ui"
)

var applyFile string

var applyCmd = &cobra.Command{
	Use:     "apply -f <fleet.yaml|fleet.toml>",
	Short:   "Create printers, gcodes, products and components from a fleet file",
	GroupID: "fleet",
	Long: `Reads a declarative fleet file and writes it to the store. Records with
an id that already exists are left alone, except printers, which are
updated in place. The whole file is validated before anything is written.

Example fleet.yaml:

  printers:
    - id: voron
      name: Voron 2.4
      host: 10.0.0.5
      window: "10:00-22:00"
      materials: [PLA, ABS]
      gcodes:
        - id: voron-bracket
          name: bracket
          material: PLA
          duration: 1h30m
  products:
    - id: order-42
      name: Order 42
      due: 2025-06-03
      components:
        - name: left arm
          material: PLA
          gcodes: [voron-bracket]`,
	Run: func(cmd *cobra.Command, args []string) {
		f, err := fleetfile.Load(applyFile)
		if err != nil {
			FatalError("%v", err)
		}
		plan, err := f.Resolve(time.Now().In(scheduleLocation()))
		if err != nil {
			FatalError("%v", err)
		}
		report, err := fleetfile.Apply(getRootContext(), store, plan)
		if err != nil {
			if jsonOutput {
				outputJSON(report)
			}
			FatalError("%v", err)
		}
		if jsonOutput {
			outputJSON(report)
			return
		}
		for _, s := range report.Created {
			fmt.Printf("%s created %s\n", ui.RenderPassIcon(), s)
		}
		for _, s := range report.Updated {
			fmt.Printf("%s updated %s\n", ui.RenderPassIcon(), s)
		}
		for _, s := range report.Unchanged {
			fmt.Printf("  %s\n", ui.RenderMuted("unchanged "+s))
		}
	},
}

func init() {
	applyCmd.Flags().StringVarP(&applyFile, "file", "f", "", "Fleet file (.yaml, .yml or .toml)")
	_ = applyCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(applyCmd)
}
