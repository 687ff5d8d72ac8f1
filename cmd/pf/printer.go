package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/types"
	"github.com/printfleet/printfleet/internal/ui"
)

var printerCmd = &cobra.Command{
	Use:     "printer",
	Short:   "Manage printers",
	GroupID: "fleet",
}

// printerFlags are shared by add and update.
type printerFlags struct {
	id, name, model, host, window, materials string
	port                                     int
	heatedChamber                            bool
}

func addPrinterFlags(cmd *cobra.Command, f *printerFlags) {
	cmd.Flags().StringVar(&f.name, "name", "", "Display name")
	cmd.Flags().StringVar(&f.model, "model", "", "Printer model")
	cmd.Flags().StringVar(&f.host, "host", "", "Moonraker host")
	cmd.Flags().IntVar(&f.port, "port", 0, fmt.Sprintf("Moonraker port (default %d)", types.DefaultMoonrakerPort))
	cmd.Flags().StringVar(&f.window, "window", "", "Daily availability window, e.g. 10:00-22:00 (empty: all day)")
	cmd.Flags().StringVar(&f.materials, "materials", "", "Comma-separated materials, e.g. PLA,PETG")
	cmd.Flags().BoolVar(&f.heatedChamber, "heated-chamber", false, "Printer has a heated chamber")
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseWindowFlag(s string) (*types.Window, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	return types.ParseWindow(s)
}

func (f *printerFlags) build() (*types.Printer, error) {
	w, err := parseWindowFlag(f.window)
	if err != nil {
		return nil, err
	}
	p := &types.Printer{
		ID:            f.id,
		Name:          f.name,
		Model:         f.model,
		Host:          f.host,
		Port:          f.port,
		Window:        w,
		Materials:     splitList(f.materials),
		HeatedChamber: f.heatedChamber,
	}
	p.SetDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

var addPrinter printerFlags

var printerAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a printer",
	Run: func(cmd *cobra.Command, args []string) {
		if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
			if err := runPrinterForm(&addPrinter); err != nil {
				FatalError("%v", err)
			}
		}
		p, err := addPrinter.build()
		if err != nil {
			FatalError("invalid printer: %v", err)
		}
		if p.Host == "" {
			WarnError("printer %s has no --host; the status feed cannot reach it", p.Name)
		}
		if err := store.CreatePrinter(getRootContext(), p); err != nil {
			FatalError("create printer: %v", err)
		}
		if jsonOutput {
			outputJSON(p)
			return
		}
		debug.PrintNormal("%s Added printer %s (%s)\n", ui.RenderPassIcon(), ui.RenderAccent(p.ID), p.Name)
	},
}

var printerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List printers",
	Run: func(cmd *cobra.Command, args []string) {
		printers, err := store.ListPrinters(getRootContext())
		if err != nil {
			FatalError("list printers: %v", err)
		}
		if jsonOutput {
			outputJSON(printers)
			return
		}
		if len(printers) == 0 {
			fmt.Println("No printers. Add one with 'pf printer add'.")
			return
		}
		t := ui.NewTable("ID", "NAME", "ADDRESS", "WINDOW", "MATERIALS", "STATUS")
		for _, p := range printers {
			addr := ""
			if p.Host != "" {
				addr = p.Address()
			}
			t.Row(p.ID, ui.TruncateSimple(p.Name, 24), addr, windowString(p.Window),
				strings.Join(p.Materials, ","), ui.RenderPrinterStatus(p.Status))
		}
		fmt.Print(t.String())
	},
}

func windowString(w *types.Window) string {
	if w == nil {
		return "all day"
	}
	return w.String()
}

var printerShowCmd = &cobra.Command{
	Use:   "show <printer-id>",
	Short: "Show a printer and its gcodes",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		p, err := store.GetPrinter(ctx, args[0])
		if err != nil {
			FatalError("%v", err)
		}
		gcodes, err := store.ListGcodes(ctx, types.GcodeFilter{PrinterID: p.ID})
		if err != nil {
			FatalError("list gcodes: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"printer": p, "gcodes": gcodes})
			return
		}
		fmt.Printf("%s %s\n", ui.RenderAccent(p.ID), p.Name)
		if p.Model != "" {
			fmt.Printf("  model:      %s\n", p.Model)
		}
		if p.Host != "" {
			fmt.Printf("  address:    %s\n", p.Address())
		}
		fmt.Printf("  window:     %s\n", windowString(p.Window))
		fmt.Printf("  materials:  %s\n", strings.Join(p.Materials, ", "))
		fmt.Printf("  status:     %s", ui.RenderPrinterStatus(p.Status))
		if p.PrintState != "" {
			fmt.Printf(" (%s)", p.PrintState)
		}
		if p.StatusUpdatedAt != nil {
			fmt.Printf(" %s", ui.RenderMuted("as of "+p.StatusUpdatedAt.Local().Format("2006-01-02 15:04:05")))
		}
		fmt.Println()
		if len(gcodes) > 0 {
			fmt.Println()
			printGcodeTable(gcodes)
		}
	},
}

var updatePrinter printerFlags

var printerUpdateCmd = &cobra.Command{
	Use:   "update <printer-id>",
	Short: "Change printer fields; only the flags given are applied",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		p, err := store.GetPrinter(ctx, args[0])
		if err != nil {
			FatalError("%v", err)
		}
		if err := applyPrinterUpdate(p, &updatePrinter, cmd.Flags().Changed); err != nil {
			FatalError("invalid printer: %v", err)
		}
		if err := store.UpdatePrinter(ctx, p); err != nil {
			FatalError("update printer: %v", err)
		}
		if jsonOutput {
			outputJSON(p)
			return
		}
		debug.PrintNormal("%s Updated printer %s\n", ui.RenderPassIcon(), p.ID)
	},
}

// applyPrinterUpdate copies the flags reported as changed onto p.
func applyPrinterUpdate(p *types.Printer, f *printerFlags, changed func(string) bool) error {
	if changed("name") {
		p.Name = f.name
	}
	if changed("model") {
		p.Model = f.model
	}
	if changed("host") {
		p.Host = f.host
	}
	if changed("port") {
		p.Port = f.port
	}
	if changed("window") {
		w, err := parseWindowFlag(f.window)
		if err != nil {
			return err
		}
		p.Window = w
	}
	if changed("materials") {
		p.Materials = splitList(f.materials)
	}
	if changed("heated-chamber") {
		p.HeatedChamber = f.heatedChamber
	}
	p.SetDefaults()
	return p.Validate()
}

var printerRemoveCmd = &cobra.Command{
	Use:     "remove <printer-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a printer and its gcodes",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.DeletePrinter(getRootContext(), args[0]); err != nil {
			FatalError("remove printer: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"removed": args[0]})
			return
		}
		debug.PrintNormal("%s Removed printer %s\n", ui.RenderPassIcon(), args[0])
	},
}

func init() {
	addPrinterFlags(printerAddCmd, &addPrinter)
	printerAddCmd.Flags().StringVar(&addPrinter.id, "id", "", "Printer ID (default: generated)")
	printerAddCmd.Flags().BoolP("interactive", "i", false, "Fill in the printer with an interactive form")
	addPrinterFlags(printerUpdateCmd, &updatePrinter)

	printerCmd.AddCommand(printerAddCmd, printerListCmd, printerShowCmd, printerUpdateCmd, printerRemoveCmd)
	rootCmd.AddCommand(printerCmd)
}
