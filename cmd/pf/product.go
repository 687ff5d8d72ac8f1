package main

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/printfleet/printfleet/internal/config"
	"github.com/printfleet/printfleet/internal/debug"
	"github.com/printfleet/printfleet/internal/timeparsing"
	"github.com/printfleet/printfleet/internal/types"
	"github.com/printfleet/printfleet/internal/ui"
)

var productCmd = &cobra.Command{
	Use:     "product",
	Short:   "Manage products (orders with a due date)",
	GroupID: "fleet",
}

var productAdd struct {
	id, name, description, due string
}

// scheduleLocation is the zone windows and bare due dates are read in.
var scheduleLocation = sync.OnceValue(func() *time.Location {
	loc, err := config.Location()
	if err != nil {
		WarnError("%v; using local time", err)
	}
	return loc
})

// parseDue resolves a --due value against now in loc. A bare date means the
// end of that day.
func parseDue(s string, now time.Time, loc *time.Location) (time.Time, error) {
	due, err := timeparsing.ParseRelativeTime(s, now.In(loc))
	if err != nil {
		return time.Time{}, err
	}
	if timeparsing.IsDateOnly(s) {
		due = timeparsing.EndOfDay(due)
	}
	return due, nil
}

var productAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a product",
	Long: `Create a product. --due accepts compact offsets (+3d, +12h), dates and
date-times (2025-06-03, "2025-06-03 18:00", RFC3339) and natural language
("tomorrow 6pm", "next friday").`,
	Run: func(cmd *cobra.Command, args []string) {
		due, err := parseDue(productAdd.due, time.Now(), scheduleLocation())
		if err != nil {
			FatalError("--due: %v", err)
		}
		if due.Before(time.Now()) {
			WarnError("due date %s is in the past; nothing can be scheduled for it", due.Format(time.RFC3339))
		}
		p := &types.Product{ID: productAdd.id, Name: productAdd.name, Description: productAdd.description, DueDate: due}
		if err := store.CreateProduct(getRootContext(), p); err != nil {
			FatalError("create product: %v", err)
		}
		if jsonOutput {
			outputJSON(p)
			return
		}
		debug.PrintNormal("%s Added product %s due %s\n", ui.RenderPassIcon(), ui.RenderAccent(p.ID), formatTime(p.DueDate))
	},
}

func formatTime(t time.Time) string {
	return t.In(scheduleLocation()).Format("2006-01-02 15:04 MST")
}

var productListCmd = &cobra.Command{
	Use:   "list",
	Short: "List products by due date",
	Run: func(cmd *cobra.Command, args []string) {
		products, err := store.ListProducts(getRootContext())
		if err != nil {
			FatalError("list products: %v", err)
		}
		if jsonOutput {
			outputJSON(products)
			return
		}
		if len(products) == 0 {
			fmt.Println("No products.")
			return
		}
		now := time.Now()
		t := ui.NewTable("ID", "NAME", "DUE")
		for _, p := range products {
			due := formatTime(p.DueDate)
			if p.DueDate.Before(now) {
				due = ui.RenderFail(due)
			}
			t.Row(p.ID, ui.TruncateSimple(p.Name, 40), due)
		}
		fmt.Print(t.String())
	},
}

var productShowCmd = &cobra.Command{
	Use:   "show <product-id>",
	Short: "Show a product, its components and their schedule",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := getRootContext()
		p, err := store.GetProduct(ctx, args[0])
		if err != nil {
			FatalError("%v", err)
		}
		comps, err := store.ListComponents(ctx, p.ID)
		if err != nil {
			FatalError("list components: %v", err)
		}
		entries, err := store.ListEntries(ctx, types.EntryFilter{ProductID: p.ID})
		if err != nil {
			FatalError("list entries: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]interface{}{"product": p, "components": comps, "entries": entries})
			return
		}
		fmt.Printf("%s %s\n", ui.RenderAccent(p.ID), p.Name)
		if p.Description != "" {
			fmt.Printf("  %s\n", p.Description)
		}
		fmt.Printf("  due: %s\n\n", formatTime(p.DueDate))
		if len(comps) == 0 {
			fmt.Println("No components. Add one with 'pf component add --product " + p.ID + "'.")
			return
		}
		printComponentTable(comps)
		if len(entries) > 0 {
			fmt.Println()
			printEntryTable(entries)
		}
	},
}

var productRemoveCmd = &cobra.Command{
	Use:     "remove <product-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a product, its components and their schedule entries",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.DeleteProduct(getRootContext(), args[0]); err != nil {
			FatalError("remove product: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"removed": args[0]})
			return
		}
		debug.PrintNormal("%s Removed product %s\n", ui.RenderPassIcon(), args[0])
	},
}

var componentCmd = &cobra.Command{
	Use:     "component",
	Short:   "Manage product components",
	GroupID: "fleet",
}

var componentAdd struct {
	id, product, name, material, gcodes string
}

var componentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a component to a product",
	Long: `Add a component to a product. Components are scheduled in the order they
were added. --gcodes restricts the component to specific gcode files;
without it any gcode of the right material on any printer may be used.`,
	Run: func(cmd *cobra.Command, args []string) {
		c := &types.Component{
			ID:            componentAdd.id,
			ProductID:     componentAdd.product,
			Name:          componentAdd.name,
			Material:      componentAdd.material,
			AllowedGcodes: splitList(componentAdd.gcodes),
		}
		if err := store.CreateComponent(getRootContext(), c); err != nil {
			FatalError("create component: %v", err)
		}
		if jsonOutput {
			outputJSON(c)
			return
		}
		debug.PrintNormal("%s Added component %s (#%d of %s)\n", ui.RenderPassIcon(), ui.RenderAccent(c.ID), c.Seq, c.ProductID)
	},
}

var componentListCmd = &cobra.Command{
	Use:   "list <product-id>",
	Short: "List a product's components in scheduling order",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		comps, err := store.ListComponents(getRootContext(), args[0])
		if err != nil {
			FatalError("list components: %v", err)
		}
		if jsonOutput {
			outputJSON(comps)
			return
		}
		if len(comps) == 0 {
			fmt.Println("No components.")
			return
		}
		printComponentTable(comps)
	},
}

func printComponentTable(comps []*types.Component) {
	t := ui.NewTable("#", "ID", "NAME", "MATERIAL", "GCODES")
	for _, c := range comps {
		gcodes := ui.RenderMuted("any")
		if len(c.AllowedGcodes) > 0 {
			gcodes = strings.Join(c.AllowedGcodes, ",")
		}
		t.Row(fmt.Sprint(c.Seq), c.ID, ui.TruncateSimple(c.Name, 32), c.Material, gcodes)
	}
	fmt.Print(t.String())
}

var componentRemoveCmd = &cobra.Command{
	Use:     "remove <component-id>",
	Aliases: []string{"rm"},
	Short:   "Remove a component and its schedule entries",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := store.DeleteComponent(getRootContext(), args[0]); err != nil {
			FatalError("remove component: %v", err)
		}
		if jsonOutput {
			outputJSON(map[string]string{"removed": args[0]})
			return
		}
		debug.PrintNormal("%s Removed component %s\n", ui.RenderPassIcon(), args[0])
	},
}

func init() {
	f := productAddCmd.Flags()
	f.StringVar(&productAdd.id, "id", "", "Product ID (default: generated)")
	f.StringVar(&productAdd.name, "name", "", "Display name (required)")
	f.StringVar(&productAdd.description, "description", "", "Free-form description")
	f.StringVar(&productAdd.due, "due", "", "Due date (required)")
	_ = productAddCmd.MarkFlagRequired("name")
	_ = productAddCmd.MarkFlagRequired("due")
	productCmd.AddCommand(productAddCmd, productListCmd, productShowCmd, productRemoveCmd)
	rootCmd.AddCommand(productCmd)

	f = componentAddCmd.Flags()
	f.StringVar(&componentAdd.id, "id", "", "Component ID (default: generated)")
	f.StringVar(&componentAdd.product, "product", "", "Product ID (required)")
	f.StringVar(&componentAdd.name, "name", "", "Display name (required)")
	f.StringVar(&componentAdd.material, "material", "", "Material (required)")
	f.StringVar(&componentAdd.gcodes, "gcodes", "", "Comma-separated gcode IDs this component may be printed with")
	_ = componentAddCmd.MarkFlagRequired("product")
	_ = componentAddCmd.MarkFlagRequired("name")
	_ = componentAddCmd.MarkFlagRequired("material")
	componentCmd.AddCommand(componentAddCmd, componentListCmd, componentRemoveCmd)
	rootCmd.AddCommand(componentCmd)
}
