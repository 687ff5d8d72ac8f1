package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"

	"github.com/printfleet/printfleet/internal/types"
)

// runPrinterForm fills f with an interactive terminal form. Values already
// given as flags are the starting values.
func runPrinterForm(f *printerFlags) error {
	portStr := ""
	if f.port != 0 {
		portStr = strconv.Itoa(f.port)
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("Display name (required)").
				Placeholder("e.g., Voron 2.4").
				Value(&f.name).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("name is required")
					}
					return nil
				}),
			huh.NewInput().
				Title("Model").
				Value(&f.model),
			huh.NewInput().
				Title("Moonraker host").
				Placeholder("10.0.0.5").
				Value(&f.host),
			huh.NewInput().
				Title("Moonraker port").
				Placeholder(strconv.Itoa(types.DefaultMoonrakerPort)).
				Value(&portStr).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return nil
					}
					n, err := strconv.Atoi(strings.TrimSpace(s))
					if err != nil || n < 1 || n > 65535 {
						return fmt.Errorf("port must be a number between 1 and 65535")
					}
					return nil
				}),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Availability window").
				Description("Daily HH:MM-HH:MM in the schedule timezone; empty means all day").
				Placeholder("10:00-22:00").
				Value(&f.window).
				Validate(func(s string) error {
					_, err := parseWindowFlag(s)
					return err
				}),
			huh.NewInput().
				Title("Materials").
				Description("Comma-separated").
				Placeholder("PLA,PETG").
				Value(&f.materials),
			huh.NewConfirm().
				Title("Heated chamber?").
				Value(&f.heatedChamber),
		),
	)
	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return fmt.Errorf("printer creation cancelled")
		}
		return fmt.Errorf("form error: %w", err)
	}
	if s := strings.TrimSpace(portStr); s != "" {
		f.port, _ = strconv.Atoi(s)
	}
	return nil
}
