// Package ui provides terminal styling for pf CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/printfleet/printfleet/internal/types"
)

// Ayu theme color palette
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconInfo = "ℹ"
)

// RenderPass renders text with pass (green) styling
func RenderPass(s string) string { return PassStyle.Render(s) }

// RenderWarn renders text with warning (yellow) styling
func RenderWarn(s string) string { return WarnStyle.Render(s) }

// RenderFail renders text with fail (red) styling
func RenderFail(s string) string { return FailStyle.Render(s) }

// RenderMuted renders text with muted (gray) styling
func RenderMuted(s string) string { return MutedStyle.Render(s) }

// RenderAccent renders text with accent (blue) styling
func RenderAccent(s string) string { return AccentStyle.Render(s) }

// RenderCategory renders a section header in uppercase with accent color
func RenderCategory(s string) string { return CategoryStyle.Render(strings.ToUpper(s)) }

// RenderPassIcon renders the pass icon with styling
func RenderPassIcon() string { return PassStyle.Render(IconPass) }

// RenderWarnIcon renders the warning icon with styling
func RenderWarnIcon() string { return WarnStyle.Render(IconWarn) }

// RenderFailIcon renders the fail icon with styling
func RenderFailIcon() string { return FailStyle.Render(IconFail) }

// RenderEntryStatus colors a schedule entry status by lifecycle stage.
func RenderEntryStatus(s types.EntryStatus) string {
	switch s {
	case types.EntryCompleted:
		return RenderPass(string(s))
	case types.EntryInProgress:
		return RenderAccent(string(s))
	case types.EntryFailed:
		return RenderFail(string(s))
	case types.EntryPending:
		return RenderMuted(string(s))
	default:
		return string(s)
	}
}

// RenderPrinterStatus colors a printer's reachability.
func RenderPrinterStatus(s types.PrinterStatus) string {
	switch s {
	case types.PrinterOnline:
		return RenderPass(string(s))
	case types.PrinterOffline:
		return RenderFail(string(s))
	default:
		return RenderMuted(string(s))
	}
}
