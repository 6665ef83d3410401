package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/mbilal031/HID-PICO-OCR/internal/controller"
	"github.com/mbilal031/HID-PICO-OCR/internal/hid"
	"github.com/mbilal031/HID-PICO-OCR/internal/vision"
)

var (
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#EF4444") // Red
	mutedColor   = lipgloss.Color("#6B7280") // Gray
	accentColor  = lipgloss.Color("#3B82F6") // Blue

	labelStyle = lipgloss.NewStyle().Foreground(mutedColor)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 2)
)

func outcomeColor(outcome string) lipgloss.Color {
	switch outcome {
	case controller.OutcomeSucceeded:
		return successColor
	case controller.OutcomeInterrupted:
		return warningColor
	default:
		return errorColor
	}
}

// renderOutcome draws the end-of-run banner.
func renderOutcome(outcome, reason string, state controller.State, stats hid.Stats) string {
	color := outcomeColor(outcome)
	title := lipgloss.NewStyle().Bold(true).Foreground(color).Render(strings.ToUpper(outcome))

	lines := []string{title}
	if reason != "" {
		lines = append(lines, reason)
	}
	lines = append(lines,
		labelStyle.Render("run    ")+" "+RunID.String(),
		labelStyle.Render("state  ")+" "+state.String(),
		labelStyle.Render("frames ")+" "+fmt.Sprintf("%d sent, %d failed", stats.Sent, stats.Failed),
	)
	return boxStyle.BorderForeground(color).Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderSymbol colors a classifier symbol by what it means for the run.
func renderSymbol(sym vision.Symbol) string {
	var color lipgloss.Color
	switch sym {
	case vision.None:
		color = mutedColor
	case vision.InvalidLogin, vision.InvalidGuard:
		color = errorColor
	case vision.CloudSync, vision.UpdateRequired:
		color = warningColor
	case vision.LoggedIn:
		color = successColor
	default:
		color = accentColor
	}
	return lipgloss.NewStyle().Bold(true).Foreground(color).Render(sym.String())
}
