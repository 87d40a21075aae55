// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

package runview

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/masa-foundation/masa/lib/schema"
)

// Theme defines the color palette for masa's terminal output. All
// colors use lipgloss ANSI 256-color codes for broad terminal
// compatibility; the palette assumes a dark background.
type Theme struct {
	// Text colors.
	NormalText lipgloss.Color
	FaintText  lipgloss.Color

	// Headings and rules in rendered step summaries.
	Heading lipgloss.Color
	Border  lipgloss.Color

	// Outcome colors, shared by run conclusions, job conclusions,
	// and step statuses.
	Success lipgloss.Color
	Failure lipgloss.Color
	Skipped lipgloss.Color
	Aborted lipgloss.Color
}

// ConclusionColor returns the color for a run or job conclusion.
// Unknown values render as FaintText.
func (theme Theme) ConclusionColor(conclusion string) lipgloss.Color {
	switch conclusion {
	case schema.ConclusionSuccess:
		return theme.Success
	case schema.ConclusionFailure:
		return theme.Failure
	case schema.ConclusionSkipped:
		return theme.Skipped
	case schema.ConclusionAborted:
		return theme.Aborted
	default:
		return theme.FaintText
	}
}

// StatusColor returns the color for a step status. A failed optional
// step counts as skipped-adjacent rather than a failure, matching the
// job conclusion it produces.
func (theme Theme) StatusColor(status string) lipgloss.Color {
	switch status {
	case schema.StatusOK:
		return theme.Success
	case schema.StatusFailed:
		return theme.Failure
	case schema.StatusFailedOptional, schema.StatusSkipped:
		return theme.Skipped
	case schema.StatusAborted:
		return theme.Aborted
	default:
		return theme.FaintText
	}
}

// DefaultTheme is the built-in dark-terminal color scheme.
var DefaultTheme = Theme{
	NormalText: lipgloss.Color("252"),
	FaintText:  lipgloss.Color("245"),

	Heading: lipgloss.Color("255"),
	Border:  lipgloss.Color("240"),

	Success: lipgloss.Color("114"), // green
	Failure: lipgloss.Color("196"), // red
	Skipped: lipgloss.Color("220"), // yellow
	Aborted: lipgloss.Color("220"), // yellow
}
