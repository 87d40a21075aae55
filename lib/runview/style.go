// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package runview renders run results for terminal display: colored
// conclusion and status words for the CLI's run listings, and a
// markdown renderer for step summaries collected during a run.
package runview

import (
	"io"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// Styler renders styled text fragments for CLI output. Styling is
// active only when the destination is a terminal: piped or redirected
// output (scripts, CI logs) gets plain text.
type Styler struct {
	renderer *lipgloss.Renderer
	theme    Theme
}

// NewStyler builds a Styler for the given destination. Color is
// enabled when the destination is a terminal file descriptor and
// disabled otherwise: the Ascii profile makes every style render as
// a no-op.
func NewStyler(output io.Writer) *Styler {
	profile := termenv.Ascii
	if file, ok := output.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		profile = termenv.ANSI256
	}
	return newStyler(output, profile)
}

// newStyler builds a Styler with an explicit color profile.
// SetColorProfile is needed because lipgloss.Renderer.ColorProfile()
// re-detects from the environment unless a profile was set explicitly.
func newStyler(output io.Writer, profile termenv.Profile) *Styler {
	renderer := lipgloss.NewRenderer(output, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	return &Styler{renderer: renderer, theme: DefaultTheme}
}

// Conclusion renders a run or job conclusion word in its outcome color.
func (s *Styler) Conclusion(conclusion string) string {
	return s.renderer.NewStyle().
		Foreground(s.theme.ConclusionColor(conclusion)).
		Render(conclusion)
}

// Status renders a step status word in its outcome color.
func (s *Styler) Status(status string) string {
	return s.renderer.NewStyle().
		Foreground(s.theme.StatusColor(status)).
		Render(status)
}

// Header renders bold heading text for section titles and column headers.
func (s *Styler) Header(text string) string {
	return s.renderer.NewStyle().
		Bold(true).
		Foreground(s.theme.Heading).
		Render(text)
}

// Faint renders de-emphasized text for timestamps, refs, and paths.
func (s *Styler) Faint(text string) string {
	return s.renderer.NewStyle().
		Foreground(s.theme.FaintText).
		Render(text)
}

// Colored reports whether this styler emits ANSI sequences.
func (s *Styler) Colored() bool {
	return s.renderer.ColorProfile() != termenv.Ascii
}

// Code returns source syntax-highlighted with chroma for terminal
// display. Plain (non-colored) output, an empty language, and a
// highlighting failure all pass the source through unchanged.
func (s *Styler) Code(source, language string) string {
	if !s.Colored() || language == "" {
		return source
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, source, language, "terminal256", "monokai"); err != nil {
		return source
	}
	return buffer.String()
}

// TerminalWidth reports the column count of the destination terminal.
// Returns fallback when the destination is not a terminal or its size
// cannot be determined.
func TerminalWidth(output io.Writer, fallback int) int {
	file, ok := output.(*os.File)
	if !ok {
		return fallback
	}
	width, _, err := term.GetSize(int(file.Fd()))
	if err != nil || width <= 0 {
		return fallback
	}
	return width
}
