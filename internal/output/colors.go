// Package output holds the color scheme and report encoders shared by the
// shiftload commands.
package output

import (
	"github.com/fatih/color"
)

// ColorScheme defines the colors used for different elements in the output
type ColorScheme struct {
	Title     *color.Color
	Label     *color.Color
	Value     *color.Color
	Dim       *color.Color
	Pass      *color.Color
	Warn      *color.Color
	Fail      *color.Color
	Latency   *color.Color
	Phase     *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Label:     color.New(color.Bold),
		Value:     color.New(color.FgCyan),
		Dim:       color.New(color.Faint),
		Pass:      color.New(color.FgGreen),
		Warn:      color.New(color.FgYellow),
		Fail:      color.New(color.FgRed, color.Bold),
		Latency:   color.New(color.FgBlue),
		Phase:     color.New(color.FgMagenta),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a color scheme with all colors disabled
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.DisableColor()
	}
	return scheme
}

// ForcedColorScheme returns the default scheme with colors on even when
// stdout is not a terminal.
func ForcedColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	for _, c := range scheme.all() {
		c.EnableColor()
	}
	return scheme
}

func (s *ColorScheme) all() []*color.Color {
	return []*color.Color{
		s.Title, s.Label, s.Value, s.Dim, s.Pass,
		s.Warn, s.Fail, s.Latency, s.Phase, s.Highlight,
	}
}

// ForErrorRate picks pass, warn or fail for an error rate: above 1% warns,
// above 5% fails.
func (s *ColorScheme) ForErrorRate(rate float64) *color.Color {
	switch {
	case rate > 0.05:
		return s.Fail
	case rate > 0.01:
		return s.Warn
	default:
		return s.Pass
	}
}

// SuccessIcon returns a checkmark symbol with appropriate color
func SuccessIcon(noColor bool) string {
	if noColor {
		return "✓"
	}
	return color.New(color.FgGreen).Sprint("✓")
}

// ErrorIcon returns an X symbol with appropriate color
func ErrorIcon(noColor bool) string {
	if noColor {
		return "✗"
	}
	return color.New(color.FgRed).Sprint("✗")
}

// InfoIcon returns an info symbol with appropriate color
func InfoIcon(noColor bool) string {
	if noColor {
		return "ℹ"
	}
	return color.New(color.FgBlue).Sprint("ℹ")
}

// WarningIcon returns a warning symbol with appropriate color
func WarningIcon(noColor bool) string {
	if noColor {
		return "⚠"
	}
	return color.New(color.FgYellow).Sprint("⚠")
}
