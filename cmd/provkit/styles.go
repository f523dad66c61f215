// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Color palette shared by every command.
const (
	ColorPrimary   = lipgloss.Color("#7C3AED") // Purple - titles
	ColorMuted     = lipgloss.Color("#6B7280") // Gray - subtitles, labels
	ColorSuccess   = lipgloss.Color("#10B981") // Green - success states
	ColorError     = lipgloss.Color("#EF4444") // Red - errors, findings
	ColorWarning   = lipgloss.Color("#F59E0B") // Amber - warnings
	ColorHighlight = lipgloss.Color("#3B82F6") // Blue - image refs, keys
	ColorVerbose   = lipgloss.Color("#9CA3AF") // Light gray - verbose output
)

var (
	// TitleStyle is for command and section headers.
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorPrimary)

	// SubtitleStyle is for labels and placeholder values.
	SubtitleStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)

	SuccessStyle = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	ErrorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorError)

	WarningStyle = lipgloss.NewStyle().
			Foreground(ColorWarning)

	// CmdStyle is for image references, config keys and finding locations.
	CmdStyle = lipgloss.NewStyle().
			Foreground(ColorHighlight)

	VerboseStyle = lipgloss.NewStyle().
			Foreground(ColorVerbose)

	// DigestStyle renders plan digests.
	DigestStyle = lipgloss.NewStyle().
			Italic(true).
			Foreground(ColorVerbose)
)
