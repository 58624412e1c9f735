package ui

import "github.com/charmbracelet/lipgloss"

// Common UI styles
var (
	FocusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	BlurredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	TitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true).MarginLeft(2)
	HelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Margin(1, 0)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	InfoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("140"))
)

// Reel styles
var (
	ReelStyle = lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("28")).
			Padding(0, 1).
			Margin(1)

	SpinningReelStyle = lipgloss.NewStyle().
				Border(lipgloss.DoubleBorder()).
				BorderForeground(lipgloss.Color("214")).
				Padding(0, 1).
				Margin(1)

	SymbolStyle = lipgloss.NewStyle().
			Width(5).
			Align(lipgloss.Center)

	ScatterStyle = lipgloss.NewStyle().
			Width(5).
			Align(lipgloss.Center).
			Foreground(lipgloss.Color("226")).
			Bold(true)

	BlurredSymbolStyle = lipgloss.NewStyle().
				Width(5).
				Align(lipgloss.Center).
				Foreground(lipgloss.Color("240"))
)

// Status and dialog styles
var (
	BalanceStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	WinStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("22")).
			Foreground(lipgloss.Color("46")).
			Padding(0, 2).
			Bold(true)

	BonusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("53")).
			Foreground(lipgloss.Color("219")).
			Padding(0, 2).
			Bold(true)

	DialogStyle = lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("46")).
			Padding(1, 4).
			Margin(1).
			Align(lipgloss.Center).
			Bold(true)

	WarningDialogStyle = lipgloss.NewStyle().
				Border(lipgloss.ThickBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(1, 4).
				Margin(1).
				Align(lipgloss.Center)

	FlagOnStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("39")).
			Foreground(lipgloss.Color("0")).
			Padding(0, 1)

	FlagOffStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Padding(0, 1)
)
