package ui

import "github.com/charmbracelet/lipgloss"

type Styles struct {
	ColorPrimary lipgloss.Color
	ColorDanger  lipgloss.Color
	ColorSuccess lipgloss.Color
	ColorMuted   lipgloss.Color
	ColorText    lipgloss.Color

	Title          lipgloss.Style
	Description    lipgloss.Style
	Button         lipgloss.Style
	ButtonCancel   lipgloss.Style
	Status         lipgloss.Style
	Token          lipgloss.Style
	Help           lipgloss.Style
	Modal          lipgloss.Style
	ModalTitle     lipgloss.Style
	ModalTitleWarn lipgloss.Style
}

func NewStyles() *Styles {
	s := &Styles{
		ColorPrimary: lipgloss.Color("#2196F3"),
		ColorDanger:  lipgloss.Color("#F44336"),
		ColorSuccess: lipgloss.Color("#4CAF50"),
		ColorMuted:   lipgloss.Color("#999999"),
		ColorText:    lipgloss.Color("#FFFFFF"),
	}

	s.Title = lipgloss.NewStyle().Bold(true).MarginBottom(1)
	s.Description = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")).MarginBottom(1)
	s.Button = lipgloss.NewStyle().
		Bold(true).
		Foreground(s.ColorText).
		Background(s.ColorPrimary).
		Padding(0, 3)
	s.ButtonCancel = s.Button.Background(s.ColorDanger)
	s.Status = lipgloss.NewStyle().Foreground(s.ColorSuccess).Bold(true)
	s.Token = lipgloss.NewStyle().Foreground(s.ColorMuted)
	s.Help = lipgloss.NewStyle().Foreground(s.ColorMuted)
	s.Modal = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(s.ColorPrimary).
		Padding(1, 2)
	s.ModalTitle = lipgloss.NewStyle().Bold(true).Foreground(s.ColorPrimary)
	s.ModalTitleWarn = lipgloss.NewStyle().Bold(true).Foreground(s.ColorDanger)
	return s
}
