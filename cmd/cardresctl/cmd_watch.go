package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

var (
	watchHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	watchActiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	watchIdleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	watchErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

type readersFetchedMsg struct {
	readers []readerStatus
	err     error
}

type watchModel struct {
	readers []readerStatus
	err     error
	width   int
}

func fetchReadersCmd() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	readers, err := client.readers(ctx)
	return readersFetchedMsg{readers: readers, err: err}
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return fetchReadersCmd()
	})
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(fetchReadersCmd, tickCmd())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case readersFetchedMsg:
		m.readers = msg.readers
		m.err = msg.err
		return m, tickCmd()

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m watchModel) View() string {
	title := watchHeaderStyle.Render("cardresd — reader status") + "  (q to quit)\n\n"

	if m.err != nil {
		return title + watchErrorStyle.Render("error: "+m.err.Error()) + "\n"
	}
	if len(m.readers) == 0 {
		return title + watchIdleStyle.Render("no readers detected") + "\n"
	}

	body := fmt.Sprintf("%-24s %-12s %-8s %-8s %-8s\n", "READER", "PLUGIN", "ACTIVE", "CARD", "BUSY")
	for _, r := range m.readers {
		style := watchIdleStyle
		if r.CardPresent {
			style = watchActiveStyle
		}
		body += style.Render(fmt.Sprintf("%-24s %-12s %-8s %-8s %-8s", r.Name, r.Plugin, yesNo(r.Active), yesNo(r.CardPresent), yesNo(r.Busy))) + "\n"
	}
	return title + body
}

func runWatch(cmd *cobra.Command, args []string) error {
	p := tea.NewProgram(watchModel{})
	_, err := p.Run()
	return err
}
