package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

func (m *Model) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	left, right := m.paneWidths()

	bodyHeight := m.bodyHeight()
	m.convList.SetSize(left-2, bodyHeight-2)
	m.docList.SetSize(left-2, bodyHeight-2)
	m.viewport.Width = right - 2
	m.viewport.Height = bodyHeight - 2
	m.composer.Width = m.width - 6
}

// bodyHeight leaves room for the status, composer and help lines.
func (m Model) bodyHeight() int {
	h := m.height - 3
	if h < 8 {
		h = 8
	}
	return h
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Starting..."
	}

	left, right := m.paneWidths()
	listView := m.convList.View()
	if m.left == paneDocuments {
		listView = m.docList.View()
	}
	leftPane := panelStyle(m.focus == focusList).Width(left).Height(m.bodyHeight()).Render(listView)
	rightPane := panelStyle(m.focus == focusTranscript || m.settingsMode).Width(right).Height(m.bodyHeight()).Render(m.viewport.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	composer := m.composer.View()
	if m.focus == focusComposer {
		composer = composerActiveStyle.Render(composer)
	} else {
		composer = composerStyle.Render(composer)
	}

	helpView := m.help.View(m.keys)
	if m.searchMode {
		helpView = m.search.View() + "  " + helpView
	} else if m.searchQuery != "" {
		helpView = "search: " + m.searchQuery + "  " + helpView
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.statusLine(),
		body,
		composer,
		ansi.Truncate(helpView, m.width, "…"),
	)
}

func (m Model) statusLine() string {
	var parts []string
	if m.initializing {
		parts = append(parts, m.spinner.View()+" connecting...")
	} else if m.state.Loading {
		parts = append(parts, m.spinner.View()+" waiting")
	}

	conv := "new"
	if !m.state.ConversationID.IsZero() {
		conv = m.state.ConversationID.String()
	}
	parts = append(parts,
		"conversation="+shorten(conv, 18),
		fmt.Sprintf("messages=%d", len(m.state.Messages)),
		fmt.Sprintf("docs=%d/%d", len(m.state.SelectedDocuments), len(m.state.Documents)),
		"model="+string(m.state.Preferences.Model),
	)
	if m.searchQuery != "" || m.searchMode {
		tag := "[search]"
		if strings.TrimSpace(m.searchQuery) != "" {
			cur := m.matchIndex + 1
			if cur < 1 {
				cur = 1
			}
			if m.matchCount > 0 {
				tag += fmt.Sprintf(" [match %d/%d]", cur, len(m.matchLines))
			} else {
				tag += " [match 0]"
			}
		}
		parts = append(parts, tag)
	}
	if m.state.CanRetry {
		parts = append(parts, "[retry: r]")
	}
	if m.rendering {
		parts = append(parts, "[rendering]")
	}
	if s := strings.TrimSpace(m.status); s != "" {
		parts = append(parts, s)
	}
	if m.err != nil {
		parts = append(parts, "err="+m.err.Error())
	}

	line := strings.Join(parts, "  ")
	if m.width > 2 {
		line = ansi.Truncate(line, m.width-2, "…")
	}
	return statusStyle.Render(line)
}

func (m Model) paneWidths() (int, int) {
	left := m.width / 3
	if left < 32 {
		left = 32
	}
	if left > m.width-32 {
		left = m.width - 32
	}
	if left < 20 {
		left = 20
	}
	right := m.width - left - 1
	if right < 20 {
		right = 20
	}
	return left, right
}

func shorten(s string, n int) string {
	return ansi.Truncate(strings.TrimSpace(s), n, "...")
}

var (
	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")).
			Background(lipgloss.Color("24")).
			Padding(0, 1)
	searchMatchStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("16")).
				Background(lipgloss.Color("220"))
	composerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)
	composerActiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("255")).
				Padding(0, 1)
	settingsCursorStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("39"))
)

func panelStyle(active bool) lipgloss.Style {
	border := lipgloss.NormalBorder()
	color := lipgloss.Color("240")
	if active {
		color = lipgloss.Color("39")
	}
	return lipgloss.NewStyle().
		Border(border, true).
		BorderForeground(color).
		Padding(0, 1)
}
