package ui

import (
	"fmt"
	"math"
	"strings"

	"docchat/internal/prefs"

	tea "github.com/charmbracelet/bubbletea"
)

const (
	fieldFragments = iota
	fieldThreshold
	fieldModel
	fieldTemperature
	fieldCount
)

func (m Model) handleSettingsKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch msg.String() {
	case "esc", "q":
		m.settingsMode = false
		m.status = "Settings unchanged"
		return m, m.renderTranscript(false)
	case "enter":
		m.status = "Saving settings..."
		return m, m.saveSettingsCmd(m.settingsDraft)
	case "up", "k":
		m.settingsField = (m.settingsField - 1 + fieldCount) % fieldCount
	case "down", "j", "tab":
		m.settingsField = (m.settingsField + 1) % fieldCount
	case "left", "h", "-":
		m.settingsDraft = adjustSetting(m.settingsDraft, m.settingsField, -1, m.ctrl.Catalog())
	case "right", "l", "+":
		m.settingsDraft = adjustSetting(m.settingsDraft, m.settingsField, 1, m.ctrl.Catalog())
	case "0":
		m.settingsDraft = prefs.Defaults()
	default:
		return m, nil
	}
	m.viewport.SetContent(m.settingsView())
	return m, nil
}

// adjustSetting steps one field, clamped to its valid range. The model
// field cycles through the catalog.
func adjustSetting(p prefs.Preferences, field, delta int, catalog prefs.Catalog) prefs.Preferences {
	switch field {
	case fieldFragments:
		p.FragmentCount = clampInt(p.FragmentCount+delta, prefs.MinFragments, prefs.MaxFragments)
	case fieldThreshold:
		p.SimilarityThreshold = clampUnit(p.SimilarityThreshold + 0.05*float64(delta))
	case fieldModel:
		if len(catalog) == 0 {
			break
		}
		idx := 0
		for i, mdl := range catalog {
			if mdl == p.Model {
				idx = i
				break
			}
		}
		idx = (idx + delta + len(catalog)) % len(catalog)
		p.Model = catalog[idx]
	case fieldTemperature:
		p.Temperature = clampUnit(p.Temperature + 0.1*float64(delta))
	}
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampUnit(v float64) float64 {
	v = math.Round(v*100) / 100
	return math.Max(0, math.Min(1, v))
}

func (m Model) settingsView() string {
	p := m.settingsDraft
	rows := []string{
		fmt.Sprintf("Fragments per answer  %d", p.FragmentCount),
		fmt.Sprintf("Similarity threshold  %.2f", p.SimilarityThreshold),
		fmt.Sprintf("Model                 %s", p.Model),
		fmt.Sprintf("Temperature           %.2f", p.Temperature),
	}
	var b strings.Builder
	b.WriteString("Settings\n\n")
	for i, r := range rows {
		if i == m.settingsField {
			b.WriteString(settingsCursorStyle.Render("> "+r) + "\n")
		} else {
			b.WriteString("  " + r + "\n")
		}
	}
	b.WriteString("\n↑/↓ field  ←/→ adjust  0 defaults  enter save  esc cancel\n")
	b.WriteString("\nChanges apply to your next message. Sent messages are not re-asked.\n")
	return b.String()
}
