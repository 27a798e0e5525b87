package ui

import (
	"fmt"
	"strconv"
	"strings"

	"docchat/internal/export"
	"docchat/internal/highlight"
	"docchat/internal/session"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

const maxDisplayChars = 1_000_000

func (m *Model) renderTranscript(force bool) tea.Cmd {
	if m.settingsMode {
		m.viewport.SetContent(m.settingsView())
		return nil
	}
	cacheKey := m.renderCacheKey()
	if !force {
		if rendered, ok := m.rendered[cacheKey]; ok {
			m.setViewportFromRendered(cacheKey, rendered, true)
			return nil
		}
	}
	m.rendering = true
	m.renderNonce++
	wrap := m.viewport.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	return renderTranscriptCmd(cacheKey, transcriptMarkdown(m.state), m.cfg.GlamourStyle, wrap, m.renderNonce)
}

// renderCacheKey identifies rendered output. Transcripts are append-only
// within an epoch, so the message count stands in for the content.
func (m Model) renderCacheKey() string {
	return fmt.Sprintf(
		"e=%d|%s|n=%d|w=%d|l=%t|r=%t",
		m.state.Epoch,
		m.state.ConversationID,
		len(m.state.Messages),
		m.viewport.Width,
		m.state.Loading,
		m.state.CanRetry,
	)
}

func transcriptMarkdown(v session.ViewState) string {
	if len(v.Messages) == 0 {
		if v.Loading {
			return "_Loading conversation..._\n"
		}
		var b strings.Builder
		if v.ConversationID.IsZero() {
			b.WriteString("# New conversation\n\n")
		} else {
			b.WriteString("# Empty conversation\n\n")
		}
		b.WriteString("Ask a question about your documents")
		if n := len(v.SelectedDocuments); n > 0 {
			fmt.Fprintf(&b, " (%d selected)", n)
		}
		b.WriteString(".\n\nQuick prompts:\n\n")
		for i, p := range quickPrompts {
			fmt.Fprintf(&b, "%d. %s\n", i+1, p)
		}
		return b.String()
	}

	md := export.BuildTranscriptMarkdown(v.Messages)
	if v.Loading {
		md += "\n_Assistant is thinking..._\n"
	}
	if v.CanRetry {
		md += "\n> Press `r` to retry: " + strings.ReplaceAll(v.RetryPayload, "\n", " ") + "\n"
	}
	return sanitizeMarkdownForDisplay(md)
}

func renderTranscriptCmd(cacheKey, md, style string, wrap, nonce int) tea.Cmd {
	return func() tea.Msg {
		if len(md) > 500_000 {
			return renderMsg{cacheKey: cacheKey, rendered: md, nonce: nonce}
		}
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle(style),
			glamour.WithWordWrap(wrap),
		)
		if err != nil {
			return renderMsg{cacheKey: cacheKey, rendered: md, nonce: nonce}
		}
		rendered := md
		if out, renderErr := r.Render(md); renderErr == nil {
			rendered = out
		}
		return renderMsg{cacheKey: cacheKey, rendered: rendered, nonce: nonce}
	}
}

func (m Model) highlightCacheKey(cacheKey, query string) string {
	return cacheKey + "|q=" + strings.ToLower(strings.TrimSpace(query))
}

func (m *Model) refreshViewportFromCache() {
	if m.settingsMode {
		return
	}
	cacheKey := m.renderCacheKey()
	rendered, ok := m.rendered[cacheKey]
	if !ok {
		return
	}
	oldOffset := m.viewport.YOffset
	m.setViewportFromRendered(cacheKey, rendered, false)
	m.viewport.SetYOffset(m.clampViewportOffset(oldOffset))
}

// setViewportFromRendered shows rendered content. With jump set the view
// moves to the first search match, or to the newest message.
func (m *Model) setViewportFromRendered(cacheKey, rendered string, jump bool) {
	content := rendered
	if query := strings.TrimSpace(m.searchQuery); query != "" {
		hKey := m.highlightCacheKey(cacheKey, query)
		res, ok := m.highlighted[hKey]
		if !ok {
			res = highlight.ApplyANSI(rendered, query, func(s string) string {
				return searchMatchStyle.Render(s)
			})
			m.highlighted[hKey] = res
		}
		content = res.Text
		m.setMatchMeta(res)
	} else {
		m.clearMatches()
	}

	m.viewport.SetContent(content)
	if !jump {
		return
	}
	if len(m.matchLines) > 0 {
		m.matchIndex = 0
		m.viewport.SetYOffset(m.clampViewportOffset(m.matchLines[0]))
		return
	}
	m.viewport.GotoBottom()
}

func (m *Model) setMatchMeta(res highlight.Result) {
	if res.Count == 0 || len(res.LineIndex) == 0 {
		m.clearMatches()
		return
	}
	m.matchCount = res.Count
	m.matchLines = append(m.matchLines[:0], res.LineIndex...)
	if m.matchIndex < 0 || m.matchIndex >= len(m.matchLines) {
		m.matchIndex = 0
	}
}

func (m *Model) clearMatches() {
	m.matchLines = nil
	m.matchCount = 0
	m.matchIndex = -1
}

func (m *Model) jumpToMatch(delta int) {
	if strings.TrimSpace(m.searchQuery) == "" {
		if delta < 0 {
			m.viewport.HalfViewUp()
		} else {
			m.viewport.HalfViewDown()
		}
		return
	}
	if len(m.matchLines) == 0 {
		m.status = "No search matches in transcript"
		return
	}

	if m.matchIndex < 0 || m.matchIndex >= len(m.matchLines) {
		m.matchIndex = 0
	} else if delta > 0 {
		m.matchIndex = (m.matchIndex + 1) % len(m.matchLines)
	} else if delta < 0 {
		m.matchIndex = (m.matchIndex - 1 + len(m.matchLines)) % len(m.matchLines)
	}

	m.viewport.SetYOffset(m.clampViewportOffset(m.matchLines[m.matchIndex]))
	m.status = fmt.Sprintf("Match %d/%d", m.matchIndex+1, len(m.matchLines))
}

func (m *Model) clampViewportOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	maxOffset := m.viewport.TotalLineCount() - m.viewport.Height
	if maxOffset < 0 {
		maxOffset = 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

func sanitizeMarkdownForDisplay(md string) string {
	md = stripEmbeddedImageData(md)
	md = clampLongLines(md, 8000)
	if len(md) <= maxDisplayChars {
		return md
	}
	trimmed := strings.TrimRight(md[:maxDisplayChars], "\n")
	return trimmed + "\n\n... [transcript truncated for display; use export for full content] ...\n"
}

// stripEmbeddedImageData replaces inline base64 image payloads, which some
// models emit in answers, with a short placeholder.
func stripEmbeddedImageData(s string) string {
	const marker = "data:image/"
	var b strings.Builder
	pos := 0
	for {
		i := strings.Index(s[pos:], marker)
		if i < 0 {
			b.WriteString(s[pos:])
			return b.String()
		}
		start := pos + i
		b.WriteString(s[pos:start])

		sep := strings.Index(s[start:], ";base64,")
		if sep < 0 {
			b.WriteString(marker)
			pos = start + len(marker)
			continue
		}
		payload := start + sep + len(";base64,")
		end := payload
		for end < len(s) && isBase64Byte(s[end]) {
			end++
		}
		b.WriteString("[embedded image omitted: " + strconv.Itoa(end-payload) + " base64 chars]")
		pos = end
	}
}

func isBase64Byte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		return true
	case c == '+' || c == '/' || c == '=' || c == '\n' || c == '\r':
		return true
	default:
		return false
	}
}

func clampLongLines(s string, max int) string {
	if max <= 0 || len(s) == 0 {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if len(line) <= max {
			continue
		}
		lines[i] = line[:max/2] + "... [line truncated " + strconv.Itoa(len(line)-max) + " chars] ..." + line[len(line)-max/2:]
	}
	return strings.Join(lines, "\n")
}
