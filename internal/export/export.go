// Package export writes a conversation transcript to a markdown file.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docchat/internal/chat"
)

type Exporter struct {
	overrideDir string
	cwd         string
	now         func() time.Time
}

func New(overrideDir string) (*Exporter, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve cwd: %w", err)
	}
	return &Exporter{overrideDir: strings.TrimSpace(overrideDir), cwd: cwd, now: time.Now}, nil
}

// Export writes conv to <dir>/<id>.md and returns the path.
func (e *Exporter) Export(conv chat.Conversation) (string, error) {
	if len(conv.Messages) == 0 {
		return "", fmt.Errorf("conversation has no messages to export")
	}
	path := e.outputPath(conv.ConversationSummary)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	md := BuildConversationMarkdown(conv.ConversationSummary, BuildTranscriptMarkdown(conv.Messages), e.now().UTC())
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return "", fmt.Errorf("write export file: %w", err)
	}
	return path, nil
}

// BuildTranscriptMarkdown renders messages in order. Failed replies are kept
// and marked so the export matches what the user saw.
func BuildTranscriptMarkdown(messages []chat.Message) string {
	var b strings.Builder
	for _, m := range messages {
		content := strings.TrimSpace(m.Text)
		if content == "" {
			continue
		}
		switch {
		case m.IsUser():
			b.WriteString("## You\n\n")
		case m.IsError:
			b.WriteString("## Assistant (failed)\n\n")
		default:
			b.WriteString("## Assistant\n\n")
		}
		b.WriteString(content + "\n\n")
		if len(m.Sources) > 0 {
			b.WriteString(SourcesMarkdown(m.Sources))
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String()) + "\n"
}

// SourcesMarkdown renders citations as a numbered list with quoted excerpts.
func SourcesMarkdown(sources []chat.Citation) string {
	var b strings.Builder
	b.WriteString("**Sources**\n\n")
	for i, s := range sources {
		fmt.Fprintf(&b, "%d. *%s* (page %s)\n", i+1, s.DocumentTitle, safeValue(s.Page))
		if s.Excerpt != "" {
			b.WriteString("   > " + strings.ReplaceAll(s.Excerpt, "\n", " ") + "\n")
		}
	}
	return b.String()
}

func BuildConversationMarkdown(conv chat.ConversationSummary, transcript string, now time.Time) string {
	var b strings.Builder
	b.WriteString("# " + conv.Label() + "\n\n")
	b.WriteString("Exported: " + now.Format(time.RFC3339) + "\n\n")
	b.WriteString("```text\n")
	b.WriteString("conversation: " + safeValue(conv.ID.String()) + "\n")
	created := ""
	if !conv.CreatedAt.IsZero() {
		created = conv.CreatedAt.UTC().Format(time.RFC3339)
	}
	b.WriteString("created: " + safeValue(created) + "\n")
	b.WriteString("```\n\n")
	b.WriteString(transcript)
	if !strings.HasSuffix(transcript, "\n") {
		b.WriteString("\n")
	}
	return b.String()
}

func (e *Exporter) outputPath(conv chat.ConversationSummary) string {
	name := safeFileName(conv.ID.String())
	if conv.ID.IsZero() {
		name = "conversation-" + e.now().UTC().Format("20060102-150405")
	}
	dir := e.overrideDir
	if dir == "" {
		return filepath.Join(e.cwd, "docchat-exports", name+".md")
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.cwd, dir)
	}
	return filepath.Join(dir, name+".md")
}

func safeFileName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "conversation"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(s)
}

func safeValue(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return chat.PageUnknown
	}
	return s
}
