package chat

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// SenderFromRole maps a backend role onto a Sender. Only "user" is a user;
// every other role renders as the assistant.
func SenderFromRole(role string) Sender {
	if strings.EqualFold(strings.TrimSpace(role), "user") {
		return SenderUser
	}
	return SenderAssistant
}

// ApologyText is the body of the synthetic reply appended when an exchange fails.
const ApologyText = "An error occurred while processing your request. Please try again."

const (
	PageUnknown      = "n/a"
	UntitledDocument = "Untitled document"
	StatusIndexed    = "indexed"

	MaxExcerptRunes = 150
	MaxPreviewRunes = 120
	ellipsis        = "..."
)

type Citation struct {
	DocumentTitle string
	Excerpt       string
	Page          string
}

// NewCitation normalises a retrieved fragment for display: the title falls back
// to the filename, the excerpt is cut to MaxExcerptRunes and a missing page
// becomes PageUnknown.
func NewCitation(title, filename, excerpt, page string) Citation {
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSpace(filename)
	}
	if title == "" {
		title = UntitledDocument
	}
	page = strings.TrimSpace(page)
	if page == "" || page == "0" {
		page = PageUnknown
	}
	return Citation{
		DocumentTitle: title,
		Excerpt:       TruncateRunes(strings.TrimSpace(excerpt), MaxExcerptRunes, ellipsis),
		Page:          page,
	}
}

type Message struct {
	ID        ID
	Text      string
	Sender    Sender
	Timestamp time.Time
	Sources   []Citation
	IsError   bool
}

func (m Message) IsUser() bool { return m.Sender == SenderUser }

type ConversationSummary struct {
	ID                 ID
	Title              string
	CreatedAt          time.Time
	LastMessagePreview string
}

// Label is the text shown for a conversation in lists.
func (s ConversationSummary) Label() string {
	if t := strings.TrimSpace(s.Title); t != "" {
		return t
	}
	if s.CreatedAt.IsZero() {
		return "Conversation " + s.ID.String()
	}
	return "Conversation of " + s.CreatedAt.Local().Format("2006-01-02 15:04")
}

type Conversation struct {
	ConversationSummary
	Messages []Message
}

type Document struct {
	ID               ID
	Title            string
	OriginalFilename string
	Status           string
	FileType         string
	FileSize         int64
	CreatedAt        time.Time
}

func (d Document) DisplayName() string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	if f := strings.TrimSpace(d.OriginalFilename); f != "" {
		return f
	}
	return UntitledDocument
}

func (d Document) Indexed() bool {
	return strings.EqualFold(strings.TrimSpace(d.Status), StatusIndexed)
}

// IndexedOnly keeps the documents that can ground a conversation.
func IndexedOnly(docs []Document) []Document {
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if d.Indexed() {
			out = append(out, d)
		}
	}
	return out
}

// Preview flattens text to a single line of at most MaxPreviewRunes.
func Preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return TruncateRunes(s, MaxPreviewRunes, ellipsis)
}

func TruncateRunes(s string, max int, tail string) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	keep := max - utf8.RuneCountInString(tail)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:keep]), " ") + tail
}
