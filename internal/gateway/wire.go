package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"docchat/internal/chat"
	"docchat/internal/prefs"
)

type sendBody struct {
	Message        string          `json:"message"`
	DocumentIDs    []chat.ID       `json:"document_ids"`
	ConversationID conversationRef `json:"conversation_id"`
	ModelSettings  modelSettings   `json:"model_settings"`
}

// conversationRef is a conversation id on the request side, where the chat
// endpoint only accepts a string or null.
type conversationRef chat.ID

func (r conversationRef) MarshalJSON() ([]byte, error) {
	if chat.ID(r).IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(r))
}

type modelSettings struct {
	NumChunks           int     `json:"num_chunks"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	Model               string  `json:"model"`
	Temperature         float64 `json:"temperature"`
}

func settingsFrom(p prefs.Preferences) modelSettings {
	return modelSettings{
		NumChunks:           p.FragmentCount,
		SimilarityThreshold: p.SimilarityThreshold,
		Model:               string(p.Model),
		Temperature:         p.Temperature,
	}
}

type sendReply struct {
	Message        *string         `json:"message"`
	CreatedAt      wireTime        `json:"created_at"`
	ConversationID chat.ID         `json:"conversation_id"`
	References     []wireReference `json:"references"`
}

type wireConversation struct {
	ID                 chat.ID  `json:"id"`
	Title              string   `json:"title"`
	CreatedAt          wireTime `json:"created_at"`
	LastMessagePreview string   `json:"last_message_preview"`
}

func (c wireConversation) summary() chat.ConversationSummary {
	return chat.ConversationSummary{
		ID:                 c.ID,
		Title:              strings.TrimSpace(c.Title),
		CreatedAt:          c.CreatedAt.Time,
		LastMessagePreview: chat.Preview(c.LastMessagePreview),
	}
}

type wireMessage struct {
	ID         chat.ID         `json:"id"`
	Role       string          `json:"role"`
	Content    string          `json:"content"`
	CreatedAt  wireTime        `json:"created_at"`
	References []wireReference `json:"references"`
}

type wireReference struct {
	DocumentTitle    string   `json:"document_title"`
	Title            string   `json:"title"`
	Filename         string   `json:"filename"`
	OriginalFilename string   `json:"original_filename"`
	PageContent      string   `json:"page_content"`
	Content          string   `json:"content"`
	PageNumber       flexText `json:"page_number"`
}

func (r wireReference) citation() chat.Citation {
	title := firstNonEmpty(r.DocumentTitle, r.Title)
	filename := firstNonEmpty(r.Filename, r.OriginalFilename)
	excerpt := firstNonEmpty(r.PageContent, r.Content)
	return chat.NewCitation(title, filename, excerpt, string(r.PageNumber))
}

func citations(refs []wireReference) []chat.Citation {
	if len(refs) == 0 {
		return nil
	}
	out := make([]chat.Citation, 0, len(refs))
	for _, r := range refs {
		out = append(out, r.citation())
	}
	return out
}

type wireDocument struct {
	ID               chat.ID  `json:"id"`
	Title            string   `json:"title"`
	OriginalFilename string   `json:"original_filename"`
	Status           string   `json:"status"`
	FileType         string   `json:"file_type"`
	FileSize         int64    `json:"file_size"`
	CreatedAt        wireTime `json:"created_at"`
}

func (d wireDocument) document() chat.Document {
	return chat.Document{
		ID:               d.ID,
		Title:            d.Title,
		OriginalFilename: d.OriginalFilename,
		Status:           d.Status,
		FileType:         d.FileType,
		FileSize:         d.FileSize,
		CreatedAt:        d.CreatedAt.Time,
	}
}

type wireUploadResult struct {
	Success  bool          `json:"success"`
	Message  string        `json:"message"`
	Document *wireDocument `json:"document"`
	Error    string        `json:"error"`
	Filename string        `json:"filename"`
}

type uploadMetadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Visibility  string   `json:"visibility"`
}

// wireTime accepts RFC 3339 as well as the naive ISO-8601 timestamps the
// backend emits for columns without a zone. Naive values are read as UTC.
type wireTime struct{ time.Time }

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	var s string
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	_, err := time.Parse(time.RFC3339Nano, s)
	return err
}

// flexText holds a scalar that may arrive as a string or a number.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexText(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexText(strconv.FormatFloat(n, 'f', -1, 64))
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
