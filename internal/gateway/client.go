// Package gateway talks to the conversation and document backend. Each call
// is one JSON request/response exchange; every failure comes back as an
// *ExchangeError matching ErrExchangeFailed.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"docchat/internal/chat"
	"docchat/internal/prefs"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:8000/api"
	DefaultTimeout = 60 * time.Second

	maxErrorBody = 4 << 10
)

type Client struct {
	baseURL *url.URL
	http    *http.Client
	creds   Credentials
	logger  *zap.Logger
	now     func() time.Time
	newID   func() chat.ID
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the request timeout on a copy of the installed HTTP
// client, so a shared client such as http.DefaultClient is left alone.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithIDs(next func() chat.ID) Option {
	return func(c *Client) { c.newID = next }
}

func New(baseURL string, creds Credentials, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q: scheme must be http or https", baseURL)
	}
	if creds == nil {
		creds = Anonymous{}
	}
	c := &Client{
		baseURL: u,
		http:    &http.Client{Timeout: DefaultTimeout},
		creds:   creds,
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   chat.NewID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) endpoint(parts ...string) string {
	return c.baseURL.JoinPath(parts...).String()
}

type request struct {
	op          string
	method      string
	url         string
	body        io.Reader
	contentType string
	text        string
}

// do performs one exchange and decodes a JSON body into out. Any failure is
// wrapped into an *ExchangeError tagged with the operation name.
func (c *Client) do(ctx context.Context, r request, out any) error {
	fail := func(status int, err error) error {
		c.logger.Warn("backend exchange failed",
			zap.String("op", r.op),
			zap.Int("status", status),
			zap.Error(err))
		return &ExchangeError{Op: r.op, Text: r.text, Status: status, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, r.method, r.url, r.body)
	if err != nil {
		return fail(0, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return fail(0, fmt.Errorf("credentials: %w", err))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	started := c.now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fail(0, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("backend exchange",
		zap.String("op", r.op),
		zap.String("method", r.method),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", c.now().Sub(started)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(resp.StatusCode, statusError(resp))
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return fail(resp.StatusCode, fmt.Errorf("%w: %v", errMalformed, err))
	}
	return nil
}

// statusError pulls FastAPI's {"detail": ...} out of an error body when
// present.
func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Detail any `json:"detail"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Detail != nil {
		if s, ok := body.Detail.(string); ok {
			return errors.New(s)
		}
		if b, err := json.Marshal(body.Detail); err == nil {
			return errors.New(string(b))
		}
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return errors.New(chat.TruncateRunes(text, 200, "..."))
}

func jsonBody(v any) (io.Reader, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(b), nil
}

// SendRequest is one user turn. An empty ConversationID asks the backend to
// start a new conversation.
type SendRequest struct {
	Text           string
	DocumentIDs    []chat.ID
	ConversationID chat.ID
	Preferences    prefs.Preferences
}

// Reply is a complete assistant answer plus the conversation it belongs to.
type Reply struct {
	Message        chat.Message
	ConversationID chat.ID
}

func (c *Client) SendMessage(ctx context.Context, in SendRequest) (Reply, error) {
	docIDs := in.DocumentIDs
	if docIDs == nil {
		docIDs = []chat.ID{}
	}
	body, err := jsonBody(sendBody{
		Message:        in.Text,
		DocumentIDs:    docIDs,
		ConversationID: conversationRef(in.ConversationID),
		ModelSettings:  settingsFrom(in.Preferences),
	})
	if err != nil {
		return Reply{}, &ExchangeError{Op: "send message", Text: in.Text, Err: err}
	}

	var out sendReply
	err = c.do(ctx, request{
		op:          "send message",
		method:      http.MethodPost,
		url:         c.endpoint("chat", "message"),
		body:        body,
		contentType: "application/json",
		text:        in.Text,
	}, &out)
	if err != nil {
		return Reply{}, err
	}
	if out.Message == nil {
		return Reply{}, &ExchangeError{Op: "send message", Text: in.Text, Status: http.StatusOK, Err: fmt.Errorf("%w: missing message", errMalformed)}
	}

	convID := out.ConversationID
	if convID.IsZero() {
		convID = in.ConversationID
	}
	if convID.IsZero() {
		return Reply{}, &ExchangeError{Op: "send message", Text: in.Text, Status: http.StatusOK, Err: fmt.Errorf("%w: missing conversation_id", errMalformed)}
	}

	ts := out.CreatedAt.Time
	if ts.IsZero() {
		ts = c.now()
	}
	return Reply{
		Message: chat.Message{
			ID:        c.newID(),
			Text:      *out.Message,
			Sender:    chat.SenderAssistant,
			Timestamp: ts,
			Sources:   citations(out.References),
		},
		ConversationID: convID,
	}, nil
}

func (c *Client) ListConversations(ctx context.Context) ([]chat.ConversationSummary, error) {
	var out []wireConversation
	err := c.do(ctx, request{
		op:     "list conversations",
		method: http.MethodGet,
		url:    c.endpoint("chat", "conversations"),
	}, &out)
	if err != nil {
		return nil, err
	}
	summaries := make([]chat.ConversationSummary, 0, len(out))
	for _, w := range out {
		if w.ID.IsZero() {
			continue
		}
		summaries = append(summaries, w.summary())
	}
	return summaries, nil
}

func (c *Client) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	var out wireConversation
	err := c.do(ctx, request{
		op:     "create conversation",
		method: http.MethodPost,
		url:    c.endpoint("chat", "conversations"),
	}, &out)
	if err != nil {
		return chat.Conversation{}, err
	}
	if out.ID.IsZero() {
		return chat.Conversation{}, &ExchangeError{Op: "create conversation", Status: http.StatusOK, Err: fmt.Errorf("%w: missing id", errMalformed)}
	}
	conv := chat.Conversation{ConversationSummary: out.summary()}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = c.now()
	}
	return conv, nil
}

func (c *Client) History(ctx context.Context, conversationID chat.ID) ([]chat.Message, error) {
	if conversationID.IsZero() {
		return nil, &ExchangeError{Op: "get history", Err: errors.New("conversation id is required")}
	}
	var out []wireMessage
	err := c.do(ctx, request{
		op:     "get history",
		method: http.MethodGet,
		url:    c.endpoint("chat", "history", conversationID.String()),
	}, &out)
	if err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(out))
	for _, w := range out {
		id := w.ID
		if id.IsZero() {
			id = c.newID()
		}
		msgs = append(msgs, chat.Message{
			ID:        id,
			Text:      w.Content,
			Sender:    chat.SenderFromRole(w.Role),
			Timestamp: w.CreatedAt.Time,
			Sources:   citations(w.References),
		})
	}
	return msgs, nil
}
