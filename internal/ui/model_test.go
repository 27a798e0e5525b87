package ui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"docchat/internal/chat"
	"docchat/internal/config"
	"docchat/internal/gateway"
	"docchat/internal/prefs"
	"docchat/internal/session"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	mu      sync.Mutex
	convs   []chat.ConversationSummary
	docs    []chat.Document
	history map[chat.ID][]chat.Message
	replies []error
	sent    []string
}

func (s *stubGateway) ListConversations(context.Context) ([]chat.ConversationSummary, error) {
	return s.convs, nil
}

func (s *stubGateway) CreateConversation(context.Context) (chat.Conversation, error) {
	return chat.Conversation{ConversationSummary: chat.ConversationSummary{ID: "new"}}, nil
}

func (s *stubGateway) History(_ context.Context, id chat.ID) ([]chat.Message, error) {
	return s.history[id], nil
}

// SendMessage fails while replies holds errors, then echoes.
func (s *stubGateway) SendMessage(_ context.Context, req gateway.SendRequest) (gateway.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, req.Text)
	if len(s.replies) > 0 {
		err := s.replies[0]
		s.replies = s.replies[1:]
		if err != nil {
			return gateway.Reply{}, &gateway.ExchangeError{Op: "send message", Text: req.Text, Err: err}
		}
	}
	conv := req.ConversationID
	if conv.IsZero() {
		conv = "c1"
	}
	return gateway.Reply{Message: chat.Message{Text: "answer to " + req.Text}, ConversationID: conv}, nil
}

func (s *stubGateway) ListDocuments(context.Context) ([]chat.Document, error) {
	return s.docs, nil
}

func (s *stubGateway) UploadDocuments(context.Context, []string, gateway.UploadMetadata) ([]gateway.UploadResult, error) {
	return nil, nil
}

func (s *stubGateway) DeleteDocument(context.Context, chat.ID) error { return nil }

func newTestModel(t *testing.T, gw *stubGateway) Model {
	t.Helper()
	ctrl := session.NewController(gw, prefs.NewMemoryStore(prefs.Options{}))
	m := NewModel(config.Defaults(), ctrl, nil)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return update(t, m, initDoneMsg{err: ctrl.Init(context.Background())})
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out
}

func press(t *testing.T, m Model, k string) (Model, tea.Cmd) {
	t.Helper()
	var msg tea.KeyMsg
	switch k {
	case "enter":
		msg = tea.KeyMsg{Type: tea.KeyEnter}
	case "space":
		msg = tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "esc":
		msg = tea.KeyMsg{Type: tea.KeyEsc}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
	}
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

// collect runs cmd and any batched commands, returning the produced
// messages of the requested kinds.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	switch msg.(type) {
	case exchangeMsg, historyMsg:
		return []tea.Msg{msg}
	}
	return nil
}

func onlyMsg[T tea.Msg](t *testing.T, msgs []tea.Msg) T {
	t.Helper()
	var found []T
	for _, msg := range msgs {
		if v, ok := msg.(T); ok {
			found = append(found, v)
		}
	}
	require.Len(t, found, 1)
	return found[0]
}

func sendText(t *testing.T, m Model, text string) (Model, exchangeMsg) {
	t.Helper()
	m, _ = press(t, m, "i")
	m.composer.SetValue(text)
	m, cmd := press(t, m, "enter")
	return m, onlyMsg[exchangeMsg](t, collect(cmd))
}

func TestSubmitAppliesReply(t *testing.T) {
	m := newTestModel(t, &stubGateway{})

	m, ex := sendText(t, m, "hello")
	assert.True(t, m.state.Loading)
	assert.Empty(t, m.composer.Value())
	require.Len(t, m.state.Messages, 1)

	m = update(t, m, ex)
	assert.False(t, m.state.Loading)
	require.Len(t, m.state.Messages, 2)
	assert.Equal(t, "answer to hello", m.state.Messages[1].Text)
	assert.Equal(t, chat.ID("c1"), m.state.ConversationID)
	require.Len(t, m.convList.Items(), 1, "adopted conversation appears in the list")
	assert.True(t, m.convList.Items()[0].(conversationItem).active)
}

func TestEmptySubmitShowsHint(t *testing.T) {
	m := newTestModel(t, &stubGateway{})
	m, _ = press(t, m, "i")
	m, cmd := press(t, m, "enter")
	assert.Nil(t, cmd)
	assert.Equal(t, "Type a message first", m.status)
	assert.Empty(t, m.state.Messages)
}

func TestFailedExchangeOffersRetry(t *testing.T) {
	gw := &stubGateway{replies: []error{errors.New("timeout")}}
	m := newTestModel(t, gw)

	m, ex := sendText(t, m, "x")
	m = update(t, m, ex)
	assert.True(t, m.state.CanRetry)
	assert.Equal(t, "x", m.state.RetryPayload)
	assert.Contains(t, m.status, "retry")
	assert.Contains(t, transcriptMarkdown(m.state), "Press `r` to retry: x")

	m, _ = press(t, m, "esc")
	m, cmd := press(t, m, "r")
	retry := onlyMsg[exchangeMsg](t, collect(cmd))
	m = update(t, m, retry)

	assert.False(t, m.state.CanRetry)
	assert.Equal(t, []string{"x", "x"}, gw.sent)
	require.Len(t, m.state.Messages, 4)
	assert.True(t, m.state.Messages[1].IsError)
	assert.Equal(t, "answer to x", m.state.Messages[3].Text)
}

func TestExchangeForAbandonedConversationIsIgnored(t *testing.T) {
	gw := &stubGateway{
		convs: []chat.ConversationSummary{{ID: "a", Title: "Alpha"}, {ID: "b", Title: "Beta"}},
		history: map[chat.ID][]chat.Message{
			"b": {{ID: "b1", Text: "beta history", Sender: chat.SenderAssistant}},
		},
	}
	m := newTestModel(t, gw)

	m, cmd := press(t, m, "enter")
	m = update(t, m, onlyMsg[historyMsg](t, collect(cmd)))
	require.Equal(t, chat.ID("a"), m.state.ConversationID)

	m, pending := sendText(t, m, "about alpha")

	m, _ = press(t, m, "esc")
	m.focus = focusList
	m.convList.Select(1)
	m, cmd = press(t, m, "enter")
	m = update(t, m, onlyMsg[historyMsg](t, collect(cmd)))
	require.Equal(t, chat.ID("b"), m.state.ConversationID)

	m.status = "unchanged"
	m = update(t, m, pending)
	assert.Equal(t, gw.history["b"], m.state.Messages)
	assert.Equal(t, "unchanged", m.status)
	assert.False(t, m.state.Loading)
}

func TestSearchFiltersConversations(t *testing.T) {
	gw := &stubGateway{convs: []chat.ConversationSummary{
		{ID: "1", Title: "Budget review", LastMessagePreview: "numbers for q3"},
		{ID: "2", Title: "Hiring plan"},
		{ID: "3", Title: "Travel", LastMessagePreview: "budget for flights"},
	}}
	m := newTestModel(t, gw)
	require.Len(t, m.convList.Items(), 3)

	m, _ = press(t, m, "/")
	for _, r := range "budget" {
		m, _ = press(t, m, string(r))
	}
	assert.Equal(t, "budget", m.searchQuery)
	assert.Len(t, m.convList.Items(), 2)

	m, _ = press(t, m, "esc")
	assert.Empty(t, m.searchQuery)
	assert.Len(t, m.convList.Items(), 3)
}

func TestApplyConversationsKeepsCursor(t *testing.T) {
	gw := &stubGateway{convs: []chat.ConversationSummary{{ID: "1"}, {ID: "2"}, {ID: "3"}}}
	m := newTestModel(t, gw)
	m.convList.Select(2)
	m.sync()
	assert.Equal(t, 2, m.convList.Index())
}

func TestDocumentSelectionKeys(t *testing.T) {
	gw := &stubGateway{docs: []chat.Document{
		{ID: "d1", Title: "Handbook", Status: chat.StatusIndexed},
		{ID: "d2", Title: "Policy", Status: chat.StatusIndexed},
	}}
	m := newTestModel(t, gw)

	m, _ = press(t, m, "d")
	assert.Equal(t, paneDocuments, m.left)
	m, _ = press(t, m, "space")
	assert.Equal(t, chat.IDs("d1"), m.state.SelectedDocuments)
	assert.True(t, m.docList.Items()[0].(documentItem).selected)

	m, _ = press(t, m, "space")
	assert.Empty(t, m.state.SelectedDocuments)

	m, _ = press(t, m, "space")
	m, _ = press(t, m, "x")
	assert.Empty(t, m.state.SelectedDocuments)
}

func TestQuickPromptFillsComposer(t *testing.T) {
	m := newTestModel(t, &stubGateway{})
	m, _ = press(t, m, "2")
	assert.Equal(t, quickPrompts[1], m.composer.Value())
	assert.Equal(t, focusComposer, m.focus)
}

func TestNewChatClearsTranscript(t *testing.T) {
	m := newTestModel(t, &stubGateway{})
	m, ex := sendText(t, m, "hello")
	m = update(t, m, ex)
	m, _ = press(t, m, "esc")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	m = next.(Model)
	assert.Empty(t, m.state.Messages)
	assert.True(t, m.state.ConversationID.IsZero())
}

// renderNow runs the transcript render the model would schedule and feeds
// the result back. A nil command means the render cache answered.
func renderNow(t *testing.T, m Model) (Model, bool) {
	t.Helper()
	cmd := m.renderTranscript(false)
	if cmd == nil {
		return m, false
	}
	return update(t, m, cmd()), true
}

func TestNewChatNeverShowsEarlierRender(t *testing.T) {
	gw := &stubGateway{replies: []error{errors.New("down"), errors.New("down")}}
	m := newTestModel(t, gw)

	m, ex := sendText(t, m, "FIRST-SECRET")
	m = update(t, m, ex)
	require.True(t, m.state.CanRetry)
	m, rendered := renderNow(t, m)
	require.True(t, rendered)
	require.Contains(t, m.viewport.View(), "FIRST-SECRET")
	firstKey := m.renderCacheKey()

	m, _ = press(t, m, "esc")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyCtrlN})
	m = next.(Model)
	assert.NotContains(t, m.rendered, firstKey)

	m, ex = sendText(t, m, "SECOND-TEXT")
	m = update(t, m, ex)
	require.True(t, m.state.CanRetry)
	require.True(t, m.state.ConversationID.IsZero())
	assert.NotEqual(t, firstKey, m.renderCacheKey())

	m, rendered = renderNow(t, m)
	require.True(t, rendered, "second unsaved conversation must not reuse the first render")
	assert.Contains(t, m.viewport.View(), "SECOND-TEXT")
	assert.NotContains(t, m.viewport.View(), "FIRST-SECRET")
}

func TestSettingsModeSaves(t *testing.T) {
	m := newTestModel(t, &stubGateway{})
	m, _ = press(t, m, "s")
	require.True(t, m.settingsMode)
	m, _ = press(t, m, "l")
	assert.Equal(t, 4, m.settingsDraft.FragmentCount)

	m, cmd := press(t, m, "enter")
	require.NotNil(t, cmd)
	m = update(t, m, cmd())
	assert.False(t, m.settingsMode)
	assert.Equal(t, 4, m.state.Preferences.FragmentCount)
	assert.Equal(t, 4, m.ctrl.Preferences().FragmentCount)
}

func TestAdjustSetting(t *testing.T) {
	p := prefs.Defaults()
	cat := prefs.DefaultCatalog

	p = adjustSetting(p, fieldFragments, 5, cat)
	assert.Equal(t, prefs.MaxFragments, p.FragmentCount)
	p = adjustSetting(p, fieldFragments, -9, cat)
	assert.Equal(t, prefs.MinFragments, p.FragmentCount)

	for i := 0; i < 10; i++ {
		p = adjustSetting(p, fieldThreshold, 1, cat)
	}
	assert.Equal(t, 1.0, p.SimilarityThreshold)

	p = adjustSetting(p, fieldTemperature, -1, cat)
	assert.InDelta(t, 0.6, p.Temperature, 1e-9)

	p = adjustSetting(p, fieldModel, 1, cat)
	assert.Equal(t, prefs.Model("gpt-3.5"), p.Model)
	p = adjustSetting(p, fieldModel, -2, cat)
	assert.Equal(t, prefs.Model("claude"), p.Model)
	assert.NoError(t, p.Validate(cat))
}

func TestRenderMsgWithOldNonceIgnored(t *testing.T) {
	m := newTestModel(t, &stubGateway{})
	m.renderNonce = 5
	m.viewport.SetContent("current")
	m = update(t, m, renderMsg{cacheKey: "k", rendered: "old", nonce: 4})
	assert.NotContains(t, m.viewport.View(), "old")
	_, cached := m.rendered["k"]
	assert.False(t, cached)
}

func TestTranscriptMarkdown(t *testing.T) {
	empty := transcriptMarkdown(session.ViewState{})
	assert.Contains(t, empty, "# New conversation")
	assert.Contains(t, empty, "1. "+quickPrompts[0])

	loadingHistory := transcriptMarkdown(session.ViewState{Loading: true, ConversationID: "a"})
	assert.Contains(t, loadingHistory, "Loading conversation")

	waiting := transcriptMarkdown(session.ViewState{
		Loading:  true,
		Messages: []chat.Message{{Sender: chat.SenderUser, Text: "q"}},
	})
	assert.Contains(t, waiting, "## You")
	assert.Contains(t, waiting, "thinking")
}

func TestLastReplySkipsFailures(t *testing.T) {
	msgs := []chat.Message{
		{Sender: chat.SenderAssistant, Text: "good"},
		{Sender: chat.SenderUser, Text: "q"},
		{Sender: chat.SenderAssistant, Text: chat.ApologyText, IsError: true},
	}
	text, ok := lastReply(msgs)
	assert.True(t, ok)
	assert.Equal(t, "good", text)

	_, ok = lastReply(msgs[1:])
	assert.False(t, ok)
}

func TestStripEmbeddedImageData(t *testing.T) {
	in := "see ![x](data:image/png;base64,QUJDRA==) and data:image/ plain"
	out := stripEmbeddedImageData(in)
	assert.Contains(t, out, "[embedded image omitted: 8 base64 chars]")
	assert.NotContains(t, out, "QUJDRA")
	assert.True(t, strings.HasSuffix(out, "data:image/ plain"))
}

func TestClampLongLines(t *testing.T) {
	long := strings.Repeat("a", 50)
	out := clampLongLines("short\n"+long, 20)
	lines := strings.Split(out, "\n")
	assert.Equal(t, "short", lines[0])
	assert.Contains(t, lines[1], "[line truncated 30 chars]")
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "2.0 KiB", humanSize(2048))
	assert.Equal(t, "1.5 MiB", humanSize(3<<19))
}

func TestViewRenders(t *testing.T) {
	m := newTestModel(t, &stubGateway{convs: []chat.ConversationSummary{{ID: "1", Title: "Alpha"}}})
	out := m.View()
	assert.Contains(t, out, "Conversations")
	assert.Contains(t, out, "model=gpt-4")
}
