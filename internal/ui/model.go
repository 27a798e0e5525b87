package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"docchat/internal/chat"
	"docchat/internal/clipboard"
	"docchat/internal/config"
	"docchat/internal/export"
	"docchat/internal/highlight"
	"docchat/internal/prefs"
	"docchat/internal/session"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

type focus int

const (
	focusList focus = iota
	focusTranscript
	focusComposer
)

type leftPane int

const (
	paneConversations leftPane = iota
	paneDocuments
)

var quickPrompts = []string{
	"Summarize the key points of the selected documents",
	"What are the main conclusions?",
	"List the open questions these documents raise",
}

type Model struct {
	cfg      config.AppConfig
	ctrl     *session.Controller
	exporter *export.Exporter
	copier   *clipboard.Copier

	convList list.Model
	docList  list.Model
	viewport viewport.Model
	help     help.Model
	spinner  spinner.Model
	search   textinput.Model
	composer textinput.Model
	keys     keyMap

	width  int
	height int

	state        session.ViewState
	initializing bool
	focus        focus
	left         leftPane
	searchMode   bool
	searchQuery  string
	rendering    bool
	renderNonce  int

	rendered    map[string]string
	highlighted map[string]highlight.Result
	matchLines  []int
	matchCount  int
	matchIndex  int

	settingsMode  bool
	settingsDraft prefs.Preferences
	settingsField int

	status string
	err    error
}

type initDoneMsg struct{ err error }
type exchangeMsg struct{ res session.Result }
type historyMsg struct{ res session.HistoryResult }
type conversationsMsg struct{ err error }
type documentsMsg struct{ err error }
type createdMsg struct {
	conv chat.Conversation
	err  error
}
type deletedMsg struct {
	id  chat.ID
	err error
}
type settingsSavedMsg struct{ err error }
type exportMsg struct {
	path string
	err  error
}
type renderMsg struct {
	cacheKey string
	rendered string
	nonce    int
}
type copyMsg struct {
	err error
}

type conversationItem struct {
	s      chat.ConversationSummary
	active bool
}

func (i conversationItem) Title() string {
	if i.active {
		return "● " + i.s.Label()
	}
	return i.s.Label()
}

func (i conversationItem) Description() string {
	meta := "#" + i.s.ID.String()
	if !i.s.CreatedAt.IsZero() {
		meta += " | " + i.s.CreatedAt.Local().Format("2006-01-02 15:04")
	}
	if i.s.LastMessagePreview == "" {
		return meta
	}
	return meta + " | " + i.s.LastMessagePreview
}

func (i conversationItem) FilterValue() string {
	return strings.ToLower(i.s.Label() + " " + i.s.LastMessagePreview)
}

type documentItem struct {
	d        chat.Document
	selected bool
}

func (i documentItem) Title() string {
	box := "[ ] "
	if i.selected {
		box = "[x] "
	}
	return box + i.d.DisplayName()
}

func (i documentItem) Description() string {
	parts := []string{i.d.Status}
	if i.d.FileType != "" {
		parts = append(parts, i.d.FileType)
	}
	if i.d.FileSize > 0 {
		parts = append(parts, humanSize(i.d.FileSize))
	}
	return strings.Join(parts, " | ")
}

func (i documentItem) FilterValue() string { return strings.ToLower(i.d.DisplayName()) }

func NewModel(cfg config.AppConfig, ctrl *session.Controller, exp *export.Exporter) Model {
	cl := list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20)
	cl.Title = "Conversations"
	dl := list.New([]list.Item{}, list.NewDefaultDelegate(), 40, 20)
	dl.Title = "Documents"
	for _, l := range []*list.Model{&cl, &dl} {
		l.SetShowFilter(false)
		l.SetFilteringEnabled(false)
		l.SetShowStatusBar(false)
		l.SetShowHelp(false)
		l.DisableQuitKeybindings()
	}

	vp := viewport.New(60, 20)
	vp.SetContent("Connecting to " + cfg.APIBaseURL + "...")

	h := help.New()
	h.ShowAll = false

	sp := spinner.New()
	sp.Spinner = spinner.Points

	ti := textinput.New()
	ti.Placeholder = "Filter conversations and highlight transcript..."
	ti.Prompt = "/ "
	ti.CharLimit = 256

	in := textinput.New()
	in.Placeholder = "Ask about your documents (i to type, enter to send)"
	in.Prompt = "> "
	in.CharLimit = 4000

	return Model{
		cfg:      cfg,
		ctrl:     ctrl,
		exporter: exp,
		copier:   clipboard.New(),
		convList: cl,
		docList:  dl,
		viewport: vp,
		help:     h,
		spinner:  sp,
		search:   ti,
		composer: in,
		keys:     defaultKeys(),

		initializing: true,
		focus:        focusList,
		rendered:     make(map[string]string),
		highlighted:  make(map[string]highlight.Result),
		matchIndex:   -1,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.initCmd())
}

func (m Model) initCmd() tea.Cmd {
	return func() tea.Msg {
		return initDoneMsg{err: m.ctrl.Init(context.Background())}
	}
}

func (m Model) exchangeCmd(ex session.Exchange) tea.Cmd {
	return func() tea.Msg {
		return exchangeMsg{res: m.ctrl.Execute(context.Background(), ex)}
	}
}

func (m Model) historyCmd(req session.HistoryRequest) tea.Cmd {
	return func() tea.Msg {
		return historyMsg{res: m.ctrl.FetchHistory(context.Background(), req)}
	}
}

func (m Model) refreshCmd() tea.Cmd {
	return tea.Batch(
		func() tea.Msg {
			return conversationsMsg{err: m.ctrl.RefreshConversations(context.Background())}
		},
		func() tea.Msg {
			return documentsMsg{err: m.ctrl.RefreshDocuments(context.Background())}
		},
	)
}

func (m Model) createCmd() tea.Cmd {
	return func() tea.Msg {
		conv, err := m.ctrl.CreateConversation(context.Background())
		return createdMsg{conv: conv, err: err}
	}
}

func (m Model) deleteCmd(id chat.ID) tea.Cmd {
	return func() tea.Msg {
		return deletedMsg{id: id, err: m.ctrl.DeleteDocument(context.Background(), id)}
	}
}

func (m Model) saveSettingsCmd(p prefs.Preferences) tea.Cmd {
	return func() tea.Msg {
		return settingsSavedMsg{err: m.ctrl.SaveSettings(context.Background(), p)}
	}
}

func (m Model) exportCmd() tea.Cmd {
	if m.exporter == nil || len(m.state.Messages) == 0 {
		return nil
	}
	conv := chat.Conversation{Messages: m.state.Messages}
	if m.state.Selected != nil {
		conv.ConversationSummary = *m.state.Selected
	} else {
		conv.ID = m.state.ConversationID
	}
	return func() tea.Msg {
		path, err := m.exporter.Export(conv)
		return exportMsg{path: path, err: err}
	}
}

func (m Model) copyCmd() tea.Cmd {
	text, ok := lastReply(m.state.Messages)
	if !ok {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return copyMsg{err: m.copier.Copy(ctx, text)}
	}
}

// lastReply is the newest successful assistant answer.
func lastReply(msgs []chat.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if !msgs[i].IsUser() && !msgs[i].IsError {
			return msgs[i].Text, true
		}
	}
	return "", false
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		cmds = append(cmds, m.renderTranscript(true))

	case initDoneMsg:
		m.initializing = false
		m.sync()
		if msg.err != nil {
			m.err = msg.err
			m.status = "Backend unavailable; lists are empty (R to refresh)"
		} else {
			m.status = fmt.Sprintf("%d conversations, %d documents", len(m.state.Conversations), len(m.state.Documents))
		}
		cmds = append(cmds, m.renderTranscript(true))

	case exchangeMsg:
		if err := m.ctrl.Apply(msg.res); session.IsStale(err) {
			break
		}
		m.sync()
		if msg.res.Err != nil {
			m.err = msg.res.Err
			m.status = "Request failed; press r to retry"
		} else {
			m.err = nil
			m.status = ""
		}
		cmds = append(cmds, m.renderTranscript(false))

	case historyMsg:
		if err := m.ctrl.ApplyHistory(msg.res); session.IsStale(err) {
			break
		}
		m.sync()
		if msg.res.Err != nil {
			m.err = msg.res.Err
			m.status = "Could not load conversation history"
		}
		cmds = append(cmds, m.renderTranscript(false))

	case conversationsMsg:
		m.sync()
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not list conversations"
		}

	case documentsMsg:
		m.sync()
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not list documents"
		}

	case createdMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Could not create conversation"
			break
		}
		m.sync()
		if m.state.ConversationID != msg.conv.ID {
			m.status = "Created conversation " + msg.conv.ID.String()
			break
		}
		m.dropRenderCache()
		m.status = "Started conversation " + msg.conv.ID.String()
		cmds = append(cmds, m.renderTranscript(false))

	case deletedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Delete failed: " + msg.err.Error()
			break
		}
		m.sync()
		m.status = "Deleted document " + msg.id.String()

	case settingsSavedMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Settings not saved: " + msg.err.Error()
			break
		}
		m.settingsMode = false
		m.sync()
		m.status = "Settings saved; they apply to your next message"
		cmds = append(cmds, m.renderTranscript(true))

	case exportMsg:
		if msg.err != nil {
			m.err = msg.err
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.status = "Exported: " + msg.path
		}

	case copyMsg:
		if msg.err != nil {
			m.err = msg.err
			if errors.Is(msg.err, clipboard.ErrToolNotFound) {
				m.status = "Could not copy: clipboard tool not found"
			} else {
				m.status = "Could not copy: " + msg.err.Error()
			}
		} else {
			m.status = "Copied reply to clipboard"
		}

	case renderMsg:
		if msg.nonce != m.renderNonce {
			break
		}
		m.rendering = false
		m.rendered[msg.cacheKey] = msg.rendered
		if !m.settingsMode {
			m.setViewportFromRendered(msg.cacheKey, msg.rendered, true)
		}

	case tea.KeyMsg:
		next, cmd, handled := m.handleKey(msg)
		if handled {
			return next, cmd
		}
		m = next
		cmds = append(cmds, cmd)
	}

	if m.initializing || m.state.Loading {
		var spin tea.Cmd
		m.spinner, spin = m.spinner.Update(msg)
		cmds = append(cmds, spin)
	}

	return m, tea.Batch(cmds...)
}

// handleKey returns handled=true when the key was fully consumed and the
// spinner should not see it.
func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit, true
	}
	if m.searchMode {
		return m.handleSearchKey(msg)
	}
	if m.settingsMode {
		next, cmd := m.handleSettingsKey(msg)
		return next, cmd, true
	}
	if m.focus == focusComposer {
		return m.handleComposerKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m, tea.Quit, true
	case key.Matches(msg, m.keys.Search):
		m.searchMode = true
		m.search.SetValue(m.searchQuery)
		m.search.CursorEnd()
		m.search.Focus()
		return m, nil, true
	case key.Matches(msg, m.keys.Compose):
		m.focusComposer()
		return m, textinput.Blink, true
	case key.Matches(msg, m.keys.Tab):
		m.cycleFocus()
		if m.focus == focusComposer {
			return m, textinput.Blink, true
		}
		return m, nil, true
	case key.Matches(msg, m.keys.FocusLeft):
		m.focus = focusList
		return m, nil, true
	case key.Matches(msg, m.keys.FocusRight):
		m.focus = focusTranscript
		return m, nil, true
	case key.Matches(msg, m.keys.PageUp):
		m.viewport.HalfViewUp()
		return m, nil, true
	case key.Matches(msg, m.keys.PageDown):
		m.viewport.HalfViewDown()
		return m, nil, true
	case key.Matches(msg, m.keys.PrevMatch):
		m.jumpToMatch(-1)
		return m, nil, true
	case key.Matches(msg, m.keys.NextMatch):
		m.jumpToMatch(1)
		return m, nil, true
	case key.Matches(msg, m.keys.Documents):
		if m.left == paneDocuments {
			m.left = paneConversations
		} else {
			m.left = paneDocuments
		}
		m.focus = focusList
		return m, nil, true
	case key.Matches(msg, m.keys.NewChat):
		m.ctrl.NewConversation()
		m.dropRenderCache()
		m.sync()
		m.status = "New conversation"
		return m, m.renderTranscript(false), true
	case key.Matches(msg, m.keys.Create):
		m.status = "Creating conversation..."
		return m, m.createCmd(), true
	case key.Matches(msg, m.keys.Retry):
		return m, m.retry(), true
	case key.Matches(msg, m.keys.Refresh):
		m.status = "Refreshing..."
		return m, m.refreshCmd(), true
	case key.Matches(msg, m.keys.Settings):
		m.settingsMode = true
		m.settingsDraft = m.ctrl.Preferences()
		m.settingsField = 0
		m.viewport.SetContent(m.settingsView())
		return m, nil, true
	case key.Matches(msg, m.keys.Export):
		return m, m.exportCmd(), true
	case key.Matches(msg, m.keys.Copy):
		cmd := m.copyCmd()
		if cmd == nil {
			m.status = "No reply to copy"
		}
		return m, cmd, true
	case key.Matches(msg, m.keys.QuickPrompt):
		if len(m.state.Messages) == 0 {
			if i := int(msg.String()[0] - '1'); i >= 0 && i < len(quickPrompts) {
				m.composer.SetValue(quickPrompts[i])
				m.focusComposer()
				return m, textinput.Blink, true
			}
		}
	}

	if m.focus == focusList {
		if m.left == paneDocuments {
			return m.handleDocumentKey(msg)
		}
		if key.Matches(msg, m.keys.Open) {
			return m, m.openSelected(), true
		}
		var cmd tea.Cmd
		m.convList, cmd = m.convList.Update(msg)
		return m, cmd, false
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		m.viewport.LineUp(1)
	case key.Matches(msg, m.keys.Down):
		m.viewport.LineDown(1)
	}
	return m, nil, false
}

func (m Model) handleSearchKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "esc":
		m.searchMode = false
		m.searchQuery = ""
		m.search.SetValue("")
		m.search.Blur()
		m.applyConversations()
		m.refreshViewportFromCache()
		return m, nil, true
	case "enter":
		m.searchMode = false
		m.search.Blur()
		m.searchQuery = strings.TrimSpace(m.search.Value())
		m.applyConversations()
		m.refreshViewportFromCache()
		return m, nil, true
	}
	before := strings.TrimSpace(m.search.Value())
	var cmd tea.Cmd
	m.search, cmd = m.search.Update(msg)
	if after := strings.TrimSpace(m.search.Value()); after != before {
		m.searchQuery = after
		m.applyConversations()
		m.refreshViewportFromCache()
	}
	return m, cmd, true
}

func (m Model) handleComposerKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	switch msg.String() {
	case "enter":
		return m, m.submit(m.composer.Value()), true
	case "esc":
		m.composer.Blur()
		m.focus = focusTranscript
		return m, nil, true
	case "tab":
		m.cycleFocus()
		return m, nil, true
	}
	var cmd tea.Cmd
	m.composer, cmd = m.composer.Update(msg)
	return m, cmd, true
}

func (m Model) handleDocumentKey(msg tea.KeyMsg) (Model, tea.Cmd, bool) {
	item, ok := m.docList.SelectedItem().(documentItem)
	switch {
	case key.Matches(msg, m.keys.ToggleDoc):
		if ok {
			m.ctrl.ToggleDocument(item.d.ID)
			m.sync()
		}
		return m, nil, true
	case key.Matches(msg, m.keys.ClearDocs):
		m.ctrl.ClearDocuments()
		m.sync()
		m.status = "Cleared document selection"
		return m, nil, true
	case key.Matches(msg, m.keys.DeleteDoc):
		if !ok {
			return m, nil, true
		}
		m.status = "Deleting " + item.d.DisplayName() + "..."
		return m, m.deleteCmd(item.d.ID), true
	}
	var cmd tea.Cmd
	m.docList, cmd = m.docList.Update(msg)
	return m, cmd, false
}

func (m *Model) submit(text string) tea.Cmd {
	ex, err := m.ctrl.Submit(text)
	if err != nil {
		m.status = inputError(err)
		return nil
	}
	m.composer.Reset()
	m.err = nil
	m.status = "Waiting for answer..."
	m.sync()
	return tea.Batch(m.exchangeCmd(ex), m.renderTranscript(false), m.spinner.Tick)
}

func (m *Model) retry() tea.Cmd {
	ex, err := m.ctrl.Retry()
	if err != nil {
		m.status = inputError(err)
		return nil
	}
	m.err = nil
	m.status = "Retrying..."
	m.sync()
	return tea.Batch(m.exchangeCmd(ex), m.renderTranscript(false), m.spinner.Tick)
}

func (m *Model) openSelected() tea.Cmd {
	item, ok := m.convList.SelectedItem().(conversationItem)
	if !ok {
		return nil
	}
	req := m.ctrl.SelectConversation(item.s.ID)
	m.dropRenderCache()
	m.err = nil
	m.status = "Loading " + item.s.Label() + "..."
	m.sync()
	m.focus = focusTranscript
	return tea.Batch(m.historyCmd(req), m.renderTranscript(false), m.spinner.Tick)
}

// dropRenderCache forgets rendered transcripts when the conversation changes.
func (m *Model) dropRenderCache() {
	m.rendered = make(map[string]string)
	m.highlighted = make(map[string]highlight.Result)
}

func inputError(err error) string {
	switch {
	case errors.Is(err, session.ErrEmptyMessage):
		return "Type a message first"
	case errors.Is(err, session.ErrBusy):
		return "Still waiting for the previous answer"
	case errors.Is(err, session.ErrNothingToRetry):
		return "Nothing to retry"
	default:
		return err.Error()
	}
}

func (m *Model) focusComposer() {
	m.focus = focusComposer
	m.composer.Focus()
}

func (m *Model) cycleFocus() {
	switch m.focus {
	case focusList:
		m.focus = focusTranscript
	case focusTranscript:
		m.focusComposer()
		return
	default:
		m.focus = focusList
	}
	m.composer.Blur()
}

// sync copies the controller's state into the model and rebuilds the lists.
func (m *Model) sync() {
	m.state = m.ctrl.View()
	m.applyConversations()
	m.applyDocuments()
}

func (m *Model) applyConversations() {
	prev := chat.ID("")
	if item, ok := m.convList.SelectedItem().(conversationItem); ok {
		prev = item.s.ID
	}
	items := make([]list.Item, 0, len(m.state.Conversations))
	selectIdx := -1
	for _, s := range m.state.Conversations {
		if !highlight.Matches(s.Label()+" "+s.LastMessagePreview, m.searchQuery) {
			continue
		}
		if s.ID == prev {
			selectIdx = len(items)
		}
		items = append(items, conversationItem{s: s, active: s.ID == m.state.ConversationID})
	}
	m.convList.SetItems(items)
	if selectIdx < 0 {
		selectIdx = 0
	}
	if len(items) > 0 {
		m.convList.Select(selectIdx)
	}
}

func (m *Model) applyDocuments() {
	idx := m.docList.Index()
	items := make([]list.Item, 0, len(m.state.Documents))
	for _, d := range m.state.Documents {
		items = append(items, documentItem{d: d, selected: m.state.DocumentSelected(d.ID)})
	}
	m.docList.SetItems(items)
	if idx >= len(items) {
		idx = len(items) - 1
	}
	if idx >= 0 {
		m.docList.Select(idx)
	}
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
