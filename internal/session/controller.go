package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docchat/internal/chat"
	"docchat/internal/gateway"
	"docchat/internal/prefs"
	"docchat/internal/selection"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Gateway is the slice of the backend client the controller needs.
type Gateway interface {
	ListConversations(ctx context.Context) ([]chat.ConversationSummary, error)
	CreateConversation(ctx context.Context) (chat.Conversation, error)
	History(ctx context.Context, id chat.ID) ([]chat.Message, error)
	SendMessage(ctx context.Context, req gateway.SendRequest) (gateway.Reply, error)
	ListDocuments(ctx context.Context) ([]chat.Document, error)
	UploadDocuments(ctx context.Context, paths []string, meta gateway.UploadMetadata) ([]gateway.UploadResult, error)
	DeleteDocument(ctx context.Context, id chat.ID) error
}

var _ Gateway = (*gateway.Client)(nil)

type HistoryResult struct {
	Request  HistoryRequest
	Messages []chat.Message
	Err      error
}

// ViewState is a snapshot for rendering. It shares nothing with the
// controller.
type ViewState struct {
	Messages          []chat.Message
	Loading           bool
	Error             bool
	CanRetry          bool
	RetryPayload      string
	Conversations     []chat.ConversationSummary
	Selected          *chat.ConversationSummary
	ConversationID    chat.ID
	Documents         []chat.Document
	SelectedDocuments []chat.ID
	Preferences       prefs.Preferences
	// Epoch changes whenever the active conversation is switched or cleared.
	Epoch uint64
}

func (v ViewState) DocumentSelected(id chat.ID) bool {
	for _, s := range v.SelectedDocuments {
		if s == id {
			return true
		}
	}
	return false
}

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithIDs(next func() chat.ID) Option {
	return func(c *Controller) { c.newID = next }
}

func WithCatalog(cat prefs.Catalog) Option {
	return func(c *Controller) { c.catalog = cat }
}

// Controller bridges user intents to the gateway, the preference store, the
// document selection and the session machine. Network calls are made
// without holding the lock.
type Controller struct {
	gw      Gateway
	store   prefs.Store
	logger  *zap.Logger
	now     func() time.Time
	newID   func() chat.ID
	catalog prefs.Catalog

	// saveMu serialises SaveSettings so the store and prefs agree.
	saveMu sync.Mutex

	mu            sync.Mutex
	machine       *Machine
	docs          *selection.Set
	prefs         prefs.Preferences
	prefsGen      uint64
	conversations []chat.ConversationSummary
	documents     []chat.Document
}

func NewController(gw Gateway, store prefs.Store, opts ...Option) *Controller {
	c := &Controller{
		gw:      gw,
		store:   store,
		logger:  zap.NewNop(),
		now:     time.Now,
		newID:   chat.NewID,
		catalog: prefs.DefaultCatalog,
		docs:    selection.New(),
		prefs:   prefs.Defaults(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.machine = NewMachine(c.now, c.newID)
	return c
}

// Init loads preferences, then the conversation and document lists in
// parallel. A failed listing leaves that list empty; the first such error is
// returned for reporting only. Settings saved and conversations started
// while Init is running are kept.
func (c *Controller) Init(ctx context.Context) error {
	c.mu.Lock()
	gen := c.prefsGen
	c.mu.Unlock()
	p := c.store.Load(ctx)

	var (
		convs []chat.ConversationSummary
		docs  []chat.Document
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		convs, err = c.gw.ListConversations(ctx)
		if err != nil {
			c.logger.Warn("list conversations failed", zap.Error(err))
			convs = nil
		}
		return err
	})
	g.Go(func() error {
		all, err := c.gw.ListDocuments(ctx)
		if err != nil {
			c.logger.Warn("list documents failed", zap.Error(err))
			return err
		}
		docs = chat.IndexedOnly(all)
		return nil
	})
	err := g.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefsGen == gen {
		c.prefs = p
	}
	c.conversations = mergeConversations(convs, c.conversations)
	c.documents = docs
	c.docs.Retain(documentIDs(docs))
	c.logger.Info("session initialised",
		zap.Int("conversations", len(c.conversations)),
		zap.Int("documents", len(docs)),
		zap.String("model", string(c.prefs.Model)))
	return err
}

// mergeConversations returns fetched with any local entries it lacks in
// front, in their local order.
func mergeConversations(fetched, local []chat.ConversationSummary) []chat.ConversationSummary {
	seen := make(map[chat.ID]bool, len(fetched))
	for _, s := range fetched {
		seen[s.ID] = true
	}
	var out []chat.ConversationSummary
	for _, s := range local {
		if !seen[s.ID] {
			out = append(out, s)
		}
	}
	return append(out, fetched...)
}

// Submit starts an exchange with the current selection and preferences.
func (c *Controller) Submit(text string) (Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Submit(text, c.docs.IDs(), c.prefs)
}

func (c *Controller) Retry() (Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.Retry(c.docs.IDs(), c.prefs)
}

// Execute performs the network half of an exchange. It touches no session
// state and may run on any goroutine.
func (c *Controller) Execute(ctx context.Context, ex Exchange) Result {
	reply, err := c.gw.SendMessage(ctx, gateway.SendRequest{
		Text:           ex.Text,
		DocumentIDs:    ex.DocumentIDs,
		ConversationID: ex.ConversationID,
		Preferences:    ex.Preferences,
	})
	if err != nil {
		return Result{Exchange: ex, Err: err}
	}
	return Result{Exchange: ex, Reply: reply.Message, ConversationID: reply.ConversationID}
}

// Apply folds a Result into the session. It returns ErrStaleResponse when the
// result belongs to an abandoned conversation or exchange.
func (c *Controller) Apply(res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.machine.Resolve(res); err != nil {
		c.logger.Debug("discarding exchange result",
			zap.Uint64("token", res.Exchange.Token),
			zap.String("conversation", res.Exchange.ConversationID.String()))
		return err
	}
	if res.Err != nil {
		c.logger.Warn("exchange failed",
			zap.String("conversation", res.Exchange.ConversationID.String()),
			zap.Error(res.Err))
		return nil
	}
	c.touchConversation(c.machine.ConversationID(), res.Reply.Text)
	return nil
}

// Send runs a whole exchange synchronously and reports the exchange error,
// if any, after it has been applied.
func (c *Controller) Send(ctx context.Context, text string) error {
	ex, err := c.Submit(text)
	if err != nil {
		return err
	}
	return c.finish(ctx, ex)
}

// RetrySync is Send for the retry payload.
func (c *Controller) RetrySync(ctx context.Context) error {
	ex, err := c.Retry()
	if err != nil {
		return err
	}
	return c.finish(ctx, ex)
}

func (c *Controller) finish(ctx context.Context, ex Exchange) error {
	res := c.Execute(ctx, ex)
	if err := c.Apply(res); err != nil {
		return err
	}
	return res.Err
}

func (c *Controller) touchConversation(id chat.ID, reply string) {
	if id.IsZero() {
		return
	}
	preview := chat.Preview(reply)
	for i := range c.conversations {
		if c.conversations[i].ID == id {
			c.conversations[i].LastMessagePreview = preview
			return
		}
	}
	c.conversations = append([]chat.ConversationSummary{{
		ID:                 id,
		CreatedAt:          c.now(),
		LastMessagePreview: preview,
	}}, c.conversations...)
}

// SelectConversation switches to id and returns the history request to
// fetch. The transcript is empty until ApplyHistory.
func (c *Controller) SelectConversation(id chat.ID) HistoryRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.BeginSelect(id)
}

func (c *Controller) FetchHistory(ctx context.Context, req HistoryRequest) HistoryResult {
	msgs, err := c.gw.History(ctx, req.ConversationID)
	return HistoryResult{Request: req, Messages: msgs, Err: err}
}

func (c *Controller) ApplyHistory(res HistoryResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.machine.ApplyHistory(res.Request, res.Messages, res.Err); err != nil {
		c.logger.Debug("discarding history result",
			zap.String("conversation", res.Request.ConversationID.String()))
		return err
	}
	if res.Err != nil {
		c.logger.Warn("load history failed",
			zap.String("conversation", res.Request.ConversationID.String()),
			zap.Error(res.Err))
	}
	return nil
}

// Open selects a conversation and loads its history synchronously. The fetch
// error is returned after the empty transcript has been applied.
func (c *Controller) Open(ctx context.Context, id chat.ID) error {
	res := c.FetchHistory(ctx, c.SelectConversation(id))
	if err := c.ApplyHistory(res); err != nil {
		return err
	}
	return res.Err
}

func (c *Controller) NewConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.machine.NewConversation()
}

// CreateConversation asks the backend for an empty conversation and lists
// it. It becomes active only if the user has not switched conversation or
// sent a message while the request was out; check View().ConversationID.
func (c *Controller) CreateConversation(ctx context.Context) (chat.Conversation, error) {
	c.mu.Lock()
	mark := c.machine.Mark()
	c.mu.Unlock()

	conv, err := c.gw.CreateConversation(ctx)
	if err != nil {
		c.logger.Warn("create conversation failed", zap.Error(err))
		return chat.Conversation{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conversations = mergeConversations(c.conversations, []chat.ConversationSummary{conv.ConversationSummary})
	if err := c.machine.Adopt(mark, conv.ID); err != nil {
		c.logger.Debug("created conversation not adopted",
			zap.String("conversation", conv.ID.String()),
			zap.String("active", c.machine.ConversationID().String()))
	}
	return conv, nil
}

// RefreshConversations reloads the conversation list. On failure the list
// is emptied.
func (c *Controller) RefreshConversations(ctx context.Context) error {
	convs, err := c.gw.ListConversations(ctx)
	if err != nil {
		c.logger.Warn("list conversations failed", zap.Error(err))
		convs = nil
	}
	c.mu.Lock()
	c.conversations = convs
	c.mu.Unlock()
	return err
}

// ToggleDocument flips id in the selection and reports whether it is now
// selected.
func (c *Controller) ToggleDocument(id chat.ID) bool {
	return c.docs.Toggle(id)
}

func (c *Controller) ClearDocuments() {
	c.docs.Clear()
}

// RefreshDocuments reloads the indexed documents and drops selected ids that
// are no longer offered. A failed listing keeps the selection.
func (c *Controller) RefreshDocuments(ctx context.Context) error {
	all, err := c.gw.ListDocuments(ctx)
	if err != nil {
		c.logger.Warn("list documents failed", zap.Error(err))
		c.mu.Lock()
		c.documents = nil
		c.mu.Unlock()
		return err
	}
	docs := chat.IndexedOnly(all)
	c.mu.Lock()
	c.documents = docs
	dropped := c.docs.Retain(documentIDs(docs))
	c.mu.Unlock()
	if len(dropped) > 0 {
		c.logger.Info("dropped unavailable documents from selection", zap.Int("count", len(dropped)))
	}
	return nil
}

// UploadDocuments sends files to the document backend and refreshes the
// list. Per-file outcomes are returned even when the refresh fails.
func (c *Controller) UploadDocuments(ctx context.Context, paths []string, meta gateway.UploadMetadata) ([]gateway.UploadResult, error) {
	results, err := c.gw.UploadDocuments(ctx, paths, meta)
	if err != nil {
		c.logger.Warn("upload documents failed", zap.Strings("paths", paths), zap.Error(err))
		return nil, err
	}
	for _, r := range results {
		if !r.Success {
			c.logger.Warn("document rejected", zap.String("file", r.Filename), zap.String("error", r.Error))
		}
	}
	return results, c.RefreshDocuments(ctx)
}

func (c *Controller) DeleteDocument(ctx context.Context, id chat.ID) error {
	if err := c.gw.DeleteDocument(ctx, id); err != nil {
		c.logger.Warn("delete document failed", zap.String("document", id.String()), zap.Error(err))
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.docs.Remove(id)
	kept := c.documents[:0:0]
	for _, d := range c.documents {
		if d.ID != id {
			kept = append(kept, d)
		}
	}
	c.documents = kept
	return nil
}

func (c *Controller) Preferences() prefs.Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefs
}

func (c *Controller) Catalog() prefs.Catalog {
	return append(prefs.Catalog(nil), c.catalog...)
}

// SaveSettings validates and persists p. The new values apply to later sends
// only; nothing is resent.
func (c *Controller) SaveSettings(ctx context.Context, p prefs.Preferences) error {
	if err := p.Validate(c.catalog); err != nil {
		return err
	}
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	if err := c.store.Save(ctx, p); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	c.mu.Lock()
	c.prefs = p
	c.prefsGen++
	c.mu.Unlock()
	c.logger.Info("settings saved",
		zap.Int("fragments", p.FragmentCount),
		zap.Float64("threshold", p.SimilarityThreshold),
		zap.String("model", string(p.Model)),
		zap.Float64("temperature", p.Temperature))
	return nil
}

func (c *Controller) View() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := ViewState{
		Messages:          c.machine.Messages(),
		Loading:           c.machine.Loading(),
		Error:             c.machine.State() == Failed,
		CanRetry:          c.machine.CanRetry(),
		RetryPayload:      c.machine.RetryPayload(),
		Conversations:     append([]chat.ConversationSummary(nil), c.conversations...),
		ConversationID:    c.machine.ConversationID(),
		Documents:         append([]chat.Document(nil), c.documents...),
		SelectedDocuments: c.docs.IDs(),
		Preferences:       c.prefs,
		Epoch:             c.machine.Epoch(),
	}
	for i := range v.Conversations {
		if v.Conversations[i].ID == v.ConversationID {
			sel := v.Conversations[i]
			v.Selected = &sel
			break
		}
	}
	return v
}

// IsStale reports whether err is a discarded late result.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleResponse)
}

func documentIDs(docs []chat.Document) []chat.ID {
	ids := make([]chat.ID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	return ids
}
