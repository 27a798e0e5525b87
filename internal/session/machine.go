// Package session owns the state of one chat session: the active
// conversation, its messages, the exchange in flight and the retry
// affordance after a failure.
//
// Exchanges are two-phase. Submit appends the user's message locally and
// returns an Exchange describing the network call to make; the caller runs
// it and hands the outcome back to Resolve, which either appends the reply
// or a synthetic apology. Every exchange and history fetch is stamped with
// the conversation epoch at issue time. Switching or clearing the
// conversation bumps the epoch, so late results for an abandoned
// conversation are rejected with ErrStaleResponse instead of being applied.
package session

import (
	"errors"
	"strings"
	"time"

	"docchat/internal/chat"
	"docchat/internal/prefs"
)

var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrBusy           = errors.New("an exchange is already in flight")
	ErrNothingToRetry = errors.New("nothing to retry")
	ErrStaleResponse  = errors.New("stale response discarded")
)

type State int

const (
	Idle State = iota
	AwaitingResponse
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingResponse:
		return "awaiting-response"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Exchange is one pending send. The selection and preferences are copied at
// submit time so later changes never affect a message already sent.
type Exchange struct {
	Token          uint64
	Epoch          uint64
	Text           string
	ConversationID chat.ID
	DocumentIDs    []chat.ID
	Preferences    prefs.Preferences
	UserMessage    chat.Message
}

// Result is the outcome of running an Exchange against the backend.
type Result struct {
	Exchange       Exchange
	Reply          chat.Message
	ConversationID chat.ID
	Err            error
}

type HistoryRequest struct {
	Epoch          uint64
	ConversationID chat.ID
}

// Machine is not safe for concurrent use; Controller serialises access.
type Machine struct {
	state          State
	epoch          uint64
	lastToken      uint64
	pending        uint64
	loadingHistory bool

	conversationID chat.ID
	messages       []chat.Message
	retryPayload   string

	now   func() time.Time
	newID func() chat.ID
}

func NewMachine(now func() time.Time, newID func() chat.ID) *Machine {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = chat.NewID
	}
	return &Machine{now: now, newID: newID}
}

func (m *Machine) State() State            { return m.state }
func (m *Machine) ConversationID() chat.ID { return m.conversationID }
func (m *Machine) RetryPayload() string    { return m.retryPayload }
func (m *Machine) CanRetry() bool          { return m.state == Failed && m.retryPayload != "" }
func (m *Machine) Epoch() uint64           { return m.epoch }

// Loading is true while a send or a history fetch is outstanding.
func (m *Machine) Loading() bool {
	return m.state == AwaitingResponse || m.loadingHistory
}

func (m *Machine) Messages() []chat.Message {
	return append([]chat.Message(nil), m.messages...)
}

// Submit appends the user's message and moves to AwaitingResponse. Submitting
// from Failed abandons the previous retry payload.
func (m *Machine) Submit(text string, docs []chat.ID, p prefs.Preferences) (Exchange, error) {
	if strings.TrimSpace(text) == "" {
		return Exchange{}, ErrEmptyMessage
	}
	if m.state == AwaitingResponse || m.loadingHistory {
		return Exchange{}, ErrBusy
	}

	msg := chat.Message{
		ID:        m.newID(),
		Text:      text,
		Sender:    chat.SenderUser,
		Timestamp: m.now(),
	}
	m.messages = append(m.messages, msg)
	m.retryPayload = ""
	m.lastToken++
	m.pending = m.lastToken
	m.state = AwaitingResponse

	return Exchange{
		Token:          m.pending,
		Epoch:          m.epoch,
		Text:           text,
		ConversationID: m.conversationID,
		DocumentIDs:    append([]chat.ID(nil), docs...),
		Preferences:    p,
		UserMessage:    msg,
	}, nil
}

// Retry re-submits the failed text. The payload is consumed whatever the
// outcome of the new exchange; a second failure sets a fresh one.
func (m *Machine) Retry(docs []chat.ID, p prefs.Preferences) (Exchange, error) {
	if !m.CanRetry() {
		return Exchange{}, ErrNothingToRetry
	}
	text := m.retryPayload
	m.retryPayload = ""
	return m.Submit(text, docs, p)
}

func (m *Machine) current(ex Exchange) bool {
	return m.state == AwaitingResponse && ex.Epoch == m.epoch && ex.Token == m.pending
}

// Resolve applies a finished exchange. Nothing is mutated when the exchange
// is no longer the pending one for the active conversation.
func (m *Machine) Resolve(res Result) error {
	if !m.current(res.Exchange) {
		return ErrStaleResponse
	}
	m.pending = 0

	if res.Err != nil {
		m.messages = append(m.messages, chat.Message{
			ID:        m.newID(),
			Text:      chat.ApologyText,
			Sender:    chat.SenderAssistant,
			Timestamp: m.now(),
			IsError:   true,
		})
		m.retryPayload = res.Exchange.Text
		m.state = Failed
		return nil
	}

	reply := res.Reply
	reply.Sender = chat.SenderAssistant
	if reply.ID.IsZero() {
		reply.ID = m.newID()
	}
	if reply.Timestamp.IsZero() {
		reply.Timestamp = m.now()
	}
	m.messages = append(m.messages, reply)
	if m.conversationID.IsZero() {
		m.conversationID = res.ConversationID
	}
	m.state = Idle
	return nil
}

// BeginSelect switches to id and discards the current transcript. The
// returned request must be handed back to ApplyHistory with the fetched
// messages.
func (m *Machine) BeginSelect(id chat.ID) HistoryRequest {
	m.reset(id)
	m.loadingHistory = true
	return HistoryRequest{Epoch: m.epoch, ConversationID: id}
}

// ApplyHistory replaces the transcript wholesale. A failed fetch leaves it
// empty.
func (m *Machine) ApplyHistory(req HistoryRequest, msgs []chat.Message, err error) error {
	if req.Epoch != m.epoch || req.ConversationID != m.conversationID {
		return ErrStaleResponse
	}
	m.loadingHistory = false
	if err != nil {
		m.messages = nil
		return nil
	}
	m.messages = append([]chat.Message(nil), msgs...)
	return nil
}

// Mark records the conversation epoch and the last exchange issued.
type Mark struct {
	epoch uint64
	token uint64
}

func (m *Machine) Mark() Mark { return Mark{epoch: m.epoch, token: m.lastToken} }

// Adopt switches to a freshly created, empty conversation. It fails with
// ErrStaleResponse if the conversation changed or a message was sent since
// mark was taken.
func (m *Machine) Adopt(mark Mark, id chat.ID) error {
	if mark.epoch != m.epoch || mark.token != m.lastToken {
		return ErrStaleResponse
	}
	m.reset(id)
	return nil
}

// NewConversation clears the transcript; the next Submit starts a
// conversation on the backend.
func (m *Machine) NewConversation() {
	m.reset("")
}

func (m *Machine) reset(id chat.ID) {
	m.epoch++
	m.state = Idle
	m.pending = 0
	m.loadingHistory = false
	m.conversationID = id
	m.messages = nil
	m.retryPayload = ""
}
