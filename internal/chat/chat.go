// Package chat orchestrates conversations: it serializes turns per session,
// persists both sides of every exchange, and exposes blocking and streaming
// sends over the retrieval resolver.
//
// Per-session mutual exclusion means a session is either idle or generating,
// never two generations at once. Concurrent sends on one session queue by
// default; WithRejectWhenBusy turns the second caller away with
// session.ErrBusy instead.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/averos/grounded/internal/provider"
	"github.com/averos/grounded/internal/resolver"
	"github.com/averos/grounded/internal/session"
	"github.com/averos/grounded/internal/splitter"
)

// DefaultHistoryBudget caps how many history tokens accompany a query.
const DefaultHistoryBudget = 1000

// queryResolver is the subset of resolver.Resolver the orchestrator needs.
type queryResolver interface {
	Resolve(ctx context.Context, query string, history []session.Message) (resolver.Resolution, error)
	ResolveStream(ctx context.Context, query string, history []session.Message,
		fn provider.StreamFunc) (resolver.Resolution, error)
}

// Reply is the outcome of a blocking send.
type Reply struct {
	Session  session.Session
	Answer   session.Message
	Grounded bool
	Sources  []uuid.UUID
}

// Orchestrator coordinates sessions, persistence and resolution.
//
// Orchestrator is safe for concurrent use by multiple goroutines.
type Orchestrator struct {
	store          session.Store
	resolver       queryResolver
	historyBudget  int
	rejectWhenBusy bool
	logger         *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sessionLock
}

// sessionLock serializes turns on one session. refs counts waiters plus the
// holder so idle entries can be dropped from the map.
type sessionLock struct {
	ch   chan struct{} // buffered(1): full = unlocked
	refs int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRejectWhenBusy makes sends on a generating session fail with
// session.ErrBusy instead of queueing.
func WithRejectWhenBusy() Option {
	return func(o *Orchestrator) { o.rejectWhenBusy = true }
}

// WithHistoryBudget sets the token budget for conversation history included
// in prompts.
func WithHistoryBudget(tokens int) Option {
	return func(o *Orchestrator) { o.historyBudget = tokens }
}

// New creates an Orchestrator. logger may be nil.
func New(store session.Store, res queryResolver, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if store == nil || res == nil {
		return nil, fmt.Errorf("store and resolver are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:         store,
		resolver:      res,
		historyBudget: DefaultHistoryBudget,
		logger:        logger,
		locks:         make(map[uuid.UUID]*sessionLock),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// acquire takes the session's turn lock, honoring ctx cancellation and the
// busy policy. The returned release must be called exactly once.
func (o *Orchestrator) acquire(ctx context.Context, id uuid.UUID) (release func(), err error) {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &sessionLock{ch: make(chan struct{}, 1)}
		l.ch <- struct{}{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	drop := func() {
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, id)
		}
		o.mu.Unlock()
	}

	if o.rejectWhenBusy {
		select {
		case <-l.ch:
		default:
			drop()
			return nil, fmt.Errorf("session %s: %w", id, session.ErrBusy)
		}
	} else {
		select {
		case <-l.ch:
		case <-ctx.Done():
			drop()
			return nil, ctx.Err()
		}
	}

	return func() {
		l.ch <- struct{}{}
		drop()
	}, nil
}

// Send runs one blocking turn: persist the user message, resolve, persist
// the answer. The user message stays persisted even when resolution fails.
func (o *Orchestrator) Send(ctx context.Context, sessionID uuid.UUID, ownerID, content string) (Reply, error) {
	release, err := o.acquire(ctx, sessionID)
	if err != nil {
		return Reply{}, err
	}
	defer release()

	sess, history, err := o.beginTurn(ctx, sessionID, ownerID, content)
	if err != nil {
		return Reply{}, err
	}

	res, err := o.resolver.Resolve(ctx, content, history)
	if err != nil {
		return Reply{}, err
	}

	answer, err := o.persistAnswer(ctx, sessionID, res.Answer, false)
	if err != nil {
		return Reply{}, err
	}

	return Reply{
		Session:  sess,
		Answer:   answer,
		Grounded: res.Grounded,
		Sources:  res.Sources,
	}, nil
}

// Stream runs one turn, delivering events on the returned channel. The
// channel is always closed, after EventComplete or EventError. When reject
// mode is on and the session is busy, Stream fails synchronously.
//
// The caller must drain the channel or cancel ctx; cancellation is the only
// abandonment signal, and a consumer that stops reading without cancelling
// blocks the turn once the event buffer fills.
//
// Cancelling ctx (a disconnected client) aborts generation; whatever was
// already generated is persisted with Truncated set.
func (o *Orchestrator) Stream(ctx context.Context, sessionID uuid.UUID, ownerID, content string) (<-chan Event, error) {
	var release func()
	if o.rejectWhenBusy {
		var err error
		release, err = o.acquire(ctx, sessionID)
		if err != nil {
			return nil, err
		}
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)

		if release == nil {
			var err error
			release, err = o.acquire(ctx, sessionID)
			if err != nil {
				o.emit(ctx, events, Event{Type: EventError, SessionID: sessionID, Content: err.Error()})
				return
			}
		}
		defer release()

		sess, history, err := o.beginTurn(ctx, sessionID, ownerID, content)
		if err != nil {
			o.emit(ctx, events, Event{Type: EventError, SessionID: sessionID, Content: err.Error()})
			return
		}
		o.emit(ctx, events, Event{
			Type:      EventSessionInfo,
			SessionID: sess.ID,
			Title:     sess.Title,
		})

		res, err := o.resolver.ResolveStream(ctx, content, history,
			func(cbCtx context.Context, chunk string) error {
				if cbCtx.Err() != nil {
					return cbCtx.Err()
				}
				o.emit(ctx, events, Event{Type: EventContent, SessionID: sess.ID, Content: chunk})
				return nil
			})
		if err != nil {
			// Keep whatever reached the client before the failure.
			if res.Answer != "" {
				if _, perr := o.persistAnswer(context.WithoutCancel(ctx), sess.ID, res.Answer, true); perr != nil {
					o.logger.Error("persisting partial answer", "session_id", sess.ID, "error", perr)
				}
			}
			o.emit(ctx, events, Event{Type: EventError, SessionID: sess.ID, Content: err.Error()})
			return
		}

		if _, err := o.persistAnswer(ctx, sess.ID, res.Answer, false); err != nil {
			o.emit(ctx, events, Event{Type: EventError, SessionID: sess.ID, Content: err.Error()})
			return
		}
		o.emit(ctx, events, Event{
			Type:      EventComplete,
			SessionID: sess.ID,
			Grounded:  res.Grounded,
			Sources:   res.Sources,
		})
	}()

	return events, nil
}

// beginTurn resolves the session, persists the user message, and returns the
// history that precedes it.
func (o *Orchestrator) beginTurn(ctx context.Context, sessionID uuid.UUID, ownerID, content string) (session.Session, []session.Message, error) {
	sess, created, err := o.store.GetOrCreate(ctx, sessionID, ownerID, session.TitleFromMessage(content))
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("resolving session: %w", err)
	}
	if created {
		o.logger.Info("created session", "session_id", sess.ID, "owner_id", ownerID)
	}

	prior, err := o.store.Messages(ctx, sess.ID)
	if err != nil {
		return session.Session{}, nil, fmt.Errorf("loading history: %w", err)
	}

	if _, err := o.store.AppendMessages(ctx, sess.ID, []session.Message{{
		Role:       session.RoleUser,
		Content:    content,
		TokenCount: splitter.CountTokens(content),
	}}); err != nil {
		return session.Session{}, nil, fmt.Errorf("persisting user message: %w", err)
	}

	return sess, capHistory(prior, o.historyBudget), nil
}

func (o *Orchestrator) persistAnswer(ctx context.Context, sessionID uuid.UUID, answer string, truncated bool) (session.Message, error) {
	stored, err := o.store.AppendMessages(ctx, sessionID, []session.Message{{
		Role:       session.RoleAssistant,
		Content:    answer,
		TokenCount: splitter.CountTokens(answer),
		Truncated:  truncated,
	}})
	if err != nil {
		return session.Message{}, fmt.Errorf("persisting answer: %w", err)
	}
	return stored[0], nil
}

// emit delivers an event unless the consumer is gone. ctx cancellation is
// the consumer's abandonment signal; see the Stream contract.
func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, ev Event) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

// capHistory keeps the most recent messages whose token counts fit budget,
// preserving chronological order.
func capHistory(msgs []session.Message, budget int) []session.Message {
	if budget <= 0 {
		return nil
	}
	start := len(msgs)
	remaining := budget
	for start > 0 {
		tokens := msgs[start-1].TokenCount
		if tokens > remaining {
			break
		}
		remaining -= tokens
		start--
	}
	if start == len(msgs) {
		return nil
	}
	return msgs[start:]
}

// Sessions lists ownerID's sessions, newest activity first.
func (o *Orchestrator) Sessions(ctx context.Context, ownerID string) ([]session.Session, error) {
	return o.store.List(ctx, ownerID)
}

// History returns a session's messages in order.
func (o *Orchestrator) History(ctx context.Context, sessionID uuid.UUID) ([]session.Message, error) {
	msgs, err := o.store.Messages(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return nil, err
	}
	return msgs, err
}

// CloseSession marks a session closed.
func (o *Orchestrator) CloseSession(ctx context.Context, sessionID uuid.UUID) error {
	return o.store.Close(ctx, sessionID)
}

// DeleteSession removes a session and its messages.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	return o.store.Delete(ctx, sessionID)
}
