package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/goleak"

	"github.com/averos/grounded/internal/provider"
	"github.com/averos/grounded/internal/resolver"
	"github.com/averos/grounded/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubResolver delegates to function fields so each test scripts exactly the
// behavior it needs.
type stubResolver struct {
	resolve func(ctx context.Context, query string, history []session.Message) (resolver.Resolution, error)
	stream  func(ctx context.Context, query string, history []session.Message, fn provider.StreamFunc) (resolver.Resolution, error)
}

func (s *stubResolver) Resolve(ctx context.Context, query string, history []session.Message) (resolver.Resolution, error) {
	return s.resolve(ctx, query, history)
}

func (s *stubResolver) ResolveStream(ctx context.Context, query string, history []session.Message, fn provider.StreamFunc) (resolver.Resolution, error) {
	return s.stream(ctx, query, history, fn)
}

func answering(answer string, sources ...uuid.UUID) *stubResolver {
	res := resolver.Resolution{Answer: answer, Grounded: true, Sources: sources}
	return &stubResolver{
		resolve: func(context.Context, string, []session.Message) (resolver.Resolution, error) {
			return res, nil
		},
		stream: func(ctx context.Context, _ string, _ []session.Message, fn provider.StreamFunc) (resolver.Resolution, error) {
			if fn != nil {
				if err := fn(ctx, answer); err != nil {
					return resolver.Resolution{}, err
				}
			}
			return res, nil
		},
	}
}

func newOrchestrator(t *testing.T, res queryResolver, opts ...Option) (*Orchestrator, *session.MemoryStore) {
	t.Helper()
	store := session.NewMemoryStore()
	o, err := New(store, res, nil, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return o, store
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(out))
		}
	}
}

func TestSend_PersistsBothSidesInOrder(t *testing.T) {
	ctx := context.Background()
	src := uuid.New()
	o, store := newOrchestrator(t, answering("A goroutine is a lightweight thread.", src))

	id := uuid.New()
	reply, err := o.Send(ctx, id, "alice", "what is a goroutine?")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !reply.Grounded || len(reply.Sources) != 1 || reply.Sources[0] != src {
		t.Errorf("reply = %+v", reply)
	}
	if reply.Session.Title != "what is a goroutine?" {
		t.Errorf("title = %q", reply.Session.Title)
	}

	msgs, err := store.Messages(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Role != session.RoleUser || msgs[1].Role != session.RoleAssistant {
		t.Errorf("roles = %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[0].SequenceNumber != 1 || msgs[1].SequenceNumber != 2 {
		t.Errorf("sequence = %d, %d", msgs[0].SequenceNumber, msgs[1].SequenceNumber)
	}
	if msgs[1].Content != "A goroutine is a lightweight thread." || msgs[1].Truncated {
		t.Errorf("answer = %+v", msgs[1])
	}
}

func TestSend_ResolverFailureKeepsUserMessage(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("generation down")
	res := &stubResolver{
		resolve: func(context.Context, string, []session.Message) (resolver.Resolution, error) {
			return resolver.Resolution{}, boom
		},
	}
	o, store := newOrchestrator(t, res)

	id := uuid.New()
	_, err := o.Send(ctx, id, "alice", "hello")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}

	msgs, err := store.Messages(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Role != session.RoleUser {
		t.Errorf("messages = %+v", msgs)
	}
}

func TestStream_EventSequence(t *testing.T) {
	ctx := context.Background()
	src := uuid.New()
	res := &stubResolver{
		stream: func(ctx context.Context, _ string, _ []session.Message, fn provider.StreamFunc) (resolver.Resolution, error) {
			for _, c := range []string{"A goroutine ", "is a ", "lightweight thread."} {
				if err := fn(ctx, c); err != nil {
					return resolver.Resolution{}, err
				}
			}
			return resolver.Resolution{
				Answer:   "A goroutine is a lightweight thread.",
				Grounded: true,
				Sources:  []uuid.UUID{src},
			}, nil
		},
	}
	o, store := newOrchestrator(t, res)

	id := uuid.New()
	events, err := o.Stream(ctx, id, "alice", "what is a goroutine?")
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)

	if got[0].Type != EventSessionInfo || got[0].SessionID != id {
		t.Fatalf("first event = %+v", got[0])
	}
	var streamed string
	for _, ev := range got[1 : len(got)-1] {
		if ev.Type != EventContent {
			t.Fatalf("middle event = %+v", ev)
		}
		streamed += ev.Content
	}
	last := got[len(got)-1]
	if last.Type != EventComplete || !last.Grounded || len(last.Sources) != 1 {
		t.Fatalf("last event = %+v", last)
	}

	msgs, _ := store.Messages(ctx, id)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if streamed != msgs[1].Content {
		t.Errorf("streamed %q, persisted %q", streamed, msgs[1].Content)
	}
}

func TestStream_MidFailurePersistsTruncatedPartial(t *testing.T) {
	ctx := context.Background()
	res := &stubResolver{
		stream: func(ctx context.Context, _ string, _ []session.Message, fn provider.StreamFunc) (resolver.Resolution, error) {
			if err := fn(ctx, "Hello, "); err != nil {
				return resolver.Resolution{}, err
			}
			return resolver.Resolution{Answer: "Hello, ", Grounded: true},
				errors.New("connection reset mid-stream")
		},
	}
	o, store := newOrchestrator(t, res)

	id := uuid.New()
	events, err := o.Stream(ctx, id, "alice", "hi")
	if err != nil {
		t.Fatal(err)
	}
	got := collect(t, events)

	last := got[len(got)-1]
	if last.Type != EventError {
		t.Fatalf("last event = %+v, want error", last)
	}

	msgs, _ := store.Messages(ctx, id)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	answer := msgs[1]
	if answer.Content != "Hello, " {
		t.Errorf("partial = %q, want %q", answer.Content, "Hello, ")
	}
	if !answer.Truncated {
		t.Error("partial answer not marked truncated")
	}
}

func TestStream_ClientDisconnectPersistsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	firstChunk := make(chan struct{})
	res := &stubResolver{
		stream: func(ctx context.Context, _ string, _ []session.Message, fn provider.StreamFunc) (resolver.Resolution, error) {
			if err := fn(ctx, "Hello, "); err != nil {
				return resolver.Resolution{}, err
			}
			close(firstChunk)
			<-ctx.Done()
			if err := fn(ctx, "world"); err != nil {
				return resolver.Resolution{Answer: "Hello, "}, err
			}
			return resolver.Resolution{Answer: "Hello, world"}, nil
		},
	}
	o, store := newOrchestrator(t, res)

	id := uuid.New()
	events, err := o.Stream(ctx, id, "alice", "hi")
	if err != nil {
		t.Fatal(err)
	}

	<-firstChunk
	cancel()
	collect(t, events) // drain until close

	deadline := time.Now().Add(5 * time.Second)
	for {
		msgs, err := store.Messages(context.Background(), id)
		if err == nil && len(msgs) == 2 {
			if msgs[1].Content != "Hello, " || !msgs[1].Truncated {
				t.Fatalf("answer = %+v", msgs[1])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("partial answer never persisted, messages = %d", len(msgs))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSend_ConcurrentOnNewSessionCreatesExactlyOne(t *testing.T) {
	ctx := context.Background()
	o, store := newOrchestrator(t, answering("answer"))

	id := uuid.New()
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := o.Send(ctx, id, "alice", "question"); err != nil {
				t.Errorf("Send: %v", err)
			}
		}()
	}
	wg.Wait()

	sessions, err := store.List(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want exactly 1", len(sessions))
	}

	msgs, _ := store.Messages(ctx, id)
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4 (two full turns)", len(msgs))
	}
	for i, msg := range msgs {
		if msg.SequenceNumber != int64(i+1) {
			t.Errorf("message %d seq = %d", i, msg.SequenceNumber)
		}
	}
	// Turns never interleave: user, assistant, user, assistant.
	wantRoles := []session.Role{session.RoleUser, session.RoleAssistant, session.RoleUser, session.RoleAssistant}
	for i, msg := range msgs {
		if msg.Role != wantRoles[i] {
			t.Errorf("message %d role = %s, want %s", i, msg.Role, wantRoles[i])
		}
	}
}

func TestSend_RejectWhenBusy(t *testing.T) {
	ctx := context.Background()

	started := make(chan struct{})
	var startedOnce sync.Once
	unblock := make(chan struct{})
	res := &stubResolver{
		resolve: func(ctx context.Context, _ string, _ []session.Message) (resolver.Resolution, error) {
			startedOnce.Do(func() { close(started) })
			select {
			case <-unblock:
			case <-ctx.Done():
				return resolver.Resolution{}, ctx.Err()
			}
			return resolver.Resolution{Answer: "slow answer", Grounded: true}, nil
		},
	}
	o, _ := newOrchestrator(t, res, WithRejectWhenBusy())

	id := uuid.New()
	done := make(chan error, 1)
	go func() {
		_, err := o.Send(ctx, id, "alice", "first")
		done <- err
	}()

	<-started
	_, err := o.Send(ctx, id, "alice", "second")
	if !errors.Is(err, session.ErrBusy) {
		t.Fatalf("second send = %v, want ErrBusy", err)
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first send = %v", err)
	}

	// Idle again: the same session accepts a new turn.
	if _, err := o.Send(ctx, id, "alice", "third"); err != nil {
		t.Fatalf("third send = %v", err)
	}
}

func TestCapHistory(t *testing.T) {
	msgs := []session.Message{
		{Content: "oldest", TokenCount: 10},
		{Content: "middle", TokenCount: 10},
		{Content: "newest", TokenCount: 10},
	}

	got := capHistory(msgs, 25)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Content != "middle" || got[1].Content != "newest" {
		t.Errorf("kept %q, %q", got[0].Content, got[1].Content)
	}

	if got := capHistory(msgs, 5); len(got) != 0 {
		t.Errorf("tiny budget kept %d messages", len(got))
	}
	if got := capHistory(msgs, 1000); len(got) != 3 {
		t.Errorf("large budget kept %d messages", len(got))
	}
	if got := capHistory(nil, 100); got != nil {
		t.Errorf("nil history returned %v", got)
	}
}
