package compose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/nudge/internal/domain"
)

type fakeMemory struct {
	mu        sync.Mutex
	answer    string
	err       error
	block     bool
	questions []string
}

func (m *fakeMemory) Query(ctx context.Context, userID, question string) (string, error) {
	m.mu.Lock()
	m.questions = append(m.questions, question)
	m.mu.Unlock()
	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return m.answer, m.err
}

type fakeContext struct {
	mu     sync.Mutex
	calls  int
	counts []int
	msgs   []domain.HistoryMessage
	err    error
}

func (c *fakeContext) History(_ context.Context, _ string, count int) ([]domain.HistoryMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.counts = append(c.counts, count)
	return c.msgs, c.err
}

func testState() *domain.ConversationState {
	return &domain.ConversationState{ConversationID: "c1", UserID: "u1", UserName: "Mika"}
}

func testHistory() []domain.HistoryMessage {
	return []domain.HistoryMessage{
		{SenderID: "u1", SenderName: "Mika", Content: "see you at the climbing gym"},
		{SenderID: "bot", Content: "have fun!"},
	}
}

func TestComposer_MemoryHitSkipsContext(t *testing.T) {
	t.Parallel()

	mem := &fakeMemory{answer: "  Mika was preparing for a marathon  "}
	ctxSvc := &fakeContext{msgs: testHistory()}
	c := New(mem, ctxSvc, Config{MemoryEnabled: true, QuestionTemplate: "what about {user_name} ({user_id})?", HistoryCount: 18}, nil)

	draft, err := c.Compose(context.Background(), testState(), "silence")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if draft.Source != domain.SeedSourceMemory {
		t.Errorf("Expected memory source, got %s", draft.Source)
	}
	if draft.Seed != "Mika was preparing for a marathon" {
		t.Errorf("Expected trimmed memory seed, got %q", draft.Seed)
	}
	if ctxSvc.calls != 0 {
		t.Errorf("Expected context never queried on memory hit, got %d calls", ctxSvc.calls)
	}
	if len(mem.questions) != 1 || mem.questions[0] != "what about Mika (u1)?" {
		t.Errorf("Expected rendered question, got %v", mem.questions)
	}
}

func TestComposer_Fallbacks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		memEnabled bool
		mem        *fakeMemory
		ctxErr     error
		wantSource domain.SeedSource
		wantCalls  int
	}{
		{"memory disabled", false, &fakeMemory{answer: "unused"}, nil, domain.SeedSourceContext, 1},
		{"memory miss", true, &fakeMemory{answer: "   "}, nil, domain.SeedSourceContext, 1},
		{"memory error", true, &fakeMemory{err: errors.New("unavailable")}, nil, domain.SeedSourceContext, 1},
		{"memory and context error", true, &fakeMemory{err: errors.New("unavailable")}, errors.New("boom"), domain.SeedSourceEmpty, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctxSvc := &fakeContext{msgs: testHistory(), err: tt.ctxErr}
			c := New(tt.mem, ctxSvc, Config{MemoryEnabled: tt.memEnabled, QuestionTemplate: "q", HistoryCount: 7}, nil)

			draft, err := c.Compose(context.Background(), testState(), "silence")
			if err != nil {
				t.Fatalf("Compose: %v", err)
			}
			if draft.Source != tt.wantSource {
				t.Errorf("Expected source %s, got %s", tt.wantSource, draft.Source)
			}
			if ctxSvc.calls != tt.wantCalls {
				t.Errorf("Expected %d context calls, got %d", tt.wantCalls, ctxSvc.calls)
			}
			if len(ctxSvc.counts) > 0 && ctxSvc.counts[0] != 7 {
				t.Errorf("Expected history count 7, got %d", ctxSvc.counts[0])
			}
			if !tt.memEnabled && len(tt.mem.questions) != 0 {
				t.Error("Expected memory not queried when disabled")
			}
			if tt.wantSource == domain.SeedSourceEmpty && draft.Seed != "" {
				t.Errorf("Expected empty seed, got %q", draft.Seed)
			}
		})
	}
}

func TestComposer_MemoryTimeoutFallsBack(t *testing.T) {
	t.Parallel()

	ctxSvc := &fakeContext{msgs: testHistory()}
	c := New(&fakeMemory{block: true}, ctxSvc, Config{
		MemoryEnabled:    true,
		QuestionTemplate: "q",
		HistoryCount:     18,
		MemoryTimeout:    20 * time.Millisecond,
	}, nil)

	draft, err := c.Compose(context.Background(), testState(), "silence")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if draft.Source != domain.SeedSourceContext {
		t.Errorf("Expected context fallback after timeout, got %s", draft.Source)
	}
	want := "Mika: see you at the climbing gym\nbot: have fun!"
	if draft.Seed != want {
		t.Errorf("Expected seed %q, got %q", want, draft.Seed)
	}
}

func TestComposer_NilMemoryUsesContext(t *testing.T) {
	t.Parallel()

	ctxSvc := &fakeContext{msgs: testHistory()}
	c := New(nil, ctxSvc, Config{MemoryEnabled: true, HistoryCount: 3}, nil)

	draft, err := c.Compose(context.Background(), testState(), "manual")
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if draft.Source != domain.SeedSourceContext || len(draft.History) != 2 {
		t.Errorf("Expected context draft with 2 messages, got %s with %d", draft.Source, len(draft.History))
	}
	if draft.Reason != "manual" || draft.UserName != "Mika" {
		t.Errorf("Unexpected draft metadata: %+v", draft)
	}
}

func TestComposer_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New(&fakeMemory{err: context.Canceled}, &fakeContext{}, Config{MemoryEnabled: true}, nil)

	if _, err := c.Compose(ctx, testState(), "silence"); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestRenderQuestion(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		state    *domain.ConversationState
		want     string
	}{
		{"both placeholders", "{user_name}/{user_id}", &domain.ConversationState{UserID: "42", UserName: "Ada"}, "Ada/42"},
		{"name falls back to id", "hi {user_name}", &domain.ConversationState{UserID: "42"}, "hi 42"},
		{"unknown placeholder kept", "{user_name} {topic}", &domain.ConversationState{UserID: "42", UserName: "Ada"}, "Ada {topic}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := RenderQuestion(tt.template, tt.state); got != tt.want {
				t.Errorf("RenderQuestion() = %q, want %q", got, tt.want)
			}
		})
	}
}
