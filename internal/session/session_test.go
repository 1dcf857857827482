package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"dawn/internal/llm"
)

func TestLocalSessionExistsAndCannotBeReleased(t *testing.T) {
	m := New()
	s := m.Get(LocalSessionID)
	if s == nil || s.ID() != LocalSessionID {
		t.Fatalf("expected local session present")
	}
	if err := m.Release(LocalSessionID); !errors.Is(err, ErrCannotReleaseLocal) {
		t.Fatalf("expected ErrCannotReleaseLocal, got %v", err)
	}
}

func TestGetUnknownFallsBackToLocal(t *testing.T) {
	m := New()
	s := m.Get("does-not-exist")
	if s.ID() != LocalSessionID {
		t.Fatalf("expected fallback to local session, got %q", s.ID())
	}
}

func TestCreateAndRelease(t *testing.T) {
	m := New()
	s := m.Create("abc")
	if m.Get("abc") != s {
		t.Fatalf("expected Get to return the created session")
	}
	if err := m.Release("abc"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Get("abc").ID() != LocalSessionID {
		t.Fatalf("expected fallback after release")
	}
}

func TestReleaseUnknownReturnsNotFound(t *testing.T) {
	m := New()
	if err := m.Release("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionIsolation(t *testing.T) {
	m := New()
	a := m.Create("a")
	b := m.Create("b")

	a.AddMessage(llm.Message{Role: llm.RoleUser, Content: "hi from a"})

	if len(b.History()) != 0 {
		t.Fatalf("session b should be unaffected by session a's mutation")
	}
	if len(a.History()) != 1 {
		t.Fatalf("expected 1 message in session a")
	}
}

func TestConcurrentAddMessageAcrossSessionsDoesNotInterleaveContent(t *testing.T) {
	m := New()
	s := m.Create("concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.AddMessage(llm.Message{Role: llm.RoleUser, Content: "msg"})
		}(i)
	}
	wg.Wait()

	hist := s.History()
	if len(hist) != 100 {
		t.Fatalf("expected 100 messages, got %d", len(hist))
	}
	for _, m := range hist {
		if m.Content != "msg" {
			t.Fatalf("message content corrupted/interleaved: %q", m.Content)
		}
	}
}

func TestLockedLLMConfigIsWriteOnce(t *testing.T) {
	s := newSession("x")
	s.SetLLMConfig(LLMConfig{Provider: "openai", Locked: true})
	s.SetLLMConfig(LLMConfig{Provider: "claude"})

	got := s.LLMConfig()
	if got.Provider != "openai" {
		t.Fatalf("expected locked config to be retained, got provider %q", got.Provider)
	}
}

func TestCommandContextRoundTrip(t *testing.T) {
	ctx := WithCommandContext(context.Background(), CommandContext{SessionID: "sess-1"})
	cc, ok := FromContext(ctx)
	if !ok || cc.SessionID != "sess-1" {
		t.Fatalf("expected CommandContext with SessionID sess-1, got %+v ok=%v", cc, ok)
	}

	_, ok = FromContext(context.Background())
	if ok {
		t.Fatalf("expected no CommandContext on a bare context")
	}
}
