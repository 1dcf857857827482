package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"dawn/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(context.Background(), filepath.Join(dir, "dawn.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Create(ctx, "alice", "trip planning")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	c, err := s.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.Title != "trip planning" || c.UserID != "alice" {
		t.Fatalf("unexpected conversation: %+v", c)
	}
	if c.MessageCount != 0 {
		t.Fatalf("expected zero messages, got %d", c.MessageCount)
	}
}

func TestGetForbidsOtherUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "t")
	_, err := s.Get(ctx, "bob", id)
	if err != store.ErrForbidden {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get(context.Background(), "alice", 9999)
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMessageOrderIsPreserved(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "t")
	want := []string{"first", "second", "third"}
	for _, text := range want {
		if err := s.AddMessage(ctx, "alice", id, "user", text); err != nil {
			t.Fatalf("add message: %v", err)
		}
	}

	var got []string
	err := s.GetMessages(ctx, "alice", id, func(m store.Message) bool {
		got = append(got, m.Content)
		return true
	})
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("message order mismatch at %d: want %q got %q", i, want[i], got[i])
		}
	}

	c, err := s.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.MessageCount != 3 {
		t.Fatalf("expected message_count 3, got %d", c.MessageCount)
	}
}

func TestGetMessagesPaginatedWalksBackwardsWithoutOverlap(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "t")
	for i := 0; i < 10; i++ {
		if err := s.AddMessage(ctx, "alice", id, "user", string(rune('a'+i))); err != nil {
			t.Fatalf("add message %d: %v", i, err)
		}
	}

	var allSeen []int64
	beforeID := int64(0)
	for {
		var page []store.Message
		total, err := s.GetMessagesPaginated(ctx, "alice", id, 3, beforeID, func(m store.Message) bool {
			page = append(page, m)
			return true
		})
		if err != nil {
			t.Fatalf("paginate: %v", err)
		}
		if total != 10 {
			t.Fatalf("expected total 10, got %d", total)
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			allSeen = append(allSeen, m.ID)
		}
		beforeID = page[0].ID
	}

	if len(allSeen) != 10 {
		t.Fatalf("expected to walk all 10 messages exactly once, saw %d", len(allSeen))
	}
	seen := map[int64]bool{}
	for _, id := range allSeen {
		if seen[id] {
			t.Fatalf("message %d visited twice across pages", id)
		}
		seen[id] = true
	}
}

func TestLockLLMSettingsIsWriteOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "t")
	if err := s.LockLLMSettings(ctx, "alice", id, "chat", "openai", "gpt-5", "openai", "low"); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	err := s.LockLLMSettings(ctx, "alice", id, "chat", "anthropic", "claude", "claude", "high")
	if err != store.ErrAlreadyLocked {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}

	c, err := s.Get(ctx, "alice", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if c.LLMProvider != "openai" || c.LLMModel != "gpt-5" {
		t.Fatalf("settings were overwritten by the rejected second lock: %+v", c)
	}
}

func TestCreateContinuationChainStaysWithinOwningUser(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "original")
	_, err := s.CreateContinuation(ctx, "bob", id, "summary")
	if err != store.ErrForbidden {
		t.Fatalf("expected ErrForbidden for cross-user continuation, got %v", err)
	}

	newID, err := s.CreateContinuation(ctx, "alice", id, "summary so far")
	if err != nil {
		t.Fatalf("create continuation: %v", err)
	}

	foundID, found, err := s.FindContinuation(ctx, "alice", id)
	if err != nil {
		t.Fatalf("find continuation: %v", err)
	}
	if !found || foundID != newID {
		t.Fatalf("expected to find continuation %d, got found=%v id=%d", newID, found, foundID)
	}
}

func TestDeleteCascadesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "t")
	_ = s.AddMessage(ctx, "alice", id, "user", "hello")

	if err := s.Delete(ctx, "alice", id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	_, err := s.Get(ctx, "alice", id)
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	count := 0
	err = s.GetMessages(ctx, "alice", id, func(store.Message) bool { count++; return true })
	if err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound listing messages of a deleted conversation, got %v", err)
	}

	var remaining int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, id).Scan(&remaining); err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected the conversation's messages to be deleted with it, %d remain", remaining)
	}
}

func TestSearchContentMatchesMessageBody(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "unrelated title")
	_ = s.AddMessage(ctx, "alice", id, "user", "what is the capital of finland")

	var hits []store.Conversation
	err := s.SearchContent(ctx, "alice", "finland", store.Pagination{}, func(c store.Conversation) bool {
		hits = append(hits, c)
		return true
	})
	if err != nil {
		t.Fatalf("search content: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != id {
		t.Fatalf("expected one hit for conversation %d, got %+v", id, hits)
	}
}

func TestReassignMovesConversationAcrossUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, _ := s.Create(ctx, "alice", "t")
	if err := s.Reassign(ctx, id, "carol"); err != nil {
		t.Fatalf("reassign: %v", err)
	}

	if _, err := s.Get(ctx, "alice", id); err != store.ErrForbidden {
		t.Fatalf("expected alice to lose access, got %v", err)
	}
	c, err := s.Get(ctx, "carol", id)
	if err != nil {
		t.Fatalf("get as carol: %v", err)
	}
	if c.UserID != "carol" {
		t.Fatalf("expected owner carol, got %q", c.UserID)
	}
}
