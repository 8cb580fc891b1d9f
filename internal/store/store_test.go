package store

import (
	"context"
	"testing"

	"github.com/54b3r/hmochat-go/internal/conversation"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Store_AppendTurnAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	turn := Turn{
		Phase: "qa",
		User:  "מה ההנחה על ניקוי שיניים?",
		Tools: []string{`get_information({"query":"ניקוי"}) -> {"count":1}`},
		Reply: "80% הנחה",
	}
	if err := s.AppendTurn(ctx, "sess-a", turn); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	entries, err := s.Recent(ctx, "sess-a", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("want 3 entries, got %d", len(entries))
	}
	wantRoles := []Role{RoleUser, RoleTool, RoleAssistant}
	for i, want := range wantRoles {
		if entries[i].Role != want {
			t.Errorf("entry[%d] role: want %s, got %s", i, want, entries[i].Role)
		}
		if entries[i].Phase != "qa" {
			t.Errorf("entry[%d] phase: want qa, got %s", i, entries[i].Phase)
		}
	}
	if entries[2].Content != "80% הנחה" {
		t.Errorf("reply: got %q", entries[2].Content)
	}
}

func Test_Store_RecentLimitRespected(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for range 3 {
		if err := s.AppendTurn(ctx, "sess-b", Turn{Phase: "information_collection", User: "u", Reply: "r"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := s.Recent(ctx, "sess-b", 4)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 4 {
		t.Errorf("want 4 entries, got %d", len(entries))
	}
	if entries[0].Role != RoleUser || entries[3].Role != RoleAssistant {
		t.Errorf("want the last two turns oldest first, got %v", entries)
	}
}

func Test_Store_SessionIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendTurn(ctx, "x", Turn{Phase: "qa", User: "from x", Reply: "rx"}); err != nil {
		t.Fatalf("append x: %v", err)
	}
	if err := s.AppendTurn(ctx, "y", Turn{Phase: "qa", User: "from y", Reply: "ry"}); err != nil {
		t.Fatalf("append y: %v", err)
	}

	entriesX, err := s.Recent(ctx, "x", 10)
	if err != nil {
		t.Fatalf("recent x: %v", err)
	}
	if len(entriesX) != 2 || entriesX[0].Content != "from x" {
		t.Errorf("session x isolation failed: got %v", entriesX)
	}
}

func Test_Store_EmptySessionReturnsNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	entries, err := s.Recent(context.Background(), "none", 10)
	if err != nil {
		t.Fatalf("recent empty: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("want 0 entries, got %d", len(entries))
	}
}

func Test_Store_RejectsEmptySessionID(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.AppendTurn(context.Background(), "", Turn{User: "u", Reply: "r"}); err == nil {
		t.Fatal("expected error for empty session id")
	}
}

func Test_FromTurn(t *testing.T) {
	t.Parallel()

	got := FromTurn(conversation.PhaseCollecting, "שלום", conversation.Turn{
		Reply: "ok",
		ToolCalls: []conversation.ToolCall{
			{ID: "c1", Name: "verify_user_information", Arguments: `{"age":30}`, Result: "Validation successful."},
		},
	})
	if got.Phase != "information_collection" || got.User != "שלום" || got.Reply != "ok" {
		t.Errorf("unexpected turn: %+v", got)
	}
	want := `verify_user_information({"age":30}) -> Validation successful.`
	if len(got.Tools) != 1 || got.Tools[0] != want {
		t.Errorf("tools: want [%s], got %v", want, got.Tools)
	}
}
