package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRepo(t *testing.T) (*ConversationRepo, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewConversationRepo(client), mr
}

func TestConversationSetGetClear(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	err := repo.Set(ctx, 42, ConversationState{
		State:    StateAwaitingEmail,
		RecordID: "rec-1",
	}, time.Minute)
	if err != nil {
		t.Fatalf("set conversation state: %v", err)
	}

	state, err := repo.Get(ctx, 42)
	if err != nil {
		t.Fatalf("get conversation state: %v", err)
	}
	if state.State != StateAwaitingEmail || state.RecordID != "rec-1" {
		t.Fatalf("unexpected state: %+v", state)
	}

	if err := repo.Clear(ctx, 42); err != nil {
		t.Fatalf("clear conversation state: %v", err)
	}
	if _, err := repo.Get(ctx, 42); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestConversationExpires(t *testing.T) {
	repo, mr := newTestRepo(t)
	ctx := context.Background()

	err := repo.Set(ctx, 7, ConversationState{State: StateAwaitingEmail}, 30*time.Second)
	if err != nil {
		t.Fatalf("set conversation state: %v", err)
	}

	mr.FastForward(31 * time.Second)

	if _, err := repo.Get(ctx, 7); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected expired state to be gone, got %v", err)
	}
}

func TestConversationRejectsInvalidPayload(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	if err := repo.Set(ctx, 0, ConversationState{State: StateAwaitingEmail}, time.Minute); err == nil {
		t.Fatal("expected error for invalid purchaser id")
	}
	if err := repo.Set(ctx, 1, ConversationState{}, time.Minute); err == nil {
		t.Fatal("expected error for empty state")
	}
	if err := repo.Set(ctx, 1, ConversationState{State: StateAwaitingEmail}, 0); err == nil {
		t.Fatal("expected error for non-positive ttl")
	}
}
