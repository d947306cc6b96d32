package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const conversationPrefix = "conversation:"

// StateAwaitingEmail marks a purchaser who picked a plan and owes us a
// contact address for payment correlation.
const StateAwaitingEmail = "awaiting_email"

var ErrConversationNotFound = errors.New("conversation state not found")

// ConversationRepo holds per-purchaser dialog state with an explicit TTL.
// State that is never completed simply expires instead of lingering in
// process memory.
type ConversationRepo struct {
	client *goredis.Client
}

type ConversationState struct {
	State    string
	RecordID string
}

func NewConversationRepo(client *goredis.Client) *ConversationRepo {
	return &ConversationRepo{client: client}
}

func (r *ConversationRepo) Set(ctx context.Context, purchaserID int64, state ConversationState, ttl time.Duration) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if purchaserID <= 0 || strings.TrimSpace(state.State) == "" || ttl <= 0 {
		return fmt.Errorf("invalid conversation state payload")
	}

	key := conversationKey(purchaserID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"state":     state.State,
		"record_id": state.RecordID,
	})
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set conversation state: %w", err)
	}
	return nil
}

func (r *ConversationRepo) Get(ctx context.Context, purchaserID int64) (ConversationState, error) {
	if r.client == nil {
		return ConversationState{}, fmt.Errorf("redis client is nil")
	}

	values, err := r.client.HGetAll(ctx, conversationKey(purchaserID)).Result()
	if err != nil {
		return ConversationState{}, fmt.Errorf("get conversation state: %w", err)
	}
	if len(values) == 0 {
		return ConversationState{}, ErrConversationNotFound
	}

	return ConversationState{
		State:    values["state"],
		RecordID: values["record_id"],
	}, nil
}

func (r *ConversationRepo) Clear(ctx context.Context, purchaserID int64) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, conversationKey(purchaserID)).Err(); err != nil {
		return fmt.Errorf("clear conversation state: %w", err)
	}
	return nil
}

func conversationKey(purchaserID int64) string {
	return fmt.Sprintf("%s%d", conversationPrefix, purchaserID)
}
