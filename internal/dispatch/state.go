package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"chatrelay/internal/deliver"
	"chatrelay/internal/storage"
)

// ConversationState is the persisted record of an open conversation thread
// in one channel: the chat-side message reference plus the full message as
// last sent, so follow-up posts can be appended and re-sent as an edit.
type ConversationState struct {
	Ref       deliver.Ref     `json:"ref"`
	Message   deliver.Message `json:"message"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// topicKey builds the storage key for a (topic, channel) conversation.
func topicKey(topicID int64, channel string) string {
	return "topic_" + strconv.FormatInt(topicID, 10) + "_" + channel
}

func loadState(ctx context.Context, kv storage.Store, key string) (ConversationState, bool, error) {
	raw, ok, err := kv.Get(ctx, key)
	if err != nil || !ok {
		return ConversationState{}, false, err
	}
	var st ConversationState
	if err := json.Unmarshal(raw, &st); err != nil {
		// A corrupt record is treated as absent; the next post starts a
		// fresh conversation and overwrites it.
		return ConversationState{}, false, nil
	}
	return st, true, nil
}

func saveState(ctx context.Context, kv storage.Store, key string, st ConversationState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode conversation state: %w", err)
	}
	return kv.Put(ctx, key, raw)
}
