package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/adjutant/adjutant/internal/provider"
	"github.com/adjutant/adjutant/internal/state"
)

// ConversationStore persists conversations with their message history.
type ConversationStore struct {
	db          *DB
	maxMessages int // 0 = no cap
}

// NewConversationStore returns a conversation store that uses the given DB.
// maxMessages caps the persisted history per conversation (0 = no cap).
func NewConversationStore(db *DB, maxMessages int) *ConversationStore {
	return &ConversationStore{db: db, maxMessages: maxMessages}
}

// Get loads a conversation by id.
func (s *ConversationStore) Get(ctx context.Context, id string) (*state.Conversation, error) {
	var userID, messagesJSON, metadataJSON, createdAt, updatedAt string
	err := s.db.SQLDB().QueryRowContext(ctx,
		s.db.Rebind(`SELECT user_id, messages, metadata, created_at, updated_at FROM conversations WHERE id = ?`),
		id,
	).Scan(&userID, &messagesJSON, &metadataJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("conversation %q: %w", id, ErrNotFound)
	}
	var messages []provider.Message
	if messagesJSON != "" {
		_ = json.Unmarshal([]byte(messagesJSON), &messages)
	}
	var metadata map[string]string
	if metadataJSON != "" {
		_ = json.Unmarshal([]byte(metadataJSON), &metadata)
	}
	ca, _ := time.Parse(time.RFC3339, createdAt)
	ua, _ := time.Parse(time.RFC3339, updatedAt)
	return &state.Conversation{
		ID:        id,
		UserID:    userID,
		Messages:  messages,
		Metadata:  metadata,
		CreatedAt: ca,
		UpdatedAt: ua,
	}, nil
}

// Ensure returns the conversation with the given id, creating it for userID
// if it does not exist yet. Safe under concurrent calls for the same id.
func (s *ConversationStore) Ensure(ctx context.Context, id, userID string) (*state.Conversation, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`INSERT INTO conversations (id, user_id, messages, metadata, created_at, updated_at)
			VALUES (?, ?, '[]', '{}', ?, ?) ON CONFLICT (id) DO NOTHING`),
		id, userID, now, now)
	if err != nil {
		return nil, fmt.Errorf("conversation ensure: %w", err)
	}
	return s.Get(ctx, id)
}

// AppendMessages appends messages to the conversation history and persists,
// trimming to the configured cap.
func (s *ConversationStore) AppendMessages(ctx context.Context, id string, msgs ...provider.Message) error {
	conv, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	conv.Messages = state.Trim(append(conv.Messages, msgs...), s.maxMessages)
	conv.UpdatedAt = time.Now()
	return s.persist(ctx, conv)
}

func (s *ConversationStore) persist(ctx context.Context, conv *state.Conversation) error {
	messagesJSON, err := json.Marshal(conv.Messages)
	if err != nil {
		return fmt.Errorf("conversation persist: marshal messages: %w", err)
	}
	metadataJSON, _ := json.Marshal(conv.Metadata)
	if metadataJSON == nil || string(metadataJSON) == "null" {
		metadataJSON = []byte("{}")
	}
	updatedAt := conv.UpdatedAt.UTC().Format(time.RFC3339)
	_, err = s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`UPDATE conversations SET messages = ?, metadata = ?, updated_at = ? WHERE id = ?`),
		string(messagesJSON), string(metadataJSON), updatedAt, conv.ID)
	if err != nil {
		return fmt.Errorf("conversation persist: %w", err)
	}
	return nil
}

// Delete removes a conversation (for tests or admin).
func (s *ConversationStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.SQLDB().ExecContext(ctx, s.db.Rebind(`DELETE FROM conversations WHERE id = ?`), id)
	return err
}

// PruneIdle deletes conversations not updated since the cutoff and reports
// how many were removed.
func (s *ConversationStore) PruneIdle(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.SQLDB().ExecContext(ctx,
		s.db.Rebind(`DELETE FROM conversations WHERE updated_at < ?`),
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("conversation prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
