package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kirillkom/grounded-docqa/internal/core/domain"
	"github.com/kirillkom/grounded-docqa/internal/core/ports"
)

// MemoryRepository stores conversation memory as one JSONB row per conversation.
type MemoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewMemoryRepository(db *sql.DB) *MemoryRepository {
	return &MemoryRepository{db: db, now: time.Now}
}

var _ ports.MemoryStore = (*MemoryRepository)(nil)

// Load returns empty memory for unknown conversations.
func (r *MemoryRepository) Load(ctx context.Context, userID, conversationID string) (domain.ConversationMemory, error) {
	var raw []byte
	err := r.db.QueryRowContext(ctx, `
SELECT memory FROM conversation_memory WHERE user_id = $1 AND conversation_id = $2
`, userID, conversationID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ConversationMemory{}, nil
	}
	if err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("load conversation memory: %w", err)
	}

	var memory domain.ConversationMemory
	if err := json.Unmarshal(raw, &memory); err != nil {
		return domain.ConversationMemory{}, fmt.Errorf("decode conversation memory: %w", err)
	}
	return memory, nil
}

func (r *MemoryRepository) Save(ctx context.Context, userID, conversationID string, memory domain.ConversationMemory) error {
	raw, err := json.Marshal(memory)
	if err != nil {
		return fmt.Errorf("encode conversation memory: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO conversation_memory (user_id, conversation_id, memory, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id, conversation_id)
DO UPDATE SET memory = EXCLUDED.memory, updated_at = EXCLUDED.updated_at
`, userID, conversationID, raw, r.now().UTC())
	if err != nil {
		return fmt.Errorf("save conversation memory: %w", err)
	}
	return nil
}
