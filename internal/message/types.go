package message

import (
	"context"
	"time"
)

// Sender types for persisted messages.
const (
	SenderLead  = "lead"
	SenderAgent = "agent"
	SenderAI    = "ai"
)

// Message is one persisted, append-only conversation message.
type Message struct {
	ID                string
	ConversationID    string
	TenantID          string
	SenderType        string
	Content           string
	ExternalMessageID string
	CreatedAt         time.Time
}

// PersistInput is the input for persisting a message.
type PersistInput struct {
	ConversationID string
	TenantID       string
	SenderType     string
	Content        string
	// ExternalMessageID is the idempotency key; duplicates are rejected
	// at the storage layer.
	ExternalMessageID string
}

// Writer defines the write behavior needed by the inbound pipeline.
type Writer interface {
	Persist(ctx context.Context, input PersistInput) (Message, error)
}

// Reader defines the history reads needed by the prompt assembler.
type Reader interface {
	ListLatest(ctx context.Context, conversationID string, limit int) ([]Message, error)
}
