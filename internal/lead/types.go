package lead

import "time"

// Conversation states.
const (
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusClosed  = "closed"
)

// Lead is an external contact who has messaged a tenant. One row per
// (tenant, phone); created on first contact, never deleted here.
type Lead struct {
	ID            string
	TenantID      string
	Phone         string
	DisplayName   string
	LastMessage   string
	LastMessageAt time.Time
	MessageCount  int
	CreatedAt     time.Time
}

// Conversation is a thread of messages between a tenant and a lead.
type Conversation struct {
	ID            string
	TenantID      string
	LeadID        string
	AssignedOwner string
	Status        string
	MessageCount  int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
