// Package channel defines the canonical inbound event model and the
// provider normalizer registry.
package channel

import "time"

// ContentKind is the canonical taxonomy every provider payload maps onto.
type ContentKind string

const (
	KindText        ContentKind = "text"
	KindAudio       ContentKind = "audio"
	KindImage       ContentKind = "image"
	KindDocument    ContentKind = "document"
	KindInteractive ContentKind = "interactive"
)

// InboundEvent is the canonical envelope produced once per upstream
// message. It is never mutated after normalization; the pipeline fills
// TenantID and ConnectionID after resolving the connection.
type InboundEvent struct {
	TenantID     string
	ConnectionID string
	// ConnectionExternalID is the provider-side identifier of the
	// receiving connection (phone number id, instance name).
	ConnectionExternalID string
	ExternalMessageID    string
	SenderPhone          string
	SenderDisplayName    string
	Kind                 ContentKind
	Text                 string
	// MediaRef points at the provider media (download URL or media id).
	MediaRef  string
	MediaMIME string
	// FromAgent marks messages sent by the business side (human agent
	// replying from a linked device). These feed passive learning and
	// never trigger an automated reply.
	FromAgent  bool
	OccurredAt time.Time
}

// Result is the outcome of normalizing one raw webhook payload.
// Zero events with Ignored=true is a valid no-op outcome (delivery
// receipts, connection updates, malformed payloads).
type Result struct {
	Events  []InboundEvent
	Ignored bool
	// Reason describes why the payload was ignored; diagnostic only.
	Reason string
}

// Ignore builds an ignored Result with a reason.
func Ignore(reason string) Result {
	return Result{Ignored: true, Reason: reason}
}

// Normalizer parses one provider's wire format into canonical events.
// Malformed payloads must produce an ignored Result, not an error: the
// webhook endpoint acknowledges upstream regardless.
type Normalizer interface {
	Provider() string
	Normalize(payload []byte) Result
}
