// Package gate decides whether the AI is allowed to answer an inbound
// lead message. Checks run in a fixed order and the first failure
// wins, so callers always get the most fundamental blocking reason.
package gate

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/training"
)

// Blocking reason codes, ordered by check precedence.
const (
	ReasonAINotActive       = "ai_not_active"
	ReasonWhatsAppNotLinked = "whatsapp_not_linked"
	ReasonAIDisabled        = "ai_disabled"
	ReasonOutsideHours      = "outside_hours"
	ReasonTransferRequested = "transfer_requested"
)

// Decision is the outcome of an eligibility evaluation.
type Decision struct {
	Eligible bool
	Reason   string
}

func allow() Decision {
	return Decision{Eligible: true}
}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// TrainingReader exposes the training lifecycle state.
type TrainingReader interface {
	GetStatus(ctx context.Context, tenantID string) (training.Status, error)
}

// Input carries everything the gate needs about one inbound message.
type Input struct {
	TenantID     string
	Settings     tenant.AISettings
	Connection   *tenant.Connection
	MessageText  string
	TransferFlag bool
	At           time.Time
}

// Gate evaluates AI response eligibility.
type Gate struct {
	trainingSvc TrainingReader
	logger      *slog.Logger
}

func New(log *slog.Logger, trainingSvc TrainingReader) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{
		trainingSvc: trainingSvc,
		logger:      log.With(slog.String("service", "gate")),
	}
}

// Evaluate runs the ordered checks. A failed training lookup denies
// with ai_not_active rather than letting an untrained assistant reply.
func (g *Gate) Evaluate(ctx context.Context, in Input) Decision {
	st, err := g.trainingSvc.GetStatus(ctx, in.TenantID)
	if err != nil {
		g.logger.Warn("training status lookup failed, denying response",
			slog.String("tenant_id", in.TenantID),
			slog.String("error", err.Error()),
		)
		return deny(ReasonAINotActive)
	}
	if st.Status != training.StatusActive {
		return deny(ReasonAINotActive)
	}

	if in.Connection == nil || in.Connection.Status == tenant.ConnectionStatusDown {
		return deny(ReasonWhatsAppNotLinked)
	}
	// The message must arrive on the connection the tenant linked, not
	// just any provisioned one.
	if in.Settings.ConnectionID != "" && in.Connection.ID != in.Settings.ConnectionID {
		return deny(ReasonWhatsAppNotLinked)
	}

	if !in.Settings.IsEnabled {
		return deny(ReasonAIDisabled)
	}

	if !g.withinActiveHours(in) {
		return deny(ReasonOutsideHours)
	}

	if in.TransferFlag || g.transferRequested(in) {
		return deny(ReasonTransferRequested)
	}

	return allow()
}

// withinActiveHours applies the tenant's local schedule. A window
// where end < start wraps past midnight (22–6 admits 23:30 and 02:00).
func (g *Gate) withinActiveHours(in Input) bool {
	start := in.Settings.ActiveHoursStart
	end := in.Settings.ActiveHoursEnd
	if start == end {
		return true // degenerate window means always on
	}

	loc, err := time.LoadLocation(in.Settings.Timezone)
	if err != nil {
		g.logger.Warn("unknown tenant timezone, using UTC",
			slog.String("tenant_id", in.TenantID),
			slog.String("timezone", in.Settings.Timezone),
		)
		loc = time.UTC
	}
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	hour := at.In(loc).Hour()

	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (g *Gate) transferRequested(in Input) bool {
	keyword := strings.TrimSpace(in.Settings.TransferKeyword)
	if keyword == "" {
		return false
	}
	return strings.Contains(strings.ToLower(in.MessageText), strings.ToLower(keyword))
}
