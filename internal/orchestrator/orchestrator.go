// Package orchestrator runs the AI reply sequence for one eligible
// inbound message: quota, rate limit, gate, history, prompt, model
// call, persistence and accounting, in that order. Checks that deny
// never reach the model.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/replyflow/replyflow/internal/gate"
	"github.com/replyflow/replyflow/internal/genai"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/notify"
	"github.com/replyflow/replyflow/internal/prompt"
	"github.com/replyflow/replyflow/internal/ratelimit"
	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/usage"
)

// Rate limit policy for the reply operation.
const (
	OpAIResponse     = "ai_response"
	MaxRepliesPerMin = 30
	ReplyWindow      = time.Minute
)

// Denial reasons produced before the gate runs.
const (
	ReasonQuotaExceeded = "quota_exceeded"
	ReasonRateLimited   = "rate_limited"
)

// QuotaMeter covers the monthly allowance.
type QuotaMeter interface {
	CheckQuota(ctx context.Context, tenantID string) error
	Increment(ctx context.Context, tenantID string, tokens int) error
}

// RateLimiter covers the per-minute reply window.
type RateLimiter interface {
	Check(ctx context.Context, tenantID, operation string, maxRequests int, window time.Duration) ratelimit.Result
}

// Evaluator is the eligibility gate.
type Evaluator interface {
	Evaluate(ctx context.Context, in gate.Input) gate.Decision
}

// PromptAssembler builds the completion request.
type PromptAssembler interface {
	Assemble(ctx context.Context, settings tenant.AISettings, history []message.Message, userText string) (prompt.Assembled, error)
}

// ChatClient is the completion backend.
type ChatClient interface {
	Chat(ctx context.Context, req genai.ChatRequest) (genai.ChatResult, error)
}

// ConversationStore covers the history read, reply write and counter
// bump the sequence needs.
type ConversationStore interface {
	message.Reader
	message.Writer
}

// ConversationBumper refreshes conversation counters after a reply.
type ConversationBumper interface {
	BumpConversation(ctx context.Context, conversationID string) error
}

// Request is one inbound lead message that may deserve an AI reply.
type Request struct {
	TenantID       string
	ConversationID string
	LeadID         string
	LeadName       string
	Settings       tenant.AISettings
	Connection     *tenant.Connection
	UserText       string
	ReceivedAt     time.Time
}

// Outcome reports what the sequence did. When Replied is false,
// Reason holds the blocking code.
type Outcome struct {
	Replied bool
	Reason  string
	Text    string
	Message message.Message
}

// Orchestrator wires the reply sequence.
type Orchestrator struct {
	meter     QuotaMeter
	limiter   RateLimiter
	gate      Evaluator
	assembler PromptAssembler
	llm       ChatClient
	store     ConversationStore
	bumper    ConversationBumper
	notifier  notify.Sink
	logger    *slog.Logger
}

func New(
	log *slog.Logger,
	meter QuotaMeter,
	limiter RateLimiter,
	evaluator Evaluator,
	assembler PromptAssembler,
	llm ChatClient,
	store ConversationStore,
	bumper ConversationBumper,
	notifier notify.Sink,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		meter:     meter,
		limiter:   limiter,
		gate:      evaluator,
		assembler: assembler,
		llm:       llm,
		store:     store,
		bumper:    bumper,
		notifier:  notifier,
		logger:    log.With(slog.String("service", "orchestrator")),
	}
}

// Respond runs the full sequence. Denials return a populated Outcome
// with Replied=false and a nil error; only infrastructure failures
// after admission surface as errors.
func (o *Orchestrator) Respond(ctx context.Context, req Request) (Outcome, error) {
	if err := o.meter.CheckQuota(ctx, req.TenantID); err != nil {
		if errors.Is(err, usage.ErrQuotaExceeded) {
			o.logger.Info("reply suppressed",
				slog.String("tenant_id", req.TenantID),
				slog.String("reason", ReasonQuotaExceeded),
			)
			return Outcome{Reason: ReasonQuotaExceeded}, nil
		}
		return Outcome{}, fmt.Errorf("check quota: %w", err)
	}

	if res := o.limiter.Check(ctx, req.TenantID, OpAIResponse, MaxRepliesPerMin, ReplyWindow); !res.Allowed {
		o.logger.Info("reply suppressed",
			slog.String("tenant_id", req.TenantID),
			slog.String("reason", ReasonRateLimited),
			slog.Duration("retry_after", res.RetryAfter),
		)
		return Outcome{Reason: ReasonRateLimited}, nil
	}

	decision := o.gate.Evaluate(ctx, gate.Input{
		TenantID:    req.TenantID,
		Settings:    req.Settings,
		Connection:  req.Connection,
		MessageText: req.UserText,
		At:          req.ReceivedAt,
	})
	if !decision.Eligible {
		if decision.Reason == gate.ReasonTransferRequested {
			o.requestHandoff(ctx, req)
		}
		o.logger.Info("reply suppressed",
			slog.String("tenant_id", req.TenantID),
			slog.String("reason", decision.Reason),
		)
		return Outcome{Reason: decision.Reason}, nil
	}

	history, err := o.store.ListLatest(ctx, req.ConversationID, req.Settings.MaxHistoryMessages)
	if err != nil {
		return Outcome{}, fmt.Errorf("load history: %w", err)
	}

	assembled, err := o.assembler.Assemble(ctx, req.Settings, history, req.UserText)
	if err != nil {
		return Outcome{}, fmt.Errorf("assemble prompt: %w", err)
	}

	result, err := o.llm.Chat(ctx, genai.ChatRequest{
		System:   assembled.System,
		History:  assembled.History,
		UserText: req.UserText,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("generate reply: %w", err)
	}

	msg, err := o.store.Persist(ctx, message.PersistInput{
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		SenderType:     message.SenderAI,
		Content:        result.Text,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("persist reply: %w", err)
	}

	// Post-reply accounting is best-effort: the reply already exists
	// and must not be rolled back over counter failures.
	o.account(ctx, req.TenantID, req.UserText, result)
	if err := o.bumper.BumpConversation(ctx, req.ConversationID); err != nil {
		o.logger.Warn("conversation bump failed",
			slog.String("conversation_id", req.ConversationID),
			slog.String("error", err.Error()),
		)
	}

	return Outcome{Replied: true, Text: result.Text, Message: msg}, nil
}

func (o *Orchestrator) requestHandoff(ctx context.Context, req Request) {
	if o.notifier == nil {
		return
	}
	name := req.LeadName
	if name == "" {
		name = "A lead"
	}
	err := o.notifier.Notify(ctx, notify.Input{
		TenantID:    req.TenantID,
		Title:       "Human handoff requested",
		Description: fmt.Sprintf("%s asked to talk to a person.", name),
		Priority:    notify.PriorityHigh,
		LeadID:      req.LeadID,
	})
	if err != nil {
		o.logger.Warn("handoff notification failed",
			slog.String("tenant_id", req.TenantID),
			slog.String("error", err.Error()),
		)
	}
}
