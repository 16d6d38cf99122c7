package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/replyflow/replyflow/internal/gate"
	"github.com/replyflow/replyflow/internal/genai"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/usage"
)

// Dashboard-triggered tasks. chat runs the full reply sequence;
// suggest is gated like chat but drafts without persisting; the
// analysis tasks run over conversation history and bypass the
// eligibility gate, since a human asked for them explicitly.
const (
	TaskChat      = "chat"
	TaskSuggest   = "suggest"
	TaskAnalyze   = "analyze"
	TaskQualify   = "qualify"
	TaskSentiment = "sentiment"
)

// OpDispatch is the rate-limit bucket for dashboard tasks.
const OpDispatch = "dispatch"

// ErrUnknownTask rejects task names outside the fixed set.
var ErrUnknownTask = errors.New("unknown dispatch task")

var analysisPrompts = map[string]string{
	TaskAnalyze:   "Summarize this customer conversation for a sales agent: main intent, open questions, and any commitments made. Be concise.",
	TaskQualify:   "Assess how sales-qualified this lead is based on the conversation. State a qualification level (cold, warm, hot), the buying signals you observed, and what is missing.",
	TaskSentiment: "Classify the overall customer sentiment in this conversation as positive, neutral or negative, and quote the decisive messages.",
}

// DispatchRequest is one dashboard task invocation.
type DispatchRequest struct {
	Task           string
	TenantID       string
	ConversationID string
	Settings       tenant.AISettings
	Connection     *tenant.Connection
	UserText       string
}

// Dispatch routes a dashboard task. All tasks are metered and rate
// limited; chat and suggest also go through the eligibility gate.
func (o *Orchestrator) Dispatch(ctx context.Context, req DispatchRequest) (Outcome, error) {
	switch req.Task {
	case TaskChat:
		return o.Respond(ctx, Request{
			TenantID:       req.TenantID,
			ConversationID: req.ConversationID,
			Settings:       req.Settings,
			Connection:     req.Connection,
			UserText:       req.UserText,
		})
	case TaskSuggest:
		return o.suggest(ctx, req)
	case TaskAnalyze, TaskQualify, TaskSentiment:
		return o.analyze(ctx, req)
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownTask, req.Task)
	}
}

// suggest assembles the same prompt a chat reply would use but leaves
// the draft unpersisted for the agent to review. It is gated exactly
// like chat: no drafts for paused or off-hours tenants.
func (o *Orchestrator) suggest(ctx context.Context, req DispatchRequest) (Outcome, error) {
	out, history, err := o.admit(ctx, req)
	if err != nil || out.Reason != "" {
		return out, err
	}

	decision := o.gate.Evaluate(ctx, gate.Input{
		TenantID:    req.TenantID,
		Settings:    req.Settings,
		Connection:  req.Connection,
		MessageText: req.UserText,
	})
	if !decision.Eligible {
		return Outcome{Reason: decision.Reason}, nil
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
		return Outcome{}, fmt.Errorf("generate suggestion: %w", err)
	}
	o.account(ctx, req.TenantID, req.UserText, result)
	return Outcome{Replied: true, Text: result.Text}, nil
}

func (o *Orchestrator) analyze(ctx context.Context, req DispatchRequest) (Outcome, error) {
	out, history, err := o.admit(ctx, req)
	if err != nil || out.Reason != "" {
		return out, err
	}

	transcript := renderTranscript(history)
	if transcript == "" {
		return Outcome{}, fmt.Errorf("conversation %s has no history to analyze", req.ConversationID)
	}
	result, err := o.llm.Chat(ctx, genai.ChatRequest{
		System:   analysisPrompts[req.Task],
		UserText: transcript,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("run %s task: %w", req.Task, err)
	}
	o.account(ctx, req.TenantID, transcript, result)
	return Outcome{Replied: true, Text: result.Text}, nil
}

// admit runs the quota and rate checks shared by every task and loads
// the conversation history.
func (o *Orchestrator) admit(ctx context.Context, req DispatchRequest) (Outcome, []message.Message, error) {
	if err := o.meter.CheckQuota(ctx, req.TenantID); err != nil {
		if errors.Is(err, usage.ErrQuotaExceeded) {
			return Outcome{Reason: ReasonQuotaExceeded}, nil, nil
		}
		return Outcome{}, nil, fmt.Errorf("check quota: %w", err)
	}
	if res := o.limiter.Check(ctx, req.TenantID, OpDispatch, MaxRepliesPerMin, ReplyWindow); !res.Allowed {
		return Outcome{Reason: ReasonRateLimited}, nil, nil
	}

	history, err := o.store.ListLatest(ctx, req.ConversationID, req.Settings.MaxHistoryMessages)
	if err != nil {
		return Outcome{}, nil, fmt.Errorf("load history: %w", err)
	}
	return Outcome{}, history, nil
}

func (o *Orchestrator) account(ctx context.Context, tenantID, input string, result genai.ChatResult) {
	tokens := result.Usage.TotalTokens
	if tokens == 0 {
		tokens = usage.EstimateTokens(input, result.Text)
	}
	if err := o.meter.Increment(ctx, tenantID, tokens); err != nil {
		o.logger.Warn("usage increment failed",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
	}
}

func renderTranscript(history []message.Message) string {
	var b strings.Builder
	for _, m := range history {
		speaker := "Customer"
		if m.SenderType == message.SenderAI || m.SenderType == message.SenderAgent {
			speaker = "Agent"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, m.Content)
	}
	return strings.TrimSpace(b.String())
}
