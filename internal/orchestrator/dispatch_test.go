package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/gate"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/ratelimit"
	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/usage"
)

func dispatchRequest(task string) DispatchRequest {
	return DispatchRequest{
		Task:           task,
		TenantID:       "t1",
		ConversationID: "c1",
		Settings:       tenant.AISettings{IsEnabled: true, MaxHistoryMessages: 20},
		Connection:     &tenant.Connection{Status: tenant.ConnectionStatusUp},
		UserText:       "what should I reply?",
	}
}

func TestDispatchRejectsUnknownTask(t *testing.T) {
	d := newDeps()
	_, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest("translate"))
	require.ErrorIs(t, err, ErrUnknownTask)
}

func TestDispatchChatRunsFullSequence(t *testing.T) {
	d := newDeps()
	out, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(TaskChat))
	require.NoError(t, err)
	assert.True(t, out.Replied)
	require.Len(t, d.store.persisted, 1)
}

func TestDispatchSuggestDoesNotPersist(t *testing.T) {
	d := newDeps()
	out, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(TaskSuggest))
	require.NoError(t, err)
	assert.True(t, out.Replied)
	assert.Equal(t, "Happy to help!", out.Text)
	assert.Empty(t, d.store.persisted)
	assert.Equal(t, 1, d.meter.increments)
}

func TestDispatchSuggestIsGated(t *testing.T) {
	d := newDeps()
	d.gate.decision = gate.Decision{Reason: gate.ReasonOutsideHours}

	out, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(TaskSuggest))
	require.NoError(t, err)
	assert.False(t, out.Replied)
	assert.Equal(t, gate.ReasonOutsideHours, out.Reason)
	assert.Zero(t, d.chat.calls)
}

func TestDispatchAnalysisBypassesGate(t *testing.T) {
	d := newDeps()
	d.gate.decision = gate.Decision{Reason: gate.ReasonAINotActive}
	d.store.history = []message.Message{
		{SenderType: message.SenderLead, Content: "is this in stock?"},
		{SenderType: message.SenderAgent, Content: "yes, ships tomorrow"},
	}

	for _, task := range []string{TaskAnalyze, TaskQualify, TaskSentiment} {
		out, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(task))
		require.NoError(t, err, task)
		assert.True(t, out.Replied, task)
	}
	assert.Empty(t, d.store.persisted)
}

func TestDispatchAnalysisRequiresHistory(t *testing.T) {
	d := newDeps()
	_, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(TaskAnalyze))
	require.Error(t, err)
	assert.Zero(t, d.chat.calls)
}

func TestDispatchQuotaAppliesToAllTasks(t *testing.T) {
	d := newDeps()
	d.meter.quotaErr = usage.ErrQuotaExceeded
	d.store.history = []message.Message{{SenderType: message.SenderLead, Content: "hi"}}

	for _, task := range []string{TaskChat, TaskSuggest, TaskAnalyze} {
		out, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(task))
		require.NoError(t, err, task)
		assert.Equal(t, ReasonQuotaExceeded, out.Reason, task)
	}
	assert.Zero(t, d.chat.calls)
}

func TestDispatchRateLimitAppliesToSuggest(t *testing.T) {
	d := newDeps()
	d.limiter.result = ratelimit.Result{Allowed: false}

	out, err := d.orchestrator().Dispatch(context.Background(), dispatchRequest(TaskSuggest))
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, out.Reason)
	assert.Zero(t, d.chat.calls)
}

func TestRenderTranscriptLabelsSpeakers(t *testing.T) {
	got := renderTranscript([]message.Message{
		{SenderType: message.SenderLead, Content: "hello"},
		{SenderType: message.SenderAI, Content: "hi!"},
	})
	assert.Equal(t, "Customer: hello\nAgent: hi!", got)
}
