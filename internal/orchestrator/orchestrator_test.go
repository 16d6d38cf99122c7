package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyflow/replyflow/internal/gate"
	"github.com/replyflow/replyflow/internal/genai"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/notify"
	"github.com/replyflow/replyflow/internal/prompt"
	"github.com/replyflow/replyflow/internal/ratelimit"
	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/usage"
)

type fakeMeter struct {
	quotaErr   error
	increments int
	lastTokens int
}

func (m *fakeMeter) CheckQuota(context.Context, string) error { return m.quotaErr }

func (m *fakeMeter) Increment(_ context.Context, _ string, tokens int) error {
	m.increments++
	m.lastTokens = tokens
	return nil
}

type fakeLimiter struct {
	result ratelimit.Result
}

func (l *fakeLimiter) Check(context.Context, string, string, int, time.Duration) ratelimit.Result {
	return l.result
}

type fakeGate struct {
	decision gate.Decision
}

func (g *fakeGate) Evaluate(context.Context, gate.Input) gate.Decision { return g.decision }

type fakeAssembler struct{}

func (fakeAssembler) Assemble(_ context.Context, _ tenant.AISettings, history []message.Message, _ string) (prompt.Assembled, error) {
	out := prompt.Assembled{System: "system"}
	for _, m := range history {
		out.History = append(out.History, genai.Message{Role: "user", Content: m.Content})
	}
	return out, nil
}

type fakeChat struct {
	calls  int
	result genai.ChatResult
	err    error
}

func (c *fakeChat) Chat(context.Context, genai.ChatRequest) (genai.ChatResult, error) {
	c.calls++
	return c.result, c.err
}

type fakeStore struct {
	history   []message.Message
	persisted []message.PersistInput
}

func (s *fakeStore) ListLatest(context.Context, string, int) ([]message.Message, error) {
	return s.history, nil
}

func (s *fakeStore) Persist(_ context.Context, in message.PersistInput) (message.Message, error) {
	s.persisted = append(s.persisted, in)
	return message.Message{ID: "m1", Content: in.Content, SenderType: in.SenderType}, nil
}

type fakeBumper struct {
	bumps int
}

func (b *fakeBumper) BumpConversation(context.Context, string) error {
	b.bumps++
	return nil
}

type fakeNotifier struct {
	inputs []notify.Input
}

func (n *fakeNotifier) Notify(_ context.Context, in notify.Input) error {
	n.inputs = append(n.inputs, in)
	return nil
}

type deps struct {
	meter    *fakeMeter
	limiter  *fakeLimiter
	gate     *fakeGate
	chat     *fakeChat
	store    *fakeStore
	bumper   *fakeBumper
	notifier *fakeNotifier
}

func newDeps() deps {
	return deps{
		meter:    &fakeMeter{},
		limiter:  &fakeLimiter{result: ratelimit.Result{Allowed: true}},
		gate:     &fakeGate{decision: gate.Decision{Eligible: true}},
		chat:     &fakeChat{result: genai.ChatResult{Text: "Happy to help!", Usage: genai.Usage{TotalTokens: 42}}},
		store:    &fakeStore{},
		bumper:   &fakeBumper{},
		notifier: &fakeNotifier{},
	}
}

func (d deps) orchestrator() *Orchestrator {
	return New(nil, d.meter, d.limiter, d.gate, fakeAssembler{}, d.chat, d.store, d.bumper, d.notifier)
}

func request() Request {
	return Request{
		TenantID:       "t1",
		ConversationID: "c1",
		LeadID:         "l1",
		LeadName:       "Alice",
		Settings:       tenant.AISettings{IsEnabled: true, MaxHistoryMessages: 20},
		Connection:     &tenant.Connection{Status: tenant.ConnectionStatusUp},
		UserText:       "do you ship internationally?",
	}
}

func TestRespondHappyPath(t *testing.T) {
	d := newDeps()
	out, err := d.orchestrator().Respond(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Replied)
	assert.Equal(t, "Happy to help!", out.Text)

	require.Len(t, d.store.persisted, 1)
	assert.Equal(t, message.SenderAI, d.store.persisted[0].SenderType)
	assert.Equal(t, 1, d.meter.increments)
	assert.Equal(t, 42, d.meter.lastTokens)
	assert.Equal(t, 1, d.bumper.bumps)
}

func TestRespondQuotaDenialNeverCallsModel(t *testing.T) {
	d := newDeps()
	d.meter.quotaErr = usage.ErrQuotaExceeded

	out, err := d.orchestrator().Respond(context.Background(), request())
	require.NoError(t, err)
	assert.False(t, out.Replied)
	assert.Equal(t, ReasonQuotaExceeded, out.Reason)
	assert.Zero(t, d.chat.calls)
	assert.Empty(t, d.store.persisted)
	assert.Zero(t, d.meter.increments)
}

func TestRespondRateLimitDenial(t *testing.T) {
	d := newDeps()
	d.limiter.result = ratelimit.Result{Allowed: false, RetryAfter: 40 * time.Second}

	out, err := d.orchestrator().Respond(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, ReasonRateLimited, out.Reason)
	assert.Zero(t, d.chat.calls)
}

func TestRespondGateDenial(t *testing.T) {
	d := newDeps()
	d.gate.decision = gate.Decision{Reason: gate.ReasonOutsideHours}

	out, err := d.orchestrator().Respond(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, gate.ReasonOutsideHours, out.Reason)
	assert.Zero(t, d.chat.calls)
	assert.Empty(t, d.notifier.inputs)
}

func TestRespondTransferRequestNotifies(t *testing.T) {
	d := newDeps()
	d.gate.decision = gate.Decision{Reason: gate.ReasonTransferRequested}

	out, err := d.orchestrator().Respond(context.Background(), request())
	require.NoError(t, err)
	assert.Equal(t, gate.ReasonTransferRequested, out.Reason)
	require.Len(t, d.notifier.inputs, 1)
	assert.Equal(t, notify.PriorityHigh, d.notifier.inputs[0].Priority)
	assert.Equal(t, "l1", d.notifier.inputs[0].LeadID)
	assert.Contains(t, d.notifier.inputs[0].Description, "Alice")
}

func TestRespondModelFailureSurfaces(t *testing.T) {
	d := newDeps()
	d.chat.err = errors.New("upstream timeout")

	_, err := d.orchestrator().Respond(context.Background(), request())
	require.Error(t, err)
	assert.Empty(t, d.store.persisted)
	assert.Zero(t, d.meter.increments)
}

func TestRespondQuotaInfraFailureSurfaces(t *testing.T) {
	d := newDeps()
	d.meter.quotaErr = errors.New("db down")

	_, err := d.orchestrator().Respond(context.Background(), request())
	require.Error(t, err)
	assert.Zero(t, d.chat.calls)
}

func TestRespondEstimatesTokensWhenUsageMissing(t *testing.T) {
	d := newDeps()
	d.chat.result = genai.ChatResult{Text: "Yes, worldwide."}

	out, err := d.orchestrator().Respond(context.Background(), request())
	require.NoError(t, err)
	assert.True(t, out.Replied)
	assert.Equal(t, usage.EstimateTokens(request().UserText, "Yes, worldwide."), d.meter.lastTokens)
}
