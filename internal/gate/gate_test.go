package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/replyflow/replyflow/internal/tenant"
	"github.com/replyflow/replyflow/internal/training"
)

type fakeTraining struct {
	status string
	err    error
}

func (f *fakeTraining) GetStatus(context.Context, string) (training.Status, error) {
	if f.err != nil {
		return training.Status{}, f.err
	}
	return training.Status{Status: f.status}, nil
}

func activeInput() Input {
	return Input{
		TenantID: "t1",
		Settings: tenant.AISettings{
			IsEnabled:        true,
			Timezone:         "UTC",
			ActiveHoursStart: 0,
			ActiveHoursEnd:   24,
		},
		Connection:  &tenant.Connection{Status: tenant.ConnectionStatusUp},
		MessageText: "how much is shipping?",
	}
}

func TestEvaluateAllowsWhenEverythingPasses(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})
	d := g.Evaluate(context.Background(), activeInput())
	assert.True(t, d.Eligible)
	assert.Empty(t, d.Reason)
}

func TestEvaluateDeniesWhenTrainingNotActive(t *testing.T) {
	for _, status := range []string{training.StatusLearning, training.StatusReady, training.StatusPaused} {
		g := New(nil, &fakeTraining{status: status})
		d := g.Evaluate(context.Background(), activeInput())
		assert.False(t, d.Eligible, status)
		assert.Equal(t, ReasonAINotActive, d.Reason, status)
	}
}

func TestEvaluateDeniesOnTrainingLookupFailure(t *testing.T) {
	g := New(nil, &fakeTraining{err: errors.New("db down")})
	d := g.Evaluate(context.Background(), activeInput())
	assert.Equal(t, ReasonAINotActive, d.Reason)
}

func TestEvaluateTrainingCheckWinsOverDisabled(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusPaused})
	in := activeInput()
	in.Settings.IsEnabled = false
	d := g.Evaluate(context.Background(), in)
	assert.Equal(t, ReasonAINotActive, d.Reason)
}

func TestEvaluateDeniesWhenConnectionMissingOrDown(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})

	in := activeInput()
	in.Connection = nil
	assert.Equal(t, ReasonWhatsAppNotLinked, g.Evaluate(context.Background(), in).Reason)

	in = activeInput()
	in.Connection.Status = tenant.ConnectionStatusDown
	assert.Equal(t, ReasonWhatsAppNotLinked, g.Evaluate(context.Background(), in).Reason)
}

func TestEvaluateDeniesWhenConnectionNotLinked(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})

	in := activeInput()
	in.Settings.ConnectionID = "conn-linked"
	in.Connection.ID = "conn-other"
	d := g.Evaluate(context.Background(), in)
	assert.False(t, d.Eligible)
	assert.Equal(t, ReasonWhatsAppNotLinked, d.Reason)

	in.Connection.ID = "conn-linked"
	assert.True(t, g.Evaluate(context.Background(), in).Eligible)
}

func TestEvaluateDeniesWhenDisabled(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})
	in := activeInput()
	in.Settings.IsEnabled = false
	assert.Equal(t, ReasonAIDisabled, g.Evaluate(context.Background(), in).Reason)
}

func TestActiveHoursMidnightWrap(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})
	in := activeInput()
	in.Settings.ActiveHoursStart = 22
	in.Settings.ActiveHoursEnd = 6

	cases := []struct {
		hour int
		want bool
	}{
		{23, true},
		{2, true},
		{12, false},
		{22, true},
		{6, false},
	}
	for _, tc := range cases {
		in.At = time.Date(2026, 3, 10, tc.hour, 30, 0, 0, time.UTC)
		d := g.Evaluate(context.Background(), in)
		if tc.want {
			assert.True(t, d.Eligible, "hour %d", tc.hour)
		} else {
			assert.Equal(t, ReasonOutsideHours, d.Reason, "hour %d", tc.hour)
		}
	}
}

func TestActiveHoursRespectsTimezone(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})
	in := activeInput()
	in.Settings.Timezone = "America/Sao_Paulo" // UTC-3
	in.Settings.ActiveHoursStart = 9
	in.Settings.ActiveHoursEnd = 18
	// 13:00 UTC is 10:00 local.
	in.At = time.Date(2026, 3, 10, 13, 0, 0, 0, time.UTC)
	assert.True(t, g.Evaluate(context.Background(), in).Eligible)

	// 23:00 UTC is 20:00 local, outside the window.
	in.At = time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, ReasonOutsideHours, g.Evaluate(context.Background(), in).Reason)
}

func TestEvaluateDeniesOnTransferKeyword(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})
	in := activeInput()
	in.Settings.TransferKeyword = "humano"
	in.MessageText = "Quero falar com um HUMANO agora"
	assert.Equal(t, ReasonTransferRequested, g.Evaluate(context.Background(), in).Reason)
}

func TestEvaluateDeniesOnTransferFlag(t *testing.T) {
	g := New(nil, &fakeTraining{status: training.StatusActive})
	in := activeInput()
	in.TransferFlag = true
	assert.Equal(t, ReasonTransferRequested, g.Evaluate(context.Background(), in).Reason)
}
