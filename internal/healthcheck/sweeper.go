// Package healthcheck runs the periodic channel connection sweep:
// every connection is probed sequentially and its status recorded, so
// the eligibility gate and the dashboard see link state without
// probing inline on the message path.
package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/replyflow/replyflow/internal/notify"
	"github.com/replyflow/replyflow/internal/tenant"
)

const probeTimeout = 10 * time.Second

// ConnectionStore lists connections and records probe results.
type ConnectionStore interface {
	ListConnections(ctx context.Context) ([]tenant.Connection, error)
	UpdateConnectionStatus(ctx context.Context, connectionID, status string) error
}

// Prober checks whether one connection's provider side is reachable.
type Prober interface {
	Probe(ctx context.Context, conn tenant.Connection) error
}

// Sweeper runs the scheduled sweep.
type Sweeper struct {
	store    ConnectionStore
	prober   Prober
	notifier notify.Sink
	cron     *cron.Cron
	spec     string
	logger   *slog.Logger
}

func NewSweeper(log *slog.Logger, store ConnectionStore, prober Prober, notifier notify.Sink, spec string) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    store,
		prober:   prober,
		notifier: notifier,
		cron:     cron.New(),
		spec:     spec,
		logger:   log.With(slog.String("service", "healthcheck")),
	}
}

// Start schedules the sweep and begins running it.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return fmt.Errorf("schedule health sweep %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.logger.Info("health sweep scheduled", slog.String("spec", s.spec))
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep probes every connection once, sequentially. One slow or broken
// connection must not starve the rest, so each probe gets its own
// timeout and failures only affect that row.
func (s *Sweeper) Sweep(ctx context.Context) {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		s.logger.Error("connection list failed", slog.Any("error", err))
		return
	}

	for _, conn := range conns {
		status := tenant.ConnectionStatusUp
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		if err := s.prober.Probe(probeCtx, conn); err != nil {
			status = tenant.ConnectionStatusDown
			s.logger.Warn("connection probe failed",
				slog.String("connection_id", conn.ID),
				slog.String("provider", conn.Provider),
				slog.Any("error", err),
			)
		}
		cancel()

		if err := s.store.UpdateConnectionStatus(ctx, conn.ID, status); err != nil {
			s.logger.Error("status update failed",
				slog.String("connection_id", conn.ID),
				slog.Any("error", err),
			)
			continue
		}
		if status == tenant.ConnectionStatusDown && conn.Status != tenant.ConnectionStatusDown {
			s.notifyDown(ctx, conn)
		}
	}
}

func (s *Sweeper) notifyDown(ctx context.Context, conn tenant.Connection) {
	if s.notifier == nil {
		return
	}
	err := s.notifier.Notify(ctx, notify.Input{
		TenantID:    conn.TenantID,
		Title:       "WhatsApp connection lost",
		Description: fmt.Sprintf("Connection %s (%s) stopped responding.", conn.ExternalID, conn.Provider),
		Priority:    notify.PriorityHigh,
	})
	if err != nil {
		s.logger.Warn("down notification failed",
			slog.String("connection_id", conn.ID),
			slog.Any("error", err),
		)
	}
}

// HTTPProber probes provider endpoints over HTTP.
type HTTPProber struct {
	client   *http.Client
	graphURL string
}

func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client:   &http.Client{Timeout: probeTimeout},
		graphURL: "https://graph.facebook.com/v19.0",
	}
}

// Probe checks reachability for the connection's provider. Meta
// connections are verified against the Graph API phone number
// endpoint; anything else succeeds when the provider host answers.
func (p *HTTPProber) Probe(ctx context.Context, conn tenant.Connection) error {
	url := fmt.Sprintf("%s/%s", p.graphURL, conn.ExternalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	if conn.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+conn.AccessToken)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", conn.ExternalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("probe %s: status %d", conn.ExternalID, resp.StatusCode)
	}
	return nil
}
