package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/replyflow/replyflow/internal/channel"
	"github.com/replyflow/replyflow/internal/channel/adapters/evolution"
	"github.com/replyflow/replyflow/internal/channel/adapters/meta"
	"github.com/replyflow/replyflow/internal/lead"
	"github.com/replyflow/replyflow/internal/message"
	"github.com/replyflow/replyflow/internal/orchestrator"
	"github.com/replyflow/replyflow/internal/tenant"
)

// maxWebhookBody caps how much of an upstream payload is read.
const maxWebhookBody = 2 << 20

// ConnectionResolver maps provider identifiers onto tenant state.
type ConnectionResolver interface {
	GetConnectionByExternalID(ctx context.Context, provider, externalID string) (tenant.Connection, error)
	GetSettings(ctx context.Context, tenantID string) (tenant.AISettings, error)
	HasVerifyToken(ctx context.Context, provider, token string) (bool, error)
}

// LeadResolver finds or creates leads and their conversation threads.
type LeadResolver interface {
	Resolve(ctx context.Context, tenantID, phone, displayName string) (lead.Lead, error)
	ResolveConversation(ctx context.Context, l lead.Lead) (lead.Conversation, error)
	Touch(ctx context.Context, leadID, lastMessage string, at time.Time) error
}

// MediaResolver turns audio and image events into text.
type MediaResolver interface {
	Resolve(ctx context.Context, ev channel.InboundEvent, accessToken string) string
}

// Responder runs the AI reply sequence.
type Responder interface {
	Respond(ctx context.Context, req orchestrator.Request) (orchestrator.Outcome, error)
}

// Learner consumes human agent replies for passive learning.
type Learner interface {
	ProcessAgentReply(ctx context.Context, tenantID, question, answer string) error
}

// MessageStore is the history read/write surface the pipeline needs.
type MessageStore interface {
	message.Writer
	message.Reader
}

// WebhookHandler receives provider webhooks and drives the inbound
// pipeline. Upstream always gets a 2xx: providers retry aggressively
// on anything else and the failure modes here are all local.
type WebhookHandler struct {
	registry    *channel.Registry
	connections ConnectionResolver
	leads       LeadResolver
	media       MediaResolver
	messages    MessageStore
	responder   Responder
	learner     Learner
	verifyToken string
	logger      *slog.Logger
}

func NewWebhookHandler(
	log *slog.Logger,
	registry *channel.Registry,
	connections ConnectionResolver,
	leads LeadResolver,
	media MediaResolver,
	messages MessageStore,
	responder Responder,
	learner Learner,
	verifyToken string,
) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		registry:    registry,
		connections: connections,
		leads:       leads,
		media:       media,
		messages:    messages,
		responder:   responder,
		learner:     learner,
		verifyToken: verifyToken,
		logger:      log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.GET("/webhooks/meta", h.VerifyMeta)
	e.POST("/webhooks/meta", h.ReceiveMeta)
	e.POST("/webhooks/evolution/:instance", h.ReceiveEvolution)
}

// VerifyMeta answers the Cloud API subscription handshake. The token
// must match either a provisioned connection or the global fallback.
func (h *WebhookHandler) VerifyMeta(c echo.Context) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode != "subscribe" || token == "" {
		return echo.NewHTTPError(http.StatusForbidden, "verification failed")
	}
	if token != h.verifyToken {
		ok, err := h.connections.HasVerifyToken(c.Request().Context(), meta.Provider, token)
		if err != nil {
			h.logger.Error("verify token lookup failed", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "verification unavailable")
		}
		if !ok {
			return echo.NewHTTPError(http.StatusForbidden, "verification failed")
		}
	}
	return c.String(http.StatusOK, challenge)
}

func (h *WebhookHandler) ReceiveMeta(c echo.Context) error {
	return h.receive(c, meta.Provider, "")
}

func (h *WebhookHandler) ReceiveEvolution(c echo.Context) error {
	return h.receive(c, evolution.Provider, c.Param("instance"))
}

func (h *WebhookHandler) receive(c echo.Context, provider, instance string) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn("webhook body read failed",
			slog.String("provider", provider),
			slog.Any("error", err),
		)
		return c.JSON(http.StatusOK, map[string]string{"status": "received"})
	}

	normalizer, err := h.registry.Get(provider)
	if err != nil {
		h.logger.Error("no normalizer registered", slog.String("provider", provider))
		return c.JSON(http.StatusOK, map[string]string{"status": "received"})
	}

	result := normalizer.Normalize(payload)
	if result.Ignored {
		h.logger.Debug("webhook ignored",
			slog.String("provider", provider),
			slog.String("reason", result.Reason),
		)
		return c.JSON(http.StatusOK, map[string]string{"status": "received"})
	}

	ctx := c.Request().Context()
	for _, ev := range result.Events {
		if ev.ConnectionExternalID == "" {
			ev.ConnectionExternalID = instance
		}
		if err := h.processEvent(ctx, provider, ev); err != nil {
			h.logger.Error("inbound event processing failed",
				slog.String("provider", provider),
				slog.String("external_id", ev.ExternalMessageID),
				slog.Any("error", err),
			)
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "received"})
}

func (h *WebhookHandler) processEvent(ctx context.Context, provider string, ev channel.InboundEvent) error {
	conn, err := h.connections.GetConnectionByExternalID(ctx, provider, ev.ConnectionExternalID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			h.logger.Warn("webhook for unknown connection",
				slog.String("provider", provider),
				slog.String("connection_external_id", ev.ConnectionExternalID),
			)
			return nil
		}
		return err
	}
	ev.TenantID = conn.TenantID
	ev.ConnectionID = conn.ID

	text := h.media.Resolve(ctx, ev, conn.AccessToken)
	if text == "" {
		h.logger.Debug("event resolved to empty content",
			slog.String("external_id", ev.ExternalMessageID),
		)
		return nil
	}

	l, err := h.leads.Resolve(ctx, ev.TenantID, ev.SenderPhone, ev.SenderDisplayName)
	if err != nil {
		return err
	}
	conv, err := h.leads.ResolveConversation(ctx, l)
	if err != nil {
		return err
	}

	if ev.FromAgent {
		return h.ingestAgentReply(ctx, ev, conv, text)
	}

	_, err = h.messages.Persist(ctx, message.PersistInput{
		ConversationID:    conv.ID,
		TenantID:          ev.TenantID,
		SenderType:        message.SenderLead,
		Content:           text,
		ExternalMessageID: ev.ExternalMessageID,
	})
	if err != nil {
		if errors.Is(err, message.ErrDuplicateMessage) {
			// Provider retry of an already-processed delivery.
			return nil
		}
		return err
	}
	if err := h.leads.Touch(ctx, l.ID, text, ev.OccurredAt); err != nil {
		h.logger.Warn("lead touch failed",
			slog.String("lead_id", l.ID),
			slog.Any("error", err),
		)
	}

	settings, err := h.connections.GetSettings(ctx, ev.TenantID)
	if err != nil {
		return err
	}
	outcome, err := h.responder.Respond(ctx, orchestrator.Request{
		TenantID:       ev.TenantID,
		ConversationID: conv.ID,
		LeadID:         l.ID,
		LeadName:       l.DisplayName,
		Settings:       settings,
		Connection:     &conn,
		UserText:       text,
		ReceivedAt:     ev.OccurredAt,
	})
	if err != nil {
		return err
	}
	if !outcome.Replied {
		h.logger.Info("no ai reply",
			slog.String("tenant_id", ev.TenantID),
			slog.String("reason", outcome.Reason),
		)
	}
	return nil
}

// ingestAgentReply persists a human agent message and feeds it, paired
// with the lead's last question, to the passive learner.
func (h *WebhookHandler) ingestAgentReply(ctx context.Context, ev channel.InboundEvent, conv lead.Conversation, text string) error {
	question := h.lastLeadQuestion(ctx, conv.ID)

	_, err := h.messages.Persist(ctx, message.PersistInput{
		ConversationID:    conv.ID,
		TenantID:          ev.TenantID,
		SenderType:        message.SenderAgent,
		Content:           text,
		ExternalMessageID: ev.ExternalMessageID,
	})
	if err != nil {
		if errors.Is(err, message.ErrDuplicateMessage) {
			return nil
		}
		return err
	}

	if h.learner != nil {
		if err := h.learner.ProcessAgentReply(ctx, ev.TenantID, question, text); err != nil {
			h.logger.Warn("passive learning failed",
				slog.String("tenant_id", ev.TenantID),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

func (h *WebhookHandler) lastLeadQuestion(ctx context.Context, conversationID string) string {
	history, err := h.messages.ListLatest(ctx, conversationID, 10)
	if err != nil {
		h.logger.Warn("history read failed",
			slog.String("conversation_id", conversationID),
			slog.Any("error", err),
		)
		return ""
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderType == message.SenderLead {
			return history[i].Content
		}
	}
	return ""
}
