package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replyflow/replyflow/internal/auth"
	"github.com/replyflow/replyflow/internal/orchestrator"
	"github.com/replyflow/replyflow/internal/tenant"
)

// Dispatcher runs dashboard tasks.
type Dispatcher interface {
	Dispatch(ctx context.Context, req orchestrator.DispatchRequest) (orchestrator.Outcome, error)
}

// SettingsReader loads tenant automation settings and connections for
// dashboard-triggered work.
type SettingsReader interface {
	GetSettings(ctx context.Context, tenantID string) (tenant.AISettings, error)
	GetConnection(ctx context.Context, connectionID string) (tenant.Connection, error)
}

type DispatchHandler struct {
	dispatcher Dispatcher
	tenants    SettingsReader
	logger     *slog.Logger
}

func NewDispatchHandler(log *slog.Logger, dispatcher Dispatcher, tenants SettingsReader) *DispatchHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DispatchHandler{
		dispatcher: dispatcher,
		tenants:    tenants,
		logger:     log.With(slog.String("handler", "dispatch")),
	}
}

func (h *DispatchHandler) Register(e *echo.Echo) {
	e.POST("/api/dispatch", h.Dispatch)
}

type dispatchRequest struct {
	Task           string `json:"task"`
	ConversationID string `json:"conversation_id"`
	ConnectionID   string `json:"connection_id"`
	Text           string `json:"text"`
}

type dispatchResponse struct {
	Replied bool   `json:"replied"`
	Reason  string `json:"reason,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (h *DispatchHandler) Dispatch(c echo.Context) error {
	identity, err := auth.IdentityFromContext(c)
	if err != nil {
		return err
	}

	var req dispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Task == "" || req.ConversationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "task and conversation_id are required")
	}

	ctx := c.Request().Context()
	settings, err := h.tenants.GetSettings(ctx, identity.TenantID)
	if err != nil {
		h.logger.Error("settings load failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "settings unavailable")
	}

	var conn *tenant.Connection
	connectionID := req.ConnectionID
	if connectionID == "" {
		connectionID = settings.ConnectionID
	}
	if connectionID != "" {
		loaded, err := h.tenants.GetConnection(ctx, connectionID)
		if err != nil && !errors.Is(err, tenant.ErrNotFound) {
			h.logger.Error("connection load failed", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusInternalServerError, "connection unavailable")
		}
		if err == nil {
			if loaded.TenantID != identity.TenantID {
				return echo.NewHTTPError(http.StatusForbidden, "connection belongs to another tenant")
			}
			conn = &loaded
		}
	}

	outcome, err := h.dispatcher.Dispatch(ctx, orchestrator.DispatchRequest{
		Task:           req.Task,
		TenantID:       identity.TenantID,
		ConversationID: req.ConversationID,
		Settings:       settings,
		Connection:     conn,
		UserText:       req.Text,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrUnknownTask) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("dispatch failed",
			slog.String("task", req.Task),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusInternalServerError, "task failed")
	}
	return c.JSON(http.StatusOK, dispatchResponse{
		Replied: outcome.Replied,
		Reason:  outcome.Reason,
		Text:    outcome.Text,
	})
}
