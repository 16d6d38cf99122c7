package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/replyflow/replyflow/internal/auth"
	"github.com/replyflow/replyflow/internal/training"
)

// TrainingController exposes the human approval edges of the training
// lifecycle.
type TrainingController interface {
	GetStatus(ctx context.Context, tenantID string) (training.Status, error)
	Activate(ctx context.Context, tenantID string) error
	Pause(ctx context.Context, tenantID string) error
}

type TrainingHandler struct {
	svc    TrainingController
	logger *slog.Logger
}

func NewTrainingHandler(log *slog.Logger, svc TrainingController) *TrainingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &TrainingHandler{
		svc:    svc,
		logger: log.With(slog.String("handler", "training")),
	}
}

func (h *TrainingHandler) Register(e *echo.Echo) {
	e.GET("/api/training/status", h.Status)
	e.POST("/api/training/activate", h.Activate)
	e.POST("/api/training/pause", h.Pause)
}

type trainingStatusResponse struct {
	Status           string         `json:"status"`
	MessagesAnalyzed int            `json:"messages_analyzed"`
	CategoryCounts   map[string]int `json:"category_counts"`
}

func (h *TrainingHandler) Status(c echo.Context) error {
	identity, err := auth.IdentityFromContext(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetStatus(c.Request().Context(), identity.TenantID)
	if err != nil {
		h.logger.Error("training status load failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "training status unavailable")
	}
	return c.JSON(http.StatusOK, trainingStatusResponse{
		Status:           st.Status,
		MessagesAnalyzed: st.MessagesAnalyzed,
		CategoryCounts:   st.CategoryCounts,
	})
}

func (h *TrainingHandler) Activate(c echo.Context) error {
	return h.transition(c, h.svc.Activate)
}

func (h *TrainingHandler) Pause(c echo.Context) error {
	return h.transition(c, h.svc.Pause)
}

func (h *TrainingHandler) transition(c echo.Context, apply func(context.Context, string) error) error {
	identity, err := auth.IdentityFromContext(c)
	if err != nil {
		return err
	}
	if err := apply(c.Request().Context(), identity.TenantID); err != nil {
		if errors.Is(err, training.ErrInvalidTransition) {
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		h.logger.Error("training transition failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "training transition failed")
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
