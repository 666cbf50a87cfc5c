package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"insight-orchestrator/internal/domain"
	"insight-orchestrator/internal/infra/logger"
	"insight-orchestrator/internal/period"
	"insight-orchestrator/internal/usecase"

	"github.com/labstack/echo/v4"
)

// Handler exposes the insight lifecycle over HTTP. Every route resolves a
// (client, metric, period) key to its controller and translates the intent;
// the controller owns all state, the handler owns none.
type Handler struct {
	registry *usecase.Registry
	logger   *slog.Logger
	ctxLog   *logger.ContextLogger
	// now is swapped in tests to pin period canonicalization.
	now func() time.Time
}

func NewHandler(registry *usecase.Registry, log *slog.Logger) *Handler {
	return &Handler{
		registry: registry,
		logger:   log,
		ctxLog:   logger.NewContextLogger("insight-orchestrator"),
		now:      time.Now,
	}
}

// insightContext propagates the request's business identity into the Go
// context so downstream logs correlate per key.
func (h *Handler) insightContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		ctx = logger.WithClientID(ctx, c.Param("clientId"))
		ctx = logger.WithMetric(ctx, c.Param("metric"))
		if p := c.QueryParam("period"); p != "" {
			ctx = logger.WithPeriod(ctx, p)
		}
		c.SetRequest(c.Request().WithContext(ctx))

		h.ctxLog.WithContext(ctx).Debug("insight_request",
			slog.String("method", c.Request().Method),
			slog.String("path", c.Path()))
		return next(c)
	}
}

// RegisterRoutes wires the insight routes onto the echo instance.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	insights := e.Group("/v1/insights/:clientId/:metric", h.insightContext)
	insights.POST("/generate", h.Generate)
	insights.POST("/regenerate", h.Regenerate)
	insights.POST("/regenerate-with-context", h.RegenerateWithContext)
	insights.POST("/dismiss-error", h.DismissError)
	insights.DELETE("", h.Delete)
	insights.GET("/snapshot", h.Snapshot)
	insights.GET("/reveal", h.Reveal)

	e.POST("/v1/clients/:clientId/activate", h.Activate)
}

type generateRequest struct {
	TimePeriod  string                  `json:"timePeriod"`
	MetricData  domain.MetricComparison `json:"metricData"`
	UserContext string                  `json:"userContext,omitempty"`
}

func (h *Handler) keyFromPath(ctx echo.Context, rawPeriod string) domain.Key {
	return domain.Key{
		ClientID: ctx.Param("clientId"),
		Metric:   ctx.Param("metric"),
		Period:   period.Canonicalize(rawPeriod, h.now()),
	}
}

func (h *Handler) controller(ctx echo.Context, rawPeriod string) (*usecase.Controller, error) {
	key := h.keyFromPath(ctx, rawPeriod)
	if key.ClientID == "" || key.Metric == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "clientId and metric are required")
	}
	ctrl, err := h.registry.Controller(key)
	if err != nil {
		if errors.Is(err, usecase.ErrInactiveClient) {
			return nil, echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("client %s is not active", key.ClientID))
		}
		return nil, err
	}
	return ctrl, nil
}

// Generate requests a fresh narrative for the metric.
// (POST /v1/insights/:clientId/:metric/generate)
func (h *Handler) Generate(ctx echo.Context) error {
	var req generateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	ctrl, err := h.controller(ctx, req.TimePeriod)
	if err != nil {
		return err
	}
	if err := ctrl.Generate(req.MetricData); err != nil {
		return intentError(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// Regenerate re-runs generation, reusing any saved user context for the
// metric. The context lookup happens inside the controller so a concurrent
// delete can still discard its result.
// (POST /v1/insights/:clientId/:metric/regenerate)
func (h *Handler) Regenerate(ctx echo.Context) error {
	var req generateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	ctrl, err := h.controller(ctx, req.TimePeriod)
	if err != nil {
		return err
	}
	if err := ctrl.Regenerate(req.MetricData); err != nil {
		return intentError(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// RegenerateWithContext submits user-supplied context alongside the
// generation request.
// (POST /v1/insights/:clientId/:metric/regenerate-with-context)
func (h *Handler) RegenerateWithContext(ctx echo.Context) error {
	var req generateRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if req.UserContext == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing userContext"})
	}

	ctrl, err := h.controller(ctx, req.TimePeriod)
	if err != nil {
		return err
	}
	if err := ctrl.RegenerateWithContext(req.MetricData, req.UserContext); err != nil {
		return intentError(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// Delete removes the insight optimistically and confirms with the backend.
// (DELETE /v1/insights/:clientId/:metric?period=...)
func (h *Handler) Delete(ctx echo.Context) error {
	ctrl, err := h.controller(ctx, ctx.QueryParam("period"))
	if err != nil {
		return err
	}
	if err := ctrl.Delete(); err != nil {
		return intentError(ctx, err)
	}
	return ctx.JSON(http.StatusAccepted, ctrl.Snapshot())
}

// DismissError clears a surfaced failure message.
// (POST /v1/insights/:clientId/:metric/dismiss-error)
func (h *Handler) DismissError(ctx echo.Context) error {
	ctrl, err := h.controller(ctx, ctx.QueryParam("period"))
	if err != nil {
		return err
	}
	ctrl.DismissError()
	return ctx.JSON(http.StatusOK, ctrl.Snapshot())
}

// Snapshot returns the controller's current exposed state.
// (GET /v1/insights/:clientId/:metric/snapshot?period=...)
func (h *Handler) Snapshot(ctx echo.Context) error {
	ctrl, err := h.controller(ctx, ctx.QueryParam("period"))
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, ctrl.Snapshot())
}

// revealPollInterval paces the SSE stream. It is finer than the animator
// tick so no partial state is skipped.
const revealPollInterval = 15 * time.Millisecond

// Reveal streams partial-text snapshots as server-sent events until the
// reveal completes or the phase changes. A controller that is not revealing
// yields exactly one terminal event.
// (GET /v1/insights/:clientId/:metric/reveal?period=...)
func (h *Handler) Reveal(ctx echo.Context) error {
	ctrl, err := h.controller(ctx, ctx.QueryParam("period"))
	if err != nil {
		return err
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	ticker := time.NewTicker(revealPollInterval)
	defer ticker.Stop()

	var lastChars = -1
	for {
		snap := ctrl.Snapshot()

		changed := true
		if snap.Phase == usecase.PhaseRevealing && snap.Progress != nil {
			changed = snap.Progress.Chars != lastChars
			lastChars = snap.Progress.Chars
		}
		if changed {
			if err := writeSSE(res, snap); err != nil {
				return nil
			}
		}
		if snap.Phase != usecase.PhaseRevealing {
			return nil
		}

		select {
		case <-ctx.Request().Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

func writeSSE(res *echo.Response, snap usecase.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "data: %s\n\n", payload); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// Activate switches the active client.
// (POST /v1/clients/:clientId/activate)
func (h *Handler) Activate(ctx echo.Context) error {
	clientID := ctx.Param("clientId")
	if clientID == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "missing clientId"})
	}
	h.registry.Activate(clientID)
	return ctx.JSON(http.StatusOK, map[string]string{"activeClient": clientID})
}

// intentError maps controller errors onto HTTP statuses. Gateway failures
// never reach here; they surface asynchronously through the snapshot. Every
// rejected intent is a state conflict, not a server fault.
func intentError(ctx echo.Context, err error) error {
	if errors.Is(err, domain.ErrOperationInFlight) {
		return ctx.JSON(http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	}
	return ctx.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
}
