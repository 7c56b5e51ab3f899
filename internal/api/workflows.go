package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"theological-agent/internal/auth"
	"theological-agent/pkg/models"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

// RegisterHandlers mounts the analysis and review routes. When requireAuth is
// not nil the review routes require it plus the matching review scope.
func RegisterHandlers(e *echo.Echo, h *Handler, requireAuth echo.MiddlewareFunc) {
	e.GET("/health", h.HandleHealth)
	e.POST("/analyze", h.Analyze)

	reviews := e.Group("/hitl")
	read, approve := noScope, noScope
	if requireAuth != nil {
		reviews.Use(requireAuth)
		read = echo.WrapMiddleware(auth.RequireScope(auth.ScopeReviewRead))
		approve = echo.WrapMiddleware(auth.RequireScope(auth.ScopeReviewApprove))
	}
	reviews.GET("/pending", h.ListPending, read)
	reviews.GET("/:run_id", h.GetReview, read)
	reviews.POST("/:run_id/approve", h.Approve, approve)
}

func noScope(next echo.HandlerFunc) echo.HandlerFunc { return next }

// Analyze runs an analysis
// (POST /analyze)
//
// A run paused for human review answers 202 Accepted with hitl_status
// "pending"; every other success answers 200.
func (h *Handler) Analyze(c echo.Context) error {
	var req models.AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}

	resp, err := h.service.Analyze(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if resp.Pending() {
		return c.JSON(http.StatusAccepted, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// ListPending returns the reviews awaiting approval
// (GET /hitl/pending?limit=N)
func (h *Handler) ListPending(c echo.Context) error {
	limit := defaultPendingLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxPendingLimit {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxPendingLimit))
		}
		limit = n
	}

	reviews, err := h.service.PendingReviews(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.PendingFromReviews(reviews))
}

// GetReview returns every persisted field of a review
// (GET /hitl/:run_id)
func (h *Handler) GetReview(c echo.Context) error {
	review, err := h.service.Review(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, models.DetailFromReview(review))
}

// Approve resolves a pending review and returns the synthesized analysis
// (POST /hitl/:run_id/approve)
func (h *Handler) Approve(c echo.Context) error {
	var req models.ApproveRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
		}
	}

	ctx := c.Request().Context()
	reviewer, _ := auth.ReviewerFromContext(ctx)
	resp, err := h.service.Approve(ctx, c.Param("run_id"), req.EditedContent, reviewer)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}
