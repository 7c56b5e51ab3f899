// Package api contains the HTTP handlers of the analysis service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"theological-agent/internal/hitl"
	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
	"theological-agent/internal/services"
	"theological-agent/pkg/models"
)

const serviceName = "theological-agent"

// AnalysisService is the use-case surface served over HTTP.
type AnalysisService interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error)
	Approve(ctx context.Context, runID string, edited *string, reviewer string) (*models.AnalyzeResponse, error)
	PendingReviews(ctx context.Context, limit int) ([]*repository.Review, error)
	Review(ctx context.Context, runID string) (*repository.Review, error)
}

// Pinger checks a backing dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers for the analysis REST API
type Handler struct {
	service AnalysisService
	db      Pinger
	version string
	started time.Time
	logger  *logging.Logger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(service AnalysisService, db Pinger, version string, logger *logging.Logger) *Handler {
	return &Handler{
		service: service,
		db:      db,
		version: version,
		started: time.Now(),
		logger:  logger,
	}
}

// HandleHealth reports service health. The status turns "degraded" when the
// database ping fails; the response code stays 200.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "healthy",
		Service:   serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{"database": "connected"},
	}
	if h.db != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			h.logger.Warn("health_db_unreachable", "error", err)
			status.Status = "degraded"
			status.Checks["database"] = "disconnected"
		}
	}
	return c.JSON(http.StatusOK, status)
}

// ErrorHandler renders every error as an RFC 7807 Problem Details document.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		problem := problemFor(err)
		problem.Instance = c.Request().URL.Path
		if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
			problem.TraceID = sc.TraceID().String()
		}
		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request_failed", "path", problem.Instance, "run_id", problem.RunID, "error", err)
		}
		if werr := writeProblem(c, problem); werr != nil {
			logger.Error("write_problem_failed", "error", werr)
		}
	}
}

func problemFor(err error) models.ProblemDetails {
	var (
		verr    *models.ValidationError
		runErr  *services.RunError
		httpErr *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		return newProblem(http.StatusBadRequest, verr.Error())
	case errors.Is(err, hitl.ErrReviewNotFound):
		return newProblem(http.StatusNotFound, err.Error())
	case errors.Is(err, hitl.ErrReviewResolved):
		return newProblem(http.StatusConflict, err.Error())
	case errors.As(err, &runErr):
		p := newProblem(http.StatusInternalServerError, runErr.Error())
		p.RunID = runErr.RunID
		return p
	case errors.As(err, &httpErr):
		detail := http.StatusText(httpErr.Code)
		if msg, ok := httpErr.Message.(string); ok {
			detail = msg
		}
		return newProblem(httpErr.Code, detail)
	default:
		return newProblem(http.StatusInternalServerError, "internal server error")
	}
}

func newProblem(status int, detail string) models.ProblemDetails {
	return models.ProblemDetails{
		Type:   "about:blank",
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// writeProblem writes an RFC 7807 Problem Details JSON error response
func writeProblem(c echo.Context, problem models.ProblemDetails) error {
	if c.Request().Method == http.MethodHead {
		return c.NoContent(problem.Status)
	}
	body, err := json.Marshal(problem)
	if err != nil {
		return err
	}
	return c.Blob(problem.Status, "application/problem+json", body)
}
