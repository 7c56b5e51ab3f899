// Package mcp exposes the analysis service as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"theological-agent/internal/auth"
	"theological-agent/internal/hitl"
	"theological-agent/internal/logging"
	"theological-agent/internal/repository"
	"theological-agent/pkg/models"
)

// AnalysisService is the use-case surface exposed as tools.
type AnalysisService interface {
	Analyze(ctx context.Context, req models.AnalyzeRequest) (*models.AnalyzeResponse, error)
	Approve(ctx context.Context, runID string, edited *string, reviewer string) (*models.AnalyzeResponse, error)
	PendingReviews(ctx context.Context, limit int) ([]*repository.Review, error)
	Review(ctx context.Context, runID string) (*repository.Review, error)
}

type Server struct {
	mcpServer *server.MCPServer
	service   AnalysisService
	logger    *logging.Logger
}

func NewServer(service AnalysisService, version string, logger *logging.Logger) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Theological Agent",
			version,
			server.WithToolCapabilities(true),
		),
		service: service,
		logger:  logger,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"analyze",
			mcp.WithDescription("Run a theological analysis of a biblical passage. High-risk results pause for human review."),
			mcp.WithString("book", mcp.Required(), mcp.Description("Book abbreviation, e.g. Sl")),
			mcp.WithNumber("chapter", mcp.Required(), mcp.Description("Chapter number")),
			mcp.WithArray("verses", mcp.Required(), mcp.Description("Verse numbers"), mcp.Items(map[string]any{"type": "integer"})),
			mcp.WithArray("selected_modules", mcp.Required(),
				mcp.Description("Modules to run: panorama, exegese, teologia"),
				mcp.Items(map[string]any{"type": "string", "enum": models.ValidModules})),
		),
		s.handleAnalyze,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_pending_reviews",
			mcp.WithDescription("List analyses awaiting human review"),
			mcp.WithNumber("limit", mcp.Description("Maximum number of reviews, default 50")),
		),
		s.handleListPending,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"get_review",
			mcp.WithDescription("Get the full content of a review"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id of the paused analysis")),
		),
		s.handleGetReview,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"approve_review",
			mcp.WithDescription("Approve a review, optionally replacing the validation content, and resume synthesis"),
			mcp.WithString("run_id", mcp.Required(), mcp.Description("The run id of the paused analysis")),
			mcp.WithString("edited_content", mcp.Description("Replacement validation content")),
			mcp.WithString("reviewer_email", mcp.Description("Reviewer identity when the session is not authenticated")),
		),
		s.handleApproveReview,
	)
}

func (s *Server) handleAnalyze(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	book, ok := args["book"].(string)
	if !ok || book == "" {
		return mcp.NewToolResultError("Missing required parameter: book"), nil
	}
	chapter, ok := args["chapter"].(float64)
	if !ok {
		return mcp.NewToolResultError("Missing required parameter: chapter"), nil
	}
	verses, err := intSlice(args["verses"])
	if err != nil {
		return mcp.NewToolResultError("Invalid parameter verses: " + err.Error()), nil
	}
	modules, err := stringSlice(args["selected_modules"])
	if err != nil {
		return mcp.NewToolResultError("Invalid parameter selected_modules: " + err.Error()), nil
	}

	resp, err := s.service.Analyze(ctx, models.AnalyzeRequest{
		Book:            book,
		Chapter:         int(chapter),
		Verses:          verses,
		SelectedModules: modules,
	})
	if err != nil {
		return s.toolError("Analysis failed", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) handleListPending(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	limit := 50
	if raw, ok := args["limit"].(float64); ok {
		if raw < 1 {
			return mcp.NewToolResultError("limit must be positive"), nil
		}
		limit = int(raw)
	}

	reviews, err := s.service.PendingReviews(ctx, limit)
	if err != nil {
		return s.toolError("Failed to list reviews", err), nil
	}
	return jsonResult(models.PendingFromReviews(reviews))
}

func (s *Server) handleGetReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}

	review, err := s.service.Review(ctx, runID)
	if err != nil {
		return s.toolError("Failed to get review", err), nil
	}
	return jsonResult(models.DetailFromReview(review))
}

func (s *Server) handleApproveReview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return mcp.NewToolResultError("Invalid arguments type"), nil
	}

	runID, ok := args["run_id"].(string)
	if !ok || runID == "" {
		return mcp.NewToolResultError("Missing required parameter: run_id"), nil
	}
	var edited *string
	if v, ok := args["edited_content"].(string); ok {
		edited = &v
	}
	reviewer, authenticated := auth.ReviewerFromContext(ctx)
	if !authenticated {
		reviewer, _ = args["reviewer_email"].(string)
	} else if !auth.HasScope(ctx, auth.ScopeReviewApprove) {
		return mcp.NewToolResultError("Missing scope " + auth.ScopeReviewApprove), nil
	}

	resp, err := s.service.Approve(ctx, runID, edited, reviewer)
	if err != nil {
		return s.toolError("Failed to approve review", err), nil
	}
	return jsonResult(resp)
}

func (s *Server) toolError(prefix string, err error) *mcp.CallToolResult {
	var verr *models.ValidationError
	if !errors.As(err, &verr) && !errors.Is(err, hitl.ErrReviewNotFound) && !errors.Is(err, hitl.ErrReviewResolved) {
		s.logger.Error("mcp_tool_failed", "error", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func intSlice(raw any) ([]int, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("expected an array of integers")
	}
	out := make([]int, 0, len(items))
	for _, item := range items {
		n, ok := item.(float64)
		if !ok || n != float64(int(n)) {
			return nil, fmt.Errorf("not an integer: %v", item)
		}
		out = append(out, int(n))
	}
	return out, nil
}

func stringSlice(raw any) ([]string, error) {
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New("expected an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("not a string: %v", item)
		}
		out = append(out, s)
	}
	return out, nil
}

// MountHTTPHandlers serves the MCP server over SSE under /mcp.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer, server.WithStaticBasePath("/mcp"))

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	// SSE endpoints
	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
