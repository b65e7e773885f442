package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/config"
	"github.com/isdmx/sqlbox/grading"
	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
	"github.com/isdmx/sqlbox/sandbox"
)

// SandboxProvisioner creates or reuses the sandbox of a pair.
type SandboxProvisioner interface {
	EnsureSandbox(ctx context.Context, identityID, problemID string) (*sandbox.Sandbox, error)
}

// QueryRunner executes a submission inside its sandbox.
type QueryRunner interface {
	Execute(ctx context.Context, identityID, problemID, sql string) (*result.Result, error)
}

// SubmissionGrader executes and grades a submission.
type SubmissionGrader interface {
	Grade(ctx context.Context, identityID, problemID, sql string) (*grading.Outcome, error)
}

// Tool names
const (
	ToolEnsureSandbox   = "ensure_sandbox"
	ToolRunQuery        = "run_query"
	ToolGradeSubmission = "grade_submission"
)

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	provisioner SandboxProvisioner
	runner      QueryRunner
	grader      SubmissionGrader
	mcpServer   *server.MCPServer

	mu         sync.Mutex
	httpServer *server.StreamableHTTPServer
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, provisioner SandboxProvisioner, runner QueryRunner, grader SubmissionGrader) (*MCPServer, error) {
	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		provisioner: provisioner,
		runner:      runner,
		grader:      grader,
	}

	logger.Info("configuration loaded",
		zap.String("server.transport", cfg.Server.Transport),
		zap.Int("server.http_port", cfg.Server.HTTPPort),
		zap.String("metastore.path", cfg.Metastore.Path),
		zap.String("problems.path", cfg.Problems.Path),
		zap.Int("sandbox.timeout_ms", cfg.Sandbox.TimeoutMS),
		zap.String("sandbox.schema_prefix", cfg.Sandbox.SchemaPrefix),
		zap.Int("sandbox.max_identifier_length", cfg.Sandbox.MaxIdentifierLength),
		zap.Bool("sandbox.parser_check", cfg.Sandbox.ParserCheck),
		zap.Float64("sandbox.rate_limit_per_sec", cfg.Sandbox.RateLimitPerSec),
		zap.String("lock.backend", cfg.Lock.Backend),
		zap.Bool("metrics.enabled", cfg.Metrics.Enabled),
	)

	s.mcpServer = server.NewMCPServer("sqlbox", "Sandboxed SQL execution and grading")

	s.registerEnsureSandboxTool()
	s.registerRunQueryTool()
	s.registerGradeSubmissionTool()

	return s, nil
}

func stringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

func (s *MCPServer) registerEnsureSandboxTool() {
	tool := mcp.Tool{
		Name:        ToolEnsureSandbox,
		Description: "Create the sandbox schema for a problem, or reuse the existing one",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"problem_id":  stringProperty("Problem identifier"),
				"identity_id": stringProperty("Opaque learner identity; generated when omitted"),
			},
			Required: []string{"problem_id"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleEnsureSandbox)
}

func (s *MCPServer) registerRunQueryTool() {
	tool := mcp.Tool{
		Name:        ToolRunQuery,
		Description: "Run a read-only SQL query inside the learner's sandbox",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"identity_id": stringProperty("Opaque learner identity"),
				"problem_id":  stringProperty("Problem identifier"),
				"sql":         stringProperty("A single SELECT or WITH statement"),
			},
			Required: []string{"identity_id", "problem_id", "sql"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunQuery)
}

func (s *MCPServer) registerGradeSubmissionTool() {
	tool := mcp.Tool{
		Name:        ToolGradeSubmission,
		Description: "Run a SQL submission and grade its output against the expected result",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"identity_id": stringProperty("Opaque learner identity"),
				"problem_id":  stringProperty("Problem identifier"),
				"sql":         stringProperty("A single SELECT or WITH statement"),
			},
			Required: []string{"identity_id", "problem_id", "sql"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleGradeSubmission)
}

type ensureSandboxResponse struct {
	IdentityID string `json:"identity_id"`
	ProblemID  string `json:"problem_id"`
	Namespace  string `json:"namespace"`
	Created    bool   `json:"created"`
}

type queryResponse struct {
	Columns   []string     `json:"columns"`
	Rows      []result.Row `json:"rows"`
	RowCount  int          `json:"row_count"`
	ElapsedMS int64        `json:"elapsed_ms"`
}

type gradeResponse struct {
	Passed    bool   `json:"passed"`
	RowCount  int    `json:"row_count"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Reason    string `json:"reason,omitempty"`
}

func (s *MCPServer) handleEnsureSandbox(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	problemID, err := request.RequireString("problem_id")
	if err != nil {
		return nil, fmt.Errorf("problem_id parameter is required: %w", err)
	}
	identityID := request.GetString("identity_id", "")
	if identityID == "" {
		identityID = uuid.NewString()
	}

	sb, err := s.provisioner.EnsureSandbox(ctx, identityID, problemID)
	if err != nil {
		s.logger.Error("sandbox provisioning failed",
			zap.Error(err),
			zap.String("identity_id", identityID),
			zap.String("problem_id", problemID))
		return errorResult(err), nil
	}

	return jsonResult(ensureSandboxResponse{
		IdentityID: identityID,
		ProblemID:  problemID,
		Namespace:  sb.Namespace,
		Created:    sb.Created,
	})
}

func requireSubmission(request mcp.CallToolRequest) (identityID, problemID, sql string, err error) {
	if identityID, err = request.RequireString("identity_id"); err != nil {
		return "", "", "", fmt.Errorf("identity_id parameter is required: %w", err)
	}
	if problemID, err = request.RequireString("problem_id"); err != nil {
		return "", "", "", fmt.Errorf("problem_id parameter is required: %w", err)
	}
	if sql, err = request.RequireString("sql"); err != nil {
		return "", "", "", fmt.Errorf("sql parameter is required: %w", err)
	}
	return identityID, problemID, sql, nil
}

func (s *MCPServer) handleRunQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identityID, problemID, sql, err := requireSubmission(request)
	if err != nil {
		return nil, err
	}

	res, err := s.runner.Execute(ctx, identityID, problemID, sql)
	if err != nil {
		return errorResult(err), nil
	}

	rows := res.Rows
	if rows == nil {
		rows = []result.Row{}
	}
	return jsonResult(queryResponse{
		Columns:   res.Columns,
		Rows:      rows,
		RowCount:  res.RowCount,
		ElapsedMS: res.Elapsed.Milliseconds(),
	})
}

func (s *MCPServer) handleGradeSubmission(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	identityID, problemID, sql, err := requireSubmission(request)
	if err != nil {
		return nil, err
	}

	outcome, err := s.grader.Grade(ctx, identityID, problemID, sql)
	if err != nil {
		return errorResult(err), nil
	}

	return jsonResult(gradeResponse{
		Passed:    outcome.Passed,
		RowCount:  outcome.RowCount,
		ElapsedMS: outcome.Elapsed.Milliseconds(),
		Reason:    outcome.Reason,
	})
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(b),
			},
		},
	}, nil
}

// errorText renders err for callers. Only classified failures carry their
// own text; anything else is reduced to a fixed message.
func errorText(err error) string {
	var execErr *sandbox.ExecutionError
	switch {
	case errors.As(err, &execErr):
		return execErr.Error()
	case errors.Is(err, problem.ErrNotFound):
		return "NOT_FOUND: Problem not found"
	case errors.Is(err, sandbox.ErrProvisioning):
		return "PROVISIONING_ERROR: Failed to provision sandbox"
	default:
		return "INTERNAL_ERROR: Request failed"
	}
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: errorText(err),
			},
		},
		IsError: true,
	}
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	s.mu.Lock()
	s.httpServer = httpServer
	s.mu.Unlock()
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// Shutdown stops the HTTP transport if it is running.
func (s *MCPServer) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.mu.Unlock()
	if httpServer == nil {
		return nil
	}
	return httpServer.Shutdown(ctx)
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
