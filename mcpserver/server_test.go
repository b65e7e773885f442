package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/sqlbox/config"
	"github.com/isdmx/sqlbox/grading"
	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
	"github.com/isdmx/sqlbox/sandbox"
)

// MockProvisioner implements SandboxProvisioner for testing
type MockProvisioner struct {
	identities []string
	sandbox    *sandbox.Sandbox
	err        error
}

func (m *MockProvisioner) EnsureSandbox(_ context.Context, identityID, _ string) (*sandbox.Sandbox, error) {
	m.identities = append(m.identities, identityID)
	return m.sandbox, m.err
}

// MockRunner implements QueryRunner for testing
type MockRunner struct {
	result *result.Result
	err    error
	sql    string
}

func (m *MockRunner) Execute(_ context.Context, _, _, sql string) (*result.Result, error) {
	m.sql = sql
	return m.result, m.err
}

// MockGrader implements SubmissionGrader for testing
type MockGrader struct {
	outcome *grading.Outcome
	err     error
}

func (m *MockGrader) Grade(context.Context, string, string, string) (*grading.Outcome, error) {
	return m.outcome, m.err
}

func testConfig() *config.Config {
	return &config.Config{
		Server:  config.ServerConfig{Transport: "stdio", HTTPPort: 8080},
		Sandbox: config.SandboxConfig{TimeoutMS: 5000, SchemaPrefix: "sb", MaxIdentifierLength: 63},
		Logging: config.LoggingConfig{Mode: "production", Level: "info"},
	}
}

func newTestServer(t *testing.T, p *MockProvisioner, r *MockRunner, g *MockGrader) *MCPServer {
	t.Helper()
	s, err := New(testConfig(), zaptest.NewLogger(t), p, r, g)
	require.NoError(t, err)
	return s
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])
	return text.Text
}

func TestNewMCPServer(t *testing.T) {
	p, r, g := &MockProvisioner{}, &MockRunner{}, &MockGrader{}
	server := newTestServer(t, p, r, g)
	require.NotNil(t, server)
	assert.Equal(t, p, server.provisioner)
	assert.Equal(t, r, server.runner)
	assert.Equal(t, g, server.grader)
	assert.NotNil(t, server.GetMCPServer())
	assert.NoError(t, server.Shutdown(context.Background()), "no HTTP transport to stop")
}

func TestHandleEnsureSandbox(t *testing.T) {
	t.Run("GeneratesIdentity", func(t *testing.T) {
		p := &MockProvisioner{sandbox: &sandbox.Sandbox{Namespace: "sb_x_first_name_0123456789ab", Created: true}}
		server := newTestServer(t, p, &MockRunner{}, &MockGrader{})

		res, err := server.handleEnsureSandbox(context.Background(),
			callRequest(ToolEnsureSandbox, map[string]any{"problem_id": "first-name"}))
		require.NoError(t, err)
		assert.False(t, res.IsError)

		var resp ensureSandboxResponse
		require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &resp))
		assert.True(t, resp.Created)
		assert.Equal(t, "first-name", resp.ProblemID)
		assert.Equal(t, "sb_x_first_name_0123456789ab", resp.Namespace)
		require.Len(t, p.identities, 1)
		assert.Len(t, resp.IdentityID, 36)
		assert.Equal(t, p.identities[0], resp.IdentityID)
	})

	t.Run("KeepsIdentity", func(t *testing.T) {
		p := &MockProvisioner{sandbox: &sandbox.Sandbox{Namespace: "sb_a"}}
		server := newTestServer(t, p, &MockRunner{}, &MockGrader{})

		res, err := server.handleEnsureSandbox(context.Background(),
			callRequest(ToolEnsureSandbox, map[string]any{"problem_id": "first-name", "identity_id": "learner-1"}))
		require.NoError(t, err)
		assert.Contains(t, resultText(t, res), `"identity_id":"learner-1"`)
		assert.Contains(t, resultText(t, res), `"created":false`)
	})

	t.Run("MissingProblem", func(t *testing.T) {
		server := newTestServer(t, &MockProvisioner{}, &MockRunner{}, &MockGrader{})
		_, err := server.handleEnsureSandbox(context.Background(), callRequest(ToolEnsureSandbox, map[string]any{}))
		assert.Error(t, err)
	})

	t.Run("UnknownProblem", func(t *testing.T) {
		p := &MockProvisioner{err: fmt.Errorf("load problem: %w", problem.ErrNotFound)}
		server := newTestServer(t, p, &MockRunner{}, &MockGrader{})

		res, err := server.handleEnsureSandbox(context.Background(),
			callRequest(ToolEnsureSandbox, map[string]any{"problem_id": "nope"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "NOT_FOUND: Problem not found", resultText(t, res))
	})

	t.Run("ProvisioningFailureHidesDriverText", func(t *testing.T) {
		p := &MockProvisioner{err: fmt.Errorf("%w: create tables: dial tcp 10.0.0.5:5432", sandbox.ErrProvisioning)}
		server := newTestServer(t, p, &MockRunner{}, &MockGrader{})

		res, err := server.handleEnsureSandbox(context.Background(),
			callRequest(ToolEnsureSandbox, map[string]any{"problem_id": "first-name"}))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.NotContains(t, resultText(t, res), "10.0.0.5")
		assert.Contains(t, resultText(t, res), "PROVISIONING_ERROR")
	})
}

func TestHandleRunQuery(t *testing.T) {
	args := map[string]any{"identity_id": "learner-1", "problem_id": "first-name", "sql": "SELECT name FROM users"}

	t.Run("Success", func(t *testing.T) {
		r := &MockRunner{result: result.New([]string{"name"}, [][]any{{"Ann"}}, 12*time.Millisecond)}
		server := newTestServer(t, &MockProvisioner{}, r, &MockGrader{})

		res, err := server.handleRunQuery(context.Background(), callRequest(ToolRunQuery, args))
		require.NoError(t, err)
		assert.False(t, res.IsError)
		assert.JSONEq(t, `{"columns":["name"],"rows":[{"name":"Ann"}],"row_count":1,"elapsed_ms":12}`, resultText(t, res))
		assert.Equal(t, "SELECT name FROM users", r.sql)
	})

	t.Run("EmptyResult", func(t *testing.T) {
		r := &MockRunner{result: result.New([]string{"name"}, nil, 0)}
		server := newTestServer(t, &MockProvisioner{}, r, &MockGrader{})

		res, err := server.handleRunQuery(context.Background(), callRequest(ToolRunQuery, args))
		require.NoError(t, err)
		assert.JSONEq(t, `{"columns":["name"],"rows":[],"row_count":0,"elapsed_ms":0}`, resultText(t, res))
	})

	t.Run("ExecutionError", func(t *testing.T) {
		r := &MockRunner{err: &sandbox.ExecutionError{Kind: sandbox.KindTimeout, Message: "Query execution exceeded the time limit (5s)"}}
		server := newTestServer(t, &MockProvisioner{}, r, &MockGrader{})

		res, err := server.handleRunQuery(context.Background(), callRequest(ToolRunQuery, args))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "TIMEOUT: Query execution exceeded the time limit (5s)", resultText(t, res))
	})

	t.Run("MissingSQL", func(t *testing.T) {
		server := newTestServer(t, &MockProvisioner{}, &MockRunner{}, &MockGrader{})
		_, err := server.handleRunQuery(context.Background(),
			callRequest(ToolRunQuery, map[string]any{"identity_id": "learner-1", "problem_id": "first-name"}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "sql parameter is required")
	})
}

func TestHandleGradeSubmission(t *testing.T) {
	args := map[string]any{"identity_id": "learner-1", "problem_id": "count-users", "sql": "SELECT COUNT(*) FROM users WHERE id = 2"}

	t.Run("Failed", func(t *testing.T) {
		g := &MockGrader{outcome: &grading.Outcome{Passed: false, RowCount: 1, Elapsed: 3 * time.Millisecond, Reason: "Expected count 1 but got 0"}}
		server := newTestServer(t, &MockProvisioner{}, &MockRunner{}, g)

		res, err := server.handleGradeSubmission(context.Background(), callRequest(ToolGradeSubmission, args))
		require.NoError(t, err)
		assert.False(t, res.IsError, "a wrong answer is not a tool error")
		assert.JSONEq(t, `{"passed":false,"row_count":1,"elapsed_ms":3,"reason":"Expected count 1 but got 0"}`, resultText(t, res))
	})

	t.Run("Passed", func(t *testing.T) {
		g := &MockGrader{outcome: &grading.Outcome{Passed: true, RowCount: 1}}
		server := newTestServer(t, &MockProvisioner{}, &MockRunner{}, g)

		res, err := server.handleGradeSubmission(context.Background(), callRequest(ToolGradeSubmission, args))
		require.NoError(t, err)
		assert.JSONEq(t, `{"passed":true,"row_count":1,"elapsed_ms":0}`, resultText(t, res))
	})

	t.Run("ExecutionError", func(t *testing.T) {
		g := &MockGrader{err: &sandbox.ExecutionError{Kind: sandbox.KindSandboxMissing, Message: "Sandbox not found for this problem", Details: "Please initialize the sandbox first"}}
		server := newTestServer(t, &MockProvisioner{}, &MockRunner{}, g)

		res, err := server.handleGradeSubmission(context.Background(), callRequest(ToolGradeSubmission, args))
		require.NoError(t, err)
		assert.True(t, res.IsError)
		assert.Equal(t, "SANDBOX_NOT_FOUND: Sandbox not found for this problem - Please initialize the sandbox first", resultText(t, res))
	})
}
