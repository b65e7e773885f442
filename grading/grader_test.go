package grading

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
)

type stubExecutor struct {
	res   *result.Result
	err   error
	calls int
}

func (s *stubExecutor) Execute(_ context.Context, _, _, _ string) (*result.Result, error) {
	s.calls++
	return s.res, s.err
}

func usersProblem(id string, expected problem.ExpectedOutput) *problem.Problem {
	return &problem.Problem{
		ID: id,
		Tables: []problem.Table{{
			Name:    "users",
			Columns: []problem.Column{{Name: "id", Type: "int"}, {Name: "name", Type: "text"}},
			Rows:    []map[string]any{{"id": 1, "name": "Ann"}},
		}},
		Expected: expected,
	}
}

func newCatalog(t *testing.T) problem.Catalog {
	t.Helper()
	cat, err := problem.NewMemoryCatalog(
		usersProblem("name", problem.ExpectedOutput{Kind: problem.KindSingleValue, Value: "Ann"}),
		usersProblem("count", problem.ExpectedOutput{Kind: problem.KindCount, Value: 1}),
	)
	require.NoError(t, err)
	return cat
}

func TestGrade(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	t.Run("SingleValuePasses", func(t *testing.T) {
		exec := &stubExecutor{res: result.New([]string{"name"}, [][]any{{"Ann"}}, 3*time.Millisecond)}
		out, err := NewGrader(exec, newCatalog(t), logger).Grade(ctx, "learner", "name", "SELECT name FROM users WHERE id = 1")
		require.NoError(t, err)
		assert.True(t, out.Passed)
		assert.Empty(t, out.Reason)
		assert.Equal(t, 1, out.RowCount)
		assert.Equal(t, 3*time.Millisecond, out.Elapsed)
	})

	t.Run("CountMismatchIsNotAnError", func(t *testing.T) {
		exec := &stubExecutor{res: result.New([]string{"count"}, [][]any{{int64(0)}}, time.Millisecond)}
		out, err := NewGrader(exec, newCatalog(t), logger).Grade(ctx, "learner", "count", "SELECT COUNT(*) FROM users WHERE id = 2")
		require.NoError(t, err)
		assert.False(t, out.Passed)
		assert.Contains(t, out.Reason, "1")
		assert.Contains(t, out.Reason, "0")
	})

	t.Run("ExecutionErrorPropagatesUnchanged", func(t *testing.T) {
		execErr := errors.New("TIMEOUT: too slow")
		exec := &stubExecutor{err: execErr}
		out, err := NewGrader(exec, newCatalog(t), logger).Grade(ctx, "learner", "name", "SELECT 1")
		assert.Nil(t, out)
		assert.Same(t, execErr, err)
	})

	t.Run("UnknownProblem", func(t *testing.T) {
		exec := &stubExecutor{res: result.New([]string{"x"}, nil, 0)}
		_, err := NewGrader(exec, newCatalog(t), logger).Grade(ctx, "learner", "missing", "SELECT 1")
		assert.ErrorIs(t, err, problem.ErrNotFound)
	})
}
