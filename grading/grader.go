package grading

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/metrics"
	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/result"
)

// Executor runs a submission in the caller's sandbox.
type Executor interface {
	Execute(ctx context.Context, identityID, problemID, sql string) (*result.Result, error)
}

// Outcome is the graded verdict of one submission.
type Outcome struct {
	Passed   bool
	Elapsed  time.Duration
	RowCount int
	Reason   string
}

// Grader executes submissions and compares them with the expected output.
type Grader struct {
	executor Executor
	catalog  problem.Catalog
	logger   *zap.Logger
}

// NewGrader creates a Grader.
func NewGrader(executor Executor, catalog problem.Catalog, logger *zap.Logger) *Grader {
	return &Grader{
		executor: executor,
		catalog:  catalog,
		logger:   logger,
	}
}

// Grade runs sql for the (identityID, problemID) sandbox and grades it.
// Execution errors are returned unchanged; a result that does not match is
// a failed Outcome, not an error.
func (g *Grader) Grade(ctx context.Context, identityID, problemID, sql string) (*Outcome, error) {
	res, err := g.executor.Execute(ctx, identityID, problemID, sql)
	if err != nil {
		return nil, err
	}

	p, err := g.catalog.Problem(ctx, problemID)
	if err != nil {
		return nil, fmt.Errorf("failed to load problem: %w", err)
	}

	expected, err := NormalizeExpected(p.Expected)
	if err != nil {
		return nil, fmt.Errorf("problem %s has an invalid expected output: %w", problemID, err)
	}

	cmp := Compare(NormalizeResult(res), expected, p.Expected.Kind)
	metrics.GradesTotal.WithLabelValues(string(p.Expected.Kind), strconv.FormatBool(cmp.Passed)).Inc()

	g.logger.Info("Submission graded",
		zap.String("identity_id", identityID),
		zap.String("problem_id", problemID),
		zap.String("kind", string(p.Expected.Kind)),
		zap.Bool("passed", cmp.Passed),
		zap.String("reason", cmp.Reason),
		zap.Int("row_count", res.RowCount),
		zap.Duration("elapsed", res.Elapsed))

	return &Outcome{
		Passed:   cmp.Passed,
		Elapsed:  res.Elapsed,
		RowCount: res.RowCount,
		Reason:   cmp.Reason,
	}, nil
}
