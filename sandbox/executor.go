package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/metrics"
	"github.com/isdmx/sqlbox/result"
	"github.com/isdmx/sqlbox/validator"
)

// DefaultTimeout is the statement deadline used when none is configured.
const DefaultTimeout = 5000 * time.Millisecond

const attemptLogTimeout = 2 * time.Second

// scopeSQL confines the transaction to one namespace and bounds it server
// side. Both settings are transaction-local.
const scopeSQL = "SELECT set_config('search_path', $1, true), set_config('statement_timeout', $2, true)"

// NamespaceResolver maps a pair to its provisioned namespace.
type NamespaceResolver interface {
	Lookup(ctx context.Context, identityID, problemID string) (string, error)
}

// Executor runs validated submissions inside their sandbox.
type Executor struct {
	logger    *zap.Logger
	pool      Pool
	resolver  NamespaceResolver
	validator QueryValidator
	attempts  AttemptLogger
	admission Admission
	timeout   time.Duration
	now       func() time.Time
}

// ExecutorOption defines a functional option for Executor
type ExecutorOption func(*Executor)

// WithTimeout sets the statement deadline.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = d
	}
}

// WithAttemptLogger records every attempt with l.
func WithAttemptLogger(l AttemptLogger) ExecutorOption {
	return func(e *Executor) {
		e.attempts = l
	}
}

// WithAdmission rate limits submissions per identity.
func WithAdmission(a Admission) ExecutorOption {
	return func(e *Executor) {
		e.admission = a
	}
}

// WithExecutorClock overrides the time source used for elapsed times.
func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) {
		e.now = now
	}
}

// NewExecutor creates an Executor.
func NewExecutor(logger *zap.Logger, pool Pool, resolver NamespaceResolver, v QueryValidator, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger:    logger,
		pool:      pool,
		resolver:  resolver,
		validator: v,
		timeout:   DefaultTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs sql in the caller's sandbox. Every failure is an
// *ExecutionError, and every attempt is logged whatever its outcome.
func (e *Executor) Execute(ctx context.Context, identityID, problemID, sql string) (*result.Result, error) {
	start := e.now()
	attempt := Attempt{
		IdentityID: identityID,
		ProblemID:  problemID,
		Query:      sql,
		Namespace:  UnknownNamespace,
	}

	res, err := e.execute(ctx, identityID, problemID, sql, &attempt)
	elapsed := e.now().Sub(start)

	attempt.Elapsed = elapsed
	if err != nil {
		attempt.Status = AttemptError
		attempt.ErrorKind = string(KindOf(err))
		attempt.ErrorMessage = err.Error()
	} else {
		res.Elapsed = elapsed
		attempt.Status = AttemptSuccess
		attempt.RowCount = res.RowCount
	}
	e.logAttempt(ctx, attempt)

	status := string(attempt.Status)
	if err != nil {
		status = attempt.ErrorKind
	}
	metrics.ExecutionsTotal.WithLabelValues(status).Inc()
	metrics.ExecutionDuration.WithLabelValues(status).Observe(float64(elapsed.Milliseconds()))

	if err != nil {
		e.logger.Info("Query rejected or failed",
			zap.String("identity_id", identityID),
			zap.String("problem_id", problemID),
			zap.String("namespace", attempt.Namespace),
			zap.String("kind", attempt.ErrorKind),
			zap.Duration("elapsed", elapsed),
			zap.Error(errors.Unwrap(err)))
		return nil, err
	}
	e.logger.Debug("Query executed",
		zap.String("namespace", attempt.Namespace),
		zap.String("sql", sql),
		zap.Int("row_count", res.RowCount),
		zap.Duration("elapsed", elapsed))
	return res, nil
}

func (e *Executor) execute(ctx context.Context, identityID, problemID, sql string, attempt *Attempt) (*result.Result, error) {
	if e.admission != nil && !e.admission.Allow(identityID) {
		return nil, newExecutionError(KindRateLimited, "Too many queries",
			"Wait a moment before running another query", nil)
	}

	namespace, err := e.resolver.Lookup(ctx, identityID, problemID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, newExecutionError(KindSandboxMissing,
				"Sandbox not found for this problem",
				"Please initialize the sandbox first", err)
		}
		return nil, newExecutionError(KindRuntime, "Query execution failed", "", err)
	}
	attempt.Namespace = namespace

	if err := e.validator.Validate(sql); err != nil {
		var rej *validator.Rejection
		if errors.As(err, &rej) {
			return nil, newExecutionError(KindValidation,
				fmt.Sprintf("%s: %s", rej.Reason, rej.Message), rej.Details, err)
		}
		return nil, newExecutionError(KindValidation, err.Error(), "", err)
	}

	return e.run(ctx, namespace, validator.Statement(sql))
}

// run executes stmt in a read-only transaction scoped to namespace. The
// connection is discarded rather than reused when the deadline fires.
func (e *Executor) run(ctx context.Context, namespace, stmt string) (*result.Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	conn, err := e.pool.Acquire(runCtx)
	if err != nil {
		if execErr := e.interrupted(runCtx, err); execErr != nil {
			return nil, execErr
		}
		return nil, newExecutionError(KindRuntime, "Query execution failed", "", err)
	}

	discard := false
	defer func() {
		if discard {
			conn.Discard(context.WithoutCancel(ctx))
			return
		}
		conn.Release()
	}()

	tx, err := conn.Begin(runCtx, true)
	if err != nil {
		discard = true
		if execErr := e.interrupted(runCtx, err); execErr != nil {
			return nil, execErr
		}
		return nil, classifyStoreError(err)
	}

	rows, err := e.query(runCtx, tx, namespace, stmt)
	if err != nil {
		if execErr := e.interrupted(runCtx, err); execErr != nil {
			discard = true
			return nil, execErr
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			discard = true
		}
		return nil, classifyStoreError(err)
	}
	if err := tx.Rollback(context.WithoutCancel(ctx)); err != nil {
		discard = true
	}

	return result.New(rows.Columns, rows.Values, 0), nil
}

func (e *Executor) query(ctx context.Context, tx Tx, namespace, stmt string) (*Rows, error) {
	timeoutMS := strconv.FormatInt(e.timeout.Milliseconds(), 10)
	if err := tx.Exec(ctx, scopeSQL, quoteIdent(namespace), timeoutMS); err != nil {
		return nil, err
	}
	return tx.Query(ctx, stmt)
}

// interrupted classifies err when the statement was cut short. Only the
// statement deadline counts as a timeout. A caller hanging up first is a
// cancellation. It returns nil when err is an ordinary store error.
func (e *Executor) interrupted(runCtx context.Context, err error) *ExecutionError {
	if isTimeout(err) || errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return e.timeoutError(err)
	}
	if runCtx.Err() != nil || errors.Is(err, context.Canceled) {
		return newExecutionError(KindRuntime, "Query was cancelled", "", err)
	}
	return nil
}

func (e *Executor) timeoutError(cause error) *ExecutionError {
	return newExecutionError(KindTimeout,
		fmt.Sprintf("Query execution exceeded the time limit (%s)", e.timeout),
		"", cause)
}

// logAttempt records a on a context detached from the request, so a caller
// hanging up does not lose the record. Failures are logged and dropped.
func (e *Executor) logAttempt(ctx context.Context, a Attempt) {
	if e.attempts == nil {
		return
	}
	a.ID = uuid.NewString()
	a.CreatedAt = e.now().UTC()

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), attemptLogTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.AttemptLogFailures.Inc()
			e.logger.Error("Attempt logger panicked", zap.Any("panic", r))
		}
	}()

	if err := e.attempts.LogAttempt(logCtx, a); err != nil {
		metrics.AttemptLogFailures.Inc()
		e.logger.Warn("Failed to record execution attempt",
			zap.String("identity_id", a.IdentityID),
			zap.String("problem_id", a.ProblemID),
			zap.Error(err))
	}
}
