package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrProvisioning wraps failures while building a sandbox. Provisioning is
// safe to retry.
var ErrProvisioning = errors.New("sandbox provisioning failed")

// ErrorKind is the stable category of an execution failure.
type ErrorKind string

// Execution error kinds
const (
	KindValidation     ErrorKind = "VALIDATION_ERROR"
	KindSandboxMissing ErrorKind = "SANDBOX_NOT_FOUND"
	KindTimeout        ErrorKind = "TIMEOUT"
	KindSyntax         ErrorKind = "SYNTAX_ERROR"
	KindRuntime        ErrorKind = "RUNTIME_ERROR"
	KindPermission     ErrorKind = "PERMISSION_ERROR"
	KindRateLimited    ErrorKind = "RATE_LIMITED"
)

// ExecutionError is the typed failure returned by Executor.Execute. Message
// and Details are safe to show to the submitter; the wrapped cause is not.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	Details string
	cause   error
}

func (e *ExecutionError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s - %s", e.Kind, e.Message, e.Details)
}

func (e *ExecutionError) Unwrap() error { return e.cause }

// KindOf returns the kind of an *ExecutionError in err's chain, or "".
func KindOf(err error) ErrorKind {
	var execErr *ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind
	}
	return ""
}

func newExecutionError(kind ErrorKind, message, details string, cause error) *ExecutionError {
	return &ExecutionError{Kind: kind, Message: message, Details: details, cause: cause}
}

// PostgreSQL SQLSTATE codes with a dedicated translation
const (
	codeSyntaxError         = "42601"
	codeUndefinedColumn     = "42703"
	codeUndefinedTable      = "42P01"
	codeUndefinedFunction   = "42883"
	codeInsufficientPriv    = "42501"
	codeReadOnlyTransaction = "25006"
	codeQueryCanceled       = "57014"
)

// isTimeout reports whether err came from the statement deadline, either
// client side or through the server's statement_timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeQueryCanceled
}

// classifyStoreError translates a driver error into the execution taxonomy.
// Only the server's primary message ever reaches Details.
func classifyStoreError(err error) *ExecutionError {
	if errors.Is(err, ErrRowLimitExceeded) {
		return newExecutionError(KindRuntime, "Query returned too many rows",
			"Add a LIMIT clause or narrow the query", err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return newExecutionError(KindRuntime, "Query execution failed", "", err)
	}
	switch pgErr.Code {
	case codeSyntaxError:
		return newExecutionError(KindSyntax, "SQL syntax error", pgErr.Message, err)
	case codeUndefinedColumn:
		return newExecutionError(KindRuntime, "Column not found", pgErr.Message, err)
	case codeUndefinedTable:
		return newExecutionError(KindRuntime, "Table not found", pgErr.Message, err)
	case codeUndefinedFunction:
		return newExecutionError(KindRuntime, "Function not found", pgErr.Message, err)
	case codeInsufficientPriv, codeReadOnlyTransaction:
		return newExecutionError(KindPermission, "Access denied",
			"You do not have permission to perform this operation", err)
	default:
		return newExecutionError(KindRuntime, "Query execution failed", pgErr.Message, err)
	}
}
