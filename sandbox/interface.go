package sandbox

import (
	"context"
	"errors"
	"time"
)

// Record store errors
var (
	ErrRecordNotFound = errors.New("sandbox record not found")
	ErrRecordConflict = errors.New("sandbox record already exists")
)

// ErrRowLimitExceeded is returned by Query when a statement produces more rows
// than the pool is allowed to materialize.
var ErrRowLimitExceeded = errors.New("row limit exceeded")

// Rows is the materialized output of one statement.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Queryer runs statements against the relational store.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) error
	Query(ctx context.Context, sql string, args ...any) (*Rows, error)
}

// Tx is a transaction on a single connection.
type Tx interface {
	Queryer
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a connection checked out of a Pool. Exactly one of Release or
// Discard must be called when the caller is done with it.
type Conn interface {
	Queryer
	Begin(ctx context.Context, readOnly bool) (Tx, error)
	// Release returns the connection to the pool.
	Release()
	// Discard closes the connection instead of returning it, for connections
	// that may still be busy with an abandoned statement.
	Discard(ctx context.Context)
}

// Pool hands out connections to the relational store.
type Pool interface {
	Acquire(ctx context.Context) (Conn, error)
}

// Record binds an (identity, problem) pair to its namespace.
type Record struct {
	IdentityID string
	ProblemID  string
	Namespace  string
	CreatedAt  time.Time
	LastUsedAt time.Time
}

// Records persists namespace records. Implementations enforce uniqueness of
// the (identity, problem) pair and of the namespace name, reporting
// violations as ErrRecordConflict.
type Records interface {
	Create(ctx context.Context, rec Record) error
	FindByPair(ctx context.Context, identityID, problemID string) (*Record, error)
	FindByNamespace(ctx context.Context, namespace string) (*Record, error)
	Touch(ctx context.Context, identityID, problemID string, at time.Time) error
	DeleteByPair(ctx context.Context, identityID, problemID string) error
}

// AttemptStatus is the outcome recorded for an execution attempt.
type AttemptStatus string

// Attempt statuses
const (
	AttemptSuccess AttemptStatus = "success"
	AttemptError   AttemptStatus = "error"
)

// UnknownNamespace is recorded for attempts that never resolved a sandbox.
const UnknownNamespace = "unknown"

// Attempt is one logged execution.
type Attempt struct {
	ID           string
	IdentityID   string
	ProblemID    string
	Query        string
	Namespace    string
	Elapsed      time.Duration
	RowCount     int
	Status       AttemptStatus
	ErrorKind    string
	ErrorMessage string
	CreatedAt    time.Time
}

// AttemptLogger records execution attempts.
type AttemptLogger interface {
	LogAttempt(ctx context.Context, a Attempt) error
}

// Locker serializes provisioning of one sandbox across processes.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(context.Context) error, err error)
}

// QueryValidator accepts or rejects submitted SQL.
type QueryValidator interface {
	Validate(sql string) error
}

// Admission decides whether a caller may run another query right now.
type Admission interface {
	Allow(key string) bool
}
