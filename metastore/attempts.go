package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/isdmx/sqlbox/sandbox"
)

// AttemptLog implements sandbox.AttemptLogger and answers history queries.
type AttemptLog struct {
	write *sql.DB
	read  *sql.DB
}

// NewAttemptLog creates an AttemptLog. read may be the same pool as write.
func NewAttemptLog(write, read *sql.DB) *AttemptLog {
	return &AttemptLog{write: write, read: read}
}

// AttemptStats summarizes the attempts of one (identity, problem) pair.
type AttemptStats struct {
	Total         int
	Succeeded     int
	Failed        int
	AvgElapsed    time.Duration
	LastAttemptAt time.Time
}

const attemptColumns = "id, identity_id, problem_id, namespace, query, elapsed_us, row_count, status, error_kind, error_message, created_at"

// LogAttempt appends a to the log.
func (l *AttemptLog) LogAttempt(ctx context.Context, a sandbox.Attempt) error {
	if a.ID == "" {
		return fmt.Errorf("attempt id is required")
	}
	if a.Namespace == "" {
		a.Namespace = sandbox.UnknownNamespace
	}
	_, err := l.write.ExecContext(ctx,
		`INSERT INTO execution_attempts (`+attemptColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.IdentityID, a.ProblemID, a.Namespace, a.Query,
		a.Elapsed.Microseconds(), a.RowCount, string(a.Status),
		nullString(a.ErrorKind), nullString(a.ErrorMessage), a.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert attempt: %w", mapDBError(err))
	}
	return nil
}

// Recent returns up to limit attempts of a pair, newest first.
func (l *AttemptLog) Recent(ctx context.Context, identityID, problemID string, limit int) ([]sandbox.Attempt, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.read.QueryContext(ctx,
		`SELECT `+attemptColumns+` FROM execution_attempts
		 WHERE identity_id = ? AND problem_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		identityID, problemID, limit)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	var out []sandbox.Attempt
	for rows.Next() {
		var (
			a                sandbox.Attempt
			elapsed, created int64
			status           string
			errKind, errMsg  sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.IdentityID, &a.ProblemID, &a.Namespace, &a.Query,
			&elapsed, &a.RowCount, &status, &errKind, &errMsg, &created); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		a.Elapsed = time.Duration(elapsed) * time.Microsecond
		a.Status = sandbox.AttemptStatus(status)
		a.ErrorKind = errKind.String
		a.ErrorMessage = errMsg.String
		a.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Stats aggregates the attempts of a pair. A pair with no attempts yields
// zero stats.
func (l *AttemptLog) Stats(ctx context.Context, identityID, problemID string) (*AttemptStats, error) {
	var (
		total, succeeded int
		avg              sql.NullFloat64
		last             sql.NullInt64
	)
	err := l.read.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = 'success' THEN 1 ELSE 0 END), 0),
		        AVG(elapsed_us),
		        MAX(created_at)
		 FROM execution_attempts
		 WHERE identity_id = ? AND problem_id = ?`,
		identityID, problemID).Scan(&total, &succeeded, &avg, &last)
	if err != nil {
		return nil, fmt.Errorf("aggregate attempts: %w", err)
	}

	stats := &AttemptStats{
		Total:     total,
		Succeeded: succeeded,
		Failed:    total - succeeded,
	}
	if avg.Valid {
		stats.AvgElapsed = time.Duration(avg.Float64) * time.Microsecond
	}
	if last.Valid {
		stats.LastAttemptAt = time.UnixMicro(last.Int64).UTC()
	}
	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
