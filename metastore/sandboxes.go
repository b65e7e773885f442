package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/isdmx/sqlbox/sandbox"
)

// SandboxStore implements sandbox.Records.
type SandboxStore struct {
	write *sql.DB
	read  *sql.DB
}

// NewSandboxStore creates a SandboxStore. read may be the same pool as write.
func NewSandboxStore(write, read *sql.DB) *SandboxStore {
	return &SandboxStore{write: write, read: read}
}

const sandboxColumns = "identity_id, problem_id, namespace, created_at, last_used_at"

// Create inserts rec, failing with sandbox.ErrRecordConflict if the pair or
// the namespace is already taken.
func (s *SandboxStore) Create(ctx context.Context, rec sandbox.Record) error {
	_, err := s.write.ExecContext(ctx,
		`INSERT INTO sandboxes (`+sandboxColumns+`) VALUES (?, ?, ?, ?, ?)`,
		rec.IdentityID, rec.ProblemID, rec.Namespace,
		rec.CreatedAt.UnixMicro(), rec.LastUsedAt.UnixMicro())
	return mapDBError(err)
}

// FindByPair returns the record of an (identity, problem) pair.
func (s *SandboxStore) FindByPair(ctx context.Context, identityID, problemID string) (*sandbox.Record, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE identity_id = ? AND problem_id = ?`,
		identityID, problemID)
	return scanRecord(row)
}

// FindByNamespace returns the record owning namespace.
func (s *SandboxStore) FindByNamespace(ctx context.Context, namespace string) (*sandbox.Record, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE namespace = ?`, namespace)
	return scanRecord(row)
}

// Touch sets the last-used time of a pair.
func (s *SandboxStore) Touch(ctx context.Context, identityID, problemID string, at time.Time) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE sandboxes SET last_used_at = ? WHERE identity_id = ? AND problem_id = ?`,
		at.UnixMicro(), identityID, problemID)
	return affectedOne(res, err)
}

// DeleteByPair removes the record of a pair.
func (s *SandboxStore) DeleteByPair(ctx context.Context, identityID, problemID string) error {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM sandboxes WHERE identity_id = ? AND problem_id = ?`, identityID, problemID)
	return affectedOne(res, err)
}

// DeleteByNamespace removes the record owning namespace.
func (s *SandboxStore) DeleteByNamespace(ctx context.Context, namespace string) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM sandboxes WHERE namespace = ?`, namespace)
	return affectedOne(res, err)
}

// ListByIdentity returns every sandbox of an identity, most recently used
// first.
func (s *SandboxStore) ListByIdentity(ctx context.Context, identityID string) ([]sandbox.Record, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+sandboxColumns+` FROM sandboxes WHERE identity_id = ? ORDER BY last_used_at DESC, namespace`,
		identityID)
	if err != nil {
		return nil, fmt.Errorf("list sandboxes: %w", err)
	}
	defer rows.Close()

	var out []sandbox.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*sandbox.Record, error) {
	var (
		rec                 sandbox.Record
		createdAt, lastUsed int64
	)
	err := row.Scan(&rec.IdentityID, &rec.ProblemID, &rec.Namespace, &createdAt, &lastUsed)
	if err != nil {
		return nil, mapDBError(err)
	}
	rec.CreatedAt = time.UnixMicro(createdAt).UTC()
	rec.LastUsedAt = time.UnixMicro(lastUsed).UTC()
	return &rec, nil
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return mapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sandbox.ErrRecordNotFound
	}
	return nil
}

func mapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return sandbox.ErrRecordNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) &&
		(sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		return fmt.Errorf("%w: %s", sandbox.ErrRecordConflict, sqliteErr.Error())
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return fmt.Errorf("%w: %s", sandbox.ErrRecordConflict, err.Error())
	}
	return err
}
