package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const pingTimeout = 10 * time.Second

// DefaultMaxRows caps how many rows one statement may materialize.
const DefaultMaxRows = 10000

// PoolConfig holds connection settings for the relational store.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ApplicationName string
	// MaxRows caps rows per statement. Zero means DefaultMaxRows.
	MaxRows int
}

// PgxPool implements Pool on a pgx connection pool.
type PgxPool struct {
	pool    *pgxpool.Pool
	logger  *zap.Logger
	maxRows int
}

// NewPgxPool connects to PostgreSQL and verifies the connection.
func NewPgxPool(ctx context.Context, logger *zap.Logger, cfg PoolConfig) (*PgxPool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.ApplicationName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = cfg.ApplicationName
	}
	// submissions are one-off statements, so skip the prepared statement cache
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeExec
	poolConfig.ConnConfig.Tracer = &queryTracer{logger: logger}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	logger.Info("Database connection established",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int("max_rows", maxRows),
		zap.String("application_name", cfg.ApplicationName))
	return &PgxPool{pool: pool, logger: logger, maxRows: maxRows}, nil
}

// Acquire checks a connection out of the pool.
func (p *PgxPool) Acquire(ctx context.Context) (Conn, error) {
	c, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: c, maxRows: p.maxRows}, nil
}

// Close closes every connection in the pool.
func (p *PgxPool) Close() {
	p.logger.Info("Closing database connection pool")
	p.pool.Close()
}

type pgxConn struct {
	conn    *pgxpool.Conn
	maxRows int
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := c.conn.Exec(ctx, sql, args...)
	return err
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, c.maxRows)
}

func (c *pgxConn) Begin(ctx context.Context, readOnly bool) (Tx, error) {
	opts := pgx.TxOptions{}
	if readOnly {
		opts.AccessMode = pgx.ReadOnly
	}
	tx, err := c.conn.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx, maxRows: c.maxRows}, nil
}

func (c *pgxConn) Release() { c.conn.Release() }

// Discard takes the connection away from the pool and closes it, so a
// statement abandoned at its deadline cannot leak into the next checkout.
func (c *pgxConn) Discard(ctx context.Context) {
	raw := c.conn.Hijack()
	closeCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	_ = raw.Close(closeCtx)
}

type pgxTx struct {
	tx      pgx.Tx
	maxRows int
}

func (t *pgxTx) Exec(ctx context.Context, sql string, args ...any) error {
	_, err := t.tx.Exec(ctx, sql, args...)
	return err
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collectRows(rows, t.maxRows)
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// collectRows materializes rows, failing with ErrRowLimitExceeded once more
// than maxRows arrive. A non-positive maxRows disables the cap.
func collectRows(rows pgx.Rows, maxRows int) (*Rows, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	out := &Rows{Columns: make([]string, len(fields))}
	for i, f := range fields {
		out.Columns[i] = f.Name
	}
	for rows.Next() {
		if maxRows > 0 && len(out.Values) >= maxRows {
			return nil, fmt.Errorf("%w: more than %d rows", ErrRowLimitExceeded, maxRows)
		}
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		for i, v := range vals {
			vals[i] = convertValue(v)
		}
		out.Values = append(out.Values, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// convertValue turns driver-specific values into types the result package
// understands exactly.
func convertValue(v any) any {
	switch n := v.(type) {
	case pgtype.Numeric:
		if !n.Valid {
			return nil
		}
		if n.NaN {
			return "NaN"
		}
		if n.InfinityModifier == pgtype.Infinity {
			return "Infinity"
		}
		if n.InfinityModifier == pgtype.NegativeInfinity {
			return "-Infinity"
		}
		if n.Int == nil {
			return apd.New(0, n.Exp)
		}
		return apd.NewWithBigInt(new(apd.BigInt).SetMathBigInt(n.Int), n.Exp)
	case []any:
		for i := range n {
			n[i] = convertValue(n[i])
		}
		return n
	}
	return v
}

type queryTracer struct {
	logger *zap.Logger
}

type traceStartKey struct{}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, traceStartKey{}, time.Now())
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	if !t.logger.Core().Enabled(zap.DebugLevel) {
		return
	}
	var elapsed time.Duration
	if start, ok := ctx.Value(traceStartKey{}).(time.Time); ok {
		elapsed = time.Since(start)
	}
	t.logger.Debug("Store statement finished",
		zap.String("command_tag", data.CommandTag.String()),
		zap.Duration("elapsed", elapsed),
		zap.Error(data.Err))
}
