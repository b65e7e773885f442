// Package sandbox provisions per-learner namespaces and runs submitted SQL
// inside them.
//
// Every (identity, problem) pair owns one PostgreSQL schema holding the
// problem's sample tables. The Provisioner creates it on first use: schema,
// then all tables in one transaction, then all seed rows in another, and
// only then the namespace record. Concurrent first requests are coalesced
// in-process, optionally serialized across processes with a Locker, and
// finally arbitrated by the record store's unique constraint.
//
// The Executor resolves the caller's namespace, validates the submission,
// and runs it in a read-only transaction whose search_path is that namespace
// alone, under a hard deadline. A connection whose statement hit the
// deadline is closed instead of going back to the pool. Failures are
// returned as *ExecutionError with a stable Kind, and every attempt is
// handed to the AttemptLogger.
//
// The store is reached only through the Pool interface; PgxPool implements
// it with pgx, and tests substitute an in-memory fake.
//
// Usage:
//
//	engine := sandbox.NewEngine(logger, cfg, pool, records, catalog, nil, attempts)
//	sb, err := engine.Provisioner.EnsureSandbox(ctx, "learner-1", "first-name")
//	res, err := engine.Executor.Execute(ctx, "learner-1", "first-name", "SELECT name FROM users")
package sandbox
