package sandbox

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// MockPool implements Pool for testing. Statements are recorded; queryFn
// and execFn script the store's behavior.
type MockPool struct {
	mu         sync.Mutex
	statements []string
	args       [][]any
	acquired   int
	released   int
	discarded  int
	commits    int
	rollbacks  int
	acquireErr error
	beginErr   error
	execFn     func(ctx context.Context, sql string, args []any) error
	queryFn    func(ctx context.Context, sql string) (*Rows, error)
}

func (m *MockPool) Acquire(ctx context.Context) (Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.acquireErr != nil {
		return nil, m.acquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.acquired++
	return &mockConn{pool: m}, nil
}

func (m *MockPool) record(sql string, args []any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statements = append(m.statements, sql)
	m.args = append(m.args, args)
}

func (m *MockPool) Statements() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statements...)
}

func (m *MockPool) exec(ctx context.Context, sql string, args []any) error {
	m.record(sql, args)
	if m.execFn != nil {
		return m.execFn(ctx, sql, args)
	}
	return nil
}

func (m *MockPool) query(ctx context.Context, sql string, args []any) (*Rows, error) {
	m.record(sql, args)
	if m.queryFn != nil {
		return m.queryFn(ctx, sql)
	}
	return &Rows{}, nil
}

type mockConn struct {
	pool *MockPool
}

func (c *mockConn) Exec(ctx context.Context, sql string, args ...any) error {
	return c.pool.exec(ctx, sql, args)
}

func (c *mockConn) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	return c.pool.query(ctx, sql, args)
}

func (c *mockConn) Begin(_ context.Context, readOnly bool) (Tx, error) {
	if c.pool.beginErr != nil {
		return nil, c.pool.beginErr
	}
	if readOnly {
		c.pool.record("BEGIN READ ONLY", nil)
	} else {
		c.pool.record("BEGIN", nil)
	}
	return &mockTx{pool: c.pool}, nil
}

func (c *mockConn) Release() {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.released++
}

func (c *mockConn) Discard(context.Context) {
	c.pool.mu.Lock()
	defer c.pool.mu.Unlock()
	c.pool.discarded++
}

type mockTx struct {
	pool *MockPool
}

func (t *mockTx) Exec(ctx context.Context, sql string, args ...any) error {
	return t.pool.exec(ctx, sql, args)
}

func (t *mockTx) Query(ctx context.Context, sql string, args ...any) (*Rows, error) {
	return t.pool.query(ctx, sql, args)
}

func (t *mockTx) Commit(context.Context) error {
	t.pool.record("COMMIT", nil)
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	t.pool.commits++
	return nil
}

func (t *mockTx) Rollback(context.Context) error {
	t.pool.record("ROLLBACK", nil)
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	t.pool.rollbacks++
	return nil
}

// MockRecords implements Records in memory with the same uniqueness rules
// as the real store.
type MockRecords struct {
	mu        sync.Mutex
	byPair    map[string]Record
	touches   int
	createErr error
	// beforeCreate runs inside Create before the uniqueness check
	beforeCreate func()
}

func NewMockRecords() *MockRecords {
	return &MockRecords{byPair: make(map[string]Record)}
}

func pairKey(identityID, problemID string) string { return identityID + "\x00" + problemID }

func (m *MockRecords) Create(_ context.Context, rec Record) error {
	if m.beforeCreate != nil {
		m.beforeCreate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byPair[pairKey(rec.IdentityID, rec.ProblemID)]; ok {
		return ErrRecordConflict
	}
	for _, r := range m.byPair {
		if r.Namespace == rec.Namespace {
			return ErrRecordConflict
		}
	}
	m.byPair[pairKey(rec.IdentityID, rec.ProblemID)] = rec
	return nil
}

func (m *MockRecords) put(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byPair[pairKey(rec.IdentityID, rec.ProblemID)] = rec
}

func (m *MockRecords) FindByPair(_ context.Context, identityID, problemID string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.byPair[pairKey(identityID, problemID)]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return &rec, nil
}

func (m *MockRecords) FindByNamespace(_ context.Context, namespace string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.byPair {
		if rec.Namespace == namespace {
			r := rec
			return &r, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *MockRecords) Touch(_ context.Context, identityID, problemID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(identityID, problemID)
	rec, ok := m.byPair[key]
	if !ok {
		return ErrRecordNotFound
	}
	rec.LastUsedAt = at
	m.byPair[key] = rec
	m.touches++
	return nil
}

func (m *MockRecords) DeleteByPair(_ context.Context, identityID, problemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pairKey(identityID, problemID)
	if _, ok := m.byPair[key]; !ok {
		return ErrRecordNotFound
	}
	delete(m.byPair, key)
	return nil
}

// MockAttemptLogger records attempts and optionally fails.
type MockAttemptLogger struct {
	mu       sync.Mutex
	attempts []Attempt
	err      error
	panics   bool
}

func (m *MockAttemptLogger) LogAttempt(_ context.Context, a Attempt) error {
	if m.panics {
		panic("attempt store exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, a)
	return m.err
}

func (m *MockAttemptLogger) Attempts() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Attempt(nil), m.attempts...)
}

// MockLocker implements Locker with an in-process mutex per key.
type MockLocker struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	keys    []string
	lockErr error
}

func (m *MockLocker) Lock(_ context.Context, key string) (func(context.Context) error, error) {
	if m.lockErr != nil {
		return nil, m.lockErr
	}
	m.mu.Lock()
	if m.locks == nil {
		m.locks = make(map[string]*sync.Mutex)
	}
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	m.keys = append(m.keys, key)
	m.mu.Unlock()

	l.Lock()
	return func(context.Context) error {
		l.Unlock()
		return nil
	}, nil
}

// containsInOrder reports whether every fragment occurs in statements in
// the given order.
func containsInOrder(statements []string, fragments ...string) bool {
	i := 0
	for _, s := range statements {
		if i < len(fragments) && strings.Contains(s, fragments[i]) {
			i++
		}
	}
	return i == len(fragments)
}

var errStoreDown = errors.New("store unavailable")
