package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/isdmx/sqlbox/metrics"
	"github.com/isdmx/sqlbox/problem"
)

// Sandbox is the outcome of EnsureSandbox.
type Sandbox struct {
	Namespace string
	Created   bool
}

// Provisioner creates and looks up per-(identity, problem) namespaces.
type Provisioner struct {
	logger    *zap.Logger
	pool      Pool
	records   Records
	catalog   problem.Catalog
	locker    Locker
	prefix    string
	maxLength int
	now       func() time.Time
	group     singleflight.Group
}

// ProvisionerOption defines a functional option for Provisioner
type ProvisionerOption func(*Provisioner)

// WithLocker serializes first-time provisioning of a pair across processes.
func WithLocker(l Locker) ProvisionerOption {
	return func(p *Provisioner) {
		p.locker = l
	}
}

// WithSchemaPrefix sets the prefix of generated namespace names.
func WithSchemaPrefix(prefix string) ProvisionerOption {
	return func(p *Provisioner) {
		p.prefix = prefix
	}
}

// WithMaxIdentifierLength sets the store's identifier length limit.
func WithMaxIdentifierLength(n int) ProvisionerOption {
	return func(p *Provisioner) {
		p.maxLength = n
	}
}

// WithProvisionerClock overrides the time source for record timestamps.
func WithProvisionerClock(now func() time.Time) ProvisionerOption {
	return func(p *Provisioner) {
		p.now = now
	}
}

// NewProvisioner creates a Provisioner.
func NewProvisioner(logger *zap.Logger, pool Pool, records Records, catalog problem.Catalog, opts ...ProvisionerOption) *Provisioner {
	p := &Provisioner{
		logger:    logger,
		pool:      pool,
		records:   records,
		catalog:   catalog,
		prefix:    DefaultSchemaPrefix,
		maxLength: DefaultMaxIdentifierLength,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureSandbox returns the namespace for the pair, creating it with the
// problem's tables and seed rows on first use.
func (p *Provisioner) EnsureSandbox(ctx context.Context, identityID, problemID string) (*Sandbox, error) {
	if identityID == "" || problemID == "" {
		return nil, errors.New("identity id and problem id are required")
	}

	if ns, err := p.Lookup(ctx, identityID, problemID); err == nil {
		metrics.ProvisionsTotal.WithLabelValues("existing").Inc()
		return &Sandbox{Namespace: ns}, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}

	key := identityID + "\x00" + problemID
	v, err, _ := p.group.Do(key, func() (any, error) {
		return p.provision(ctx, identityID, problemID)
	})
	if err != nil {
		metrics.ProvisionsTotal.WithLabelValues("failed").Inc()
		return nil, err
	}
	sb := v.(*Sandbox)
	if sb.Created {
		metrics.ProvisionsTotal.WithLabelValues("created").Inc()
	} else {
		metrics.ProvisionsTotal.WithLabelValues("existing").Inc()
	}
	return &Sandbox{Namespace: sb.Namespace, Created: sb.Created}, nil
}

func (p *Provisioner) provision(ctx context.Context, identityID, problemID string) (*Sandbox, error) {
	if p.locker != nil {
		unlock, err := p.locker.Lock(ctx, "sandbox:"+identityID+":"+problemID)
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock: %w", ErrProvisioning, err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				p.logger.Warn("Failed to release provisioning lock",
					zap.String("identity_id", identityID),
					zap.String("problem_id", problemID),
					zap.Error(err))
			}
		}()

		// another process may have finished while we waited for the lock
		if rec, err := p.records.FindByPair(ctx, identityID, problemID); err == nil {
			return &Sandbox{Namespace: rec.Namespace}, nil
		} else if !errors.Is(err, ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to look up sandbox: %w", err)
		}
	}

	prob, err := p.catalog.Problem(ctx, problemID)
	if err != nil {
		return nil, err
	}
	if err := prob.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProvisioning, err)
	}

	namespace := SchemaName(p.prefix, identityID, problemID, p.maxLength)
	start := time.Now()
	if err := p.build(ctx, namespace, prob); err != nil {
		p.logger.Error("Failed to provision sandbox",
			zap.String("identity_id", identityID),
			zap.String("problem_id", problemID),
			zap.String("namespace", namespace),
			zap.Error(err))
		return nil, err
	}
	metrics.ProvisionDuration.Observe(float64(time.Since(start).Milliseconds()))

	now := p.now().UTC()
	rec := Record{
		IdentityID: identityID,
		ProblemID:  problemID,
		Namespace:  namespace,
		CreatedAt:  now,
		LastUsedAt: now,
	}
	if err := p.records.Create(ctx, rec); err != nil {
		if !errors.Is(err, ErrRecordConflict) {
			return nil, fmt.Errorf("%w: save record: %w", ErrProvisioning, err)
		}
		existing, findErr := p.records.FindByPair(ctx, identityID, problemID)
		if findErr != nil {
			return nil, fmt.Errorf("%w: resolve conflicting record: %w", ErrProvisioning, findErr)
		}
		p.logger.Info("Sandbox was provisioned concurrently",
			zap.String("identity_id", identityID),
			zap.String("problem_id", problemID),
			zap.String("namespace", existing.Namespace))
		return &Sandbox{Namespace: existing.Namespace}, nil
	}

	p.logger.Info("Sandbox provisioned",
		zap.String("identity_id", identityID),
		zap.String("problem_id", problemID),
		zap.String("namespace", namespace),
		zap.Int("tables", len(prob.Tables)),
		zap.Duration("elapsed", time.Since(start)))
	return &Sandbox{Namespace: namespace, Created: true}, nil
}

// build creates the namespace, then its tables in one transaction, then the
// seed rows in another. Both steps replace whatever a failed earlier attempt
// left behind.
func (p *Provisioner) build(ctx context.Context, namespace string, prob *problem.Problem) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: acquire connection: %w", ErrProvisioning, err)
	}
	defer conn.Release()

	if err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(namespace)); err != nil {
		return fmt.Errorf("%w: create schema: %w", ErrProvisioning, err)
	}

	err = inTx(ctx, conn, func(tx Tx) error {
		for _, t := range prob.Tables {
			if err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+quoteIdent(namespace, t.Name)+" CASCADE"); err != nil {
				return err
			}
			if err := tx.Exec(ctx, createTableSQL(namespace, t)); err != nil {
				return fmt.Errorf("table %s: %w", t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: create tables: %w", ErrProvisioning, err)
	}

	err = inTx(ctx, conn, func(tx Tx) error {
		for _, t := range prob.Tables {
			stmt := insertSQL(namespace, t)
			if stmt == "" {
				continue
			}
			if err := tx.Exec(ctx, "TRUNCATE "+quoteIdent(namespace, t.Name)); err != nil {
				return err
			}
			if err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("rows of %s: %w", t.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: insert rows: %w", ErrProvisioning, err)
	}
	return nil
}

func inTx(ctx context.Context, conn Conn, fn func(Tx) error) error {
	tx, err := conn.Begin(ctx, false)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit(ctx)
}

// Lookup returns the namespace of an existing sandbox and marks it used.
// It fails with ErrRecordNotFound when the pair was never provisioned.
func (p *Provisioner) Lookup(ctx context.Context, identityID, problemID string) (string, error) {
	rec, err := p.records.FindByPair(ctx, identityID, problemID)
	if err != nil {
		return "", err
	}
	if err := p.records.Touch(ctx, identityID, problemID, p.now().UTC()); err != nil {
		p.logger.Warn("Failed to update sandbox last-used time",
			zap.String("namespace", rec.Namespace),
			zap.Error(err))
	}
	return rec.Namespace, nil
}

// Destroy drops the pair's namespace and forgets its record.
func (p *Provisioner) Destroy(ctx context.Context, identityID, problemID string) error {
	rec, err := p.records.FindByPair(ctx, identityID, problemID)
	if err != nil {
		return err
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	if err := conn.Exec(ctx, "DROP SCHEMA IF EXISTS "+quoteIdent(rec.Namespace)+" CASCADE"); err != nil {
		return fmt.Errorf("failed to drop schema %s: %w", rec.Namespace, err)
	}
	if err := p.records.DeleteByPair(ctx, identityID, problemID); err != nil {
		return fmt.Errorf("failed to delete sandbox record: %w", err)
	}

	p.logger.Info("Sandbox destroyed",
		zap.String("identity_id", identityID),
		zap.String("problem_id", problemID),
		zap.String("namespace", rec.Namespace))
	return nil
}
