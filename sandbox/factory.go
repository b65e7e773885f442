package sandbox

import (
	"time"

	"go.uber.org/zap"

	"github.com/isdmx/sqlbox/limiter"
	"github.com/isdmx/sqlbox/problem"
	"github.com/isdmx/sqlbox/validator"
)

// Config holds configuration for provisioning and execution.
type Config struct {
	TimeoutMS           int
	SchemaPrefix        string
	MaxIdentifierLength int
	ParserCheck         bool
	RateLimitPerSec     float64
	RateLimitBurst      int
}

// Engine bundles the provisioner and the executor sharing one pool.
type Engine struct {
	Provisioner *Provisioner
	Executor    *Executor
	// Limiter is nil unless admission rate limiting is enabled.
	Limiter *limiter.PerKey
}

// NewEngine wires a Provisioner and an Executor from configuration. locker
// and attempts may be nil.
func NewEngine(logger *zap.Logger, config *Config, pool Pool, records Records, catalog problem.Catalog, locker Locker, attempts AttemptLogger) *Engine {
	provOpts := []ProvisionerOption{
		WithSchemaPrefix(config.SchemaPrefix),
		WithMaxIdentifierLength(config.MaxIdentifierLength),
	}
	if locker != nil {
		provOpts = append(provOpts, WithLocker(locker))
	}
	prov := NewProvisioner(logger.Named("provisioner"), pool, records, catalog, provOpts...)

	execOpts := []ExecutorOption{
		WithTimeout(time.Duration(config.TimeoutMS) * time.Millisecond),
	}
	if attempts != nil {
		execOpts = append(execOpts, WithAttemptLogger(attempts))
	}
	var lim *limiter.PerKey
	if config.RateLimitPerSec > 0 {
		lim = limiter.NewPerKey(config.RateLimitPerSec, config.RateLimitBurst)
		execOpts = append(execOpts, WithAdmission(lim))
	}
	v := validator.New(validator.WithParserCheck(config.ParserCheck))
	exec := NewExecutor(logger.Named("executor"), pool, prov, v, execOpts...)

	return &Engine{Provisioner: prov, Executor: exec, Limiter: lim}
}
