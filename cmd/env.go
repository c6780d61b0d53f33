package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/digest-engine/internal/capability"
	"github.com/sells-group/digest-engine/internal/checkpoint"
	"github.com/sells-group/digest-engine/internal/config"
	"github.com/sells-group/digest-engine/internal/cost"
	"github.com/sells-group/digest-engine/internal/monitoring"
	"github.com/sells-group/digest-engine/internal/pipeline"
	"github.com/sells-group/digest-engine/internal/store"
	"github.com/sells-group/digest-engine/internal/taxonomy"
	anthropicpkg "github.com/sells-group/digest-engine/pkg/anthropic"
	"github.com/sells-group/digest-engine/pkg/cohere"
	s3pkg "github.com/sells-group/digest-engine/pkg/s3"
)

// jobEnv holds the stores and clients shared by every command. Closing it
// releases them in reverse order of creation.
type jobEnv struct {
	Checkpoints checkpoint.Store
	Ledger      store.Store
	Locker      checkpoint.Locker
	Archiver    checkpoint.Archiver // may be nil
	Taxonomy    *taxonomy.Taxonomy

	closers []func()
}

// Close releases resources held by the environment.
func (e *jobEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// initEnv validates the configuration for mode and opens the checkpoint
// store, the ledger, the lock, the archive and the taxonomy. Callers should
// defer env.Close().
func initEnv(ctx context.Context, mode string) (*jobEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	e := &jobEnv{}
	fail := func(err error) (*jobEnv, error) {
		e.Close()
		return nil, err
	}

	cps, err := initCheckpoints(ctx, e)
	if err != nil {
		return fail(err)
	}
	e.Checkpoints = cps

	ledger, err := initLedger(ctx)
	if err != nil {
		return fail(err)
	}
	e.Ledger = ledger
	e.closers = append(e.closers, func() { _ = ledger.Close() })

	e.Locker = initLocker(e)

	archiver, err := initArchiver(ctx)
	if err != nil {
		return fail(err)
	}
	e.Archiver = archiver

	tax, err := taxonomy.LoadOptional(cfg.Taxonomy.Path)
	if err != nil {
		return fail(err)
	}
	e.Taxonomy = tax

	return e, nil
}

func initCheckpoints(ctx context.Context, e *jobEnv) (checkpoint.Store, error) {
	switch cfg.Store.Driver {
	case "file":
		fs, err := checkpoint.NewFileStore(cfg.Store.Dir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	case "postgres":
		pg, err := checkpoint.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return nil, eris.Wrap(err, "migrate checkpoint store")
		}
		return pg, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initLedger(ctx context.Context) (store.Store, error) {
	st, err := store.NewSQLite(cfg.Store.LedgerPath)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}
	return st, nil
}

func initLocker(e *jobEnv) checkpoint.Locker {
	ttl := time.Duration(cfg.Lock.TTLSecs) * time.Second
	switch cfg.Lock.Driver {
	case "redis":
		client := checkpoint.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		e.closers = append(e.closers, func() { _ = client.Close() })
		return checkpoint.NewRedisLocker(client, cfg.Redis.KeyPrefix, ttl)
	case "none", "":
		return checkpoint.NopLocker{}
	default:
		return checkpoint.NewFileLocker(filepath.Join(cfg.Store.Dir, "locks"), ttl)
	}
}

func initArchiver(ctx context.Context) (checkpoint.Archiver, error) {
	switch cfg.Archive.Driver {
	case "local":
		return checkpoint.NewLocalArchiver(cfg.Archive.Dir), nil
	case "s3":
		client, err := s3pkg.New(ctx, cfg.Archive.Bucket, s3pkg.Config{
			Region:   cfg.Archive.Region,
			Profile:  cfg.Archive.Profile,
			Endpoint: cfg.Archive.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return checkpoint.NewS3Archiver(client, cfg.Archive.Prefix), nil
	default:
		return nil, nil
	}
}

// newTracker returns a fresh spend tracker. Each job gets its own so the
// evaluation budget applies per run.
func newTracker() *cost.Tracker {
	calc := cost.NewCalculator(cost.RatesFromConfig(cfg.Pricing))
	return cost.NewTracker(calc, cfg.Evaluation.MaxCostUSD)
}

// newPipeline builds a pipeline for one job run: the Claude capability
// behind its guard, the optional embedder, and the monitoring checker.
func (e *jobEnv) newPipeline() *pipeline.Pipeline {
	tracker := newTracker()

	claude := capability.NewClaude(
		anthropicpkg.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic,
		tracker,
		e.Taxonomy.TopicNames(),
		cfg.Final.Context,
	)
	guarded := capability.NewGuard(claude, capability.GuardOptionsFromConfig(cfg.Evaluation, tracker))

	deps := pipeline.Deps{
		Config:      cfg,
		Checkpoints: e.Checkpoints,
		Locker:      e.Locker,
		Ledger:      e.Ledger,
		Archiver:    e.Archiver,
		Capability:  guarded,
		Taxonomy:    e.Taxonomy,
		Tracker:     tracker,
		Checker:     newChecker(e.Ledger, cfg.Monitoring),
	}
	if cfg.Dedup.Semantic.Enabled {
		deps.Embedder = cohere.New(cfg.Cohere.Key, cfg.Cohere.Model)
		zap.L().Debug("cross-window signal enabled", zap.String("model", cfg.Cohere.Model))
	}
	return pipeline.New(deps)
}

func newChecker(runs monitoring.RunLister, mc config.MonitoringConfig) *monitoring.Checker {
	return monitoring.NewChecker(monitoring.NewCollector(runs), monitoring.NewAlerter(mc))
}
