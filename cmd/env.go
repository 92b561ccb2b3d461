package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/counter"
	"github.com/sells-group/lead-intake/internal/db"
	"github.com/sells-group/lead-intake/internal/intake"
	"github.com/sells-group/lead-intake/internal/jobs"
	"github.com/sells-group/lead-intake/internal/lead"
	"github.com/sells-group/lead-intake/internal/plan"
	"github.com/sells-group/lead-intake/internal/quota"
	"github.com/sells-group/lead-intake/internal/ratelimit"
	"github.com/sells-group/lead-intake/internal/reply"
	"github.com/sells-group/lead-intake/pkg/anthropic"
)

// intakeEnv holds the initialized stores and the assembled pipeline shared
// by the serve/worker/leads/usage commands.
type intakeEnv struct {
	Leads    lead.Store
	Jobs     jobs.Store
	Counters counter.Store
	Plans    plan.Registry
	Quotas   *quota.Enforcer
	Pipeline *intake.Pipeline
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Counters != nil {
		_ = e.Counters.Close()
	}
	if e.Leads != nil {
		_ = e.Leads.Close()
	}
}

// initEnv sets up stores, the plan registry, and the intake pipeline.
// Callers should defer env.Close().
func initEnv(ctx context.Context) (*intakeEnv, error) {
	leads, jobStore, err := initStores(ctx)
	if err != nil {
		return nil, err
	}

	counters, err := initCounters(ctx)
	if err != nil {
		_ = leads.Close()
		return nil, err
	}

	plans, err := initPlans()
	if err != nil {
		_ = counters.Close()
		_ = leads.Close()
		return nil, err
	}

	quotas := quota.NewEnforcer(counters, plans)
	limiter := ratelimit.NewLimiter(counters, cfg.RateLimit.FailClosed)
	resolver := lead.NewResolver(leads)

	var replier reply.Generator
	if cfg.Reply.AnthropicKey != "" {
		replier = reply.NewAnthropicGenerator(
			anthropic.NewClient(cfg.Reply.AnthropicKey),
			cfg.Reply.Model,
			time.Duration(cfg.Reply.TimeoutSecs)*time.Second,
			cfg.Reply.MaxPerSec,
		)
	} else {
		zap.L().Warn("LEADINTAKE_REPLY_ANTHROPIC_KEY not set, replies use the canned fallback")
	}

	pipeline := intake.NewPipeline(limiter, quotas, resolver, replier, intake.Options{
		RateMax:       cfg.RateLimit.MaxPerWindow,
		RateWindow:    time.Duration(cfg.RateLimit.WindowSecs) * time.Second,
		ReplyFallback: cfg.Reply.Fallback,
	})

	return &intakeEnv{
		Leads:    leads,
		Jobs:     jobStore,
		Counters: counters,
		Plans:    plans,
		Quotas:   quotas,
		Pipeline: pipeline,
	}, nil
}

func initStores(ctx context.Context) (lead.Store, jobs.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = "lead-intake.db"
		}
		leads, err := lead.NewSQLite(path)
		if err != nil {
			return nil, nil, err
		}
		// Dev mode: jobs do not survive a restart without Postgres.
		zap.L().Warn("sqlite store driver active, job queue is in-memory")
		return leads, jobs.NewMemory(), nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return lead.NewPostgresStore(pool, pool.Close), jobs.NewPostgresStore(pool), nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initCounters(ctx context.Context) (counter.Store, error) {
	switch cfg.Counter.Driver {
	case "memory":
		// Dev mode: rate limits and quotas are per-process only.
		zap.L().Warn("memory counter driver active, limits are not shared across instances")
		return counter.NewMemory(), nil
	case "redis":
		return counter.NewRedis(ctx, cfg.Counter.RedisURL)
	default:
		return nil, eris.Errorf("unsupported counter driver: %s", cfg.Counter.Driver)
	}
}

func initPlans() (plan.Registry, error) {
	if cfg.Plans.File != "" {
		return plan.LoadFile(cfg.Plans.File)
	}
	return plan.NewStaticRegistry(plan.DefaultPlans(), "free")
}

// migrateStores creates schemas on both stores. Safe to re-run.
func migrateStores(ctx context.Context, e *intakeEnv) error {
	if err := e.Leads.Migrate(ctx); err != nil {
		return err
	}
	return e.Jobs.Migrate(ctx)
}
