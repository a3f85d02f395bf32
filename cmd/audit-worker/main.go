package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
	redisclient "github.com/clinicdesk/clinic-scheduling/internal/redis"
	"github.com/clinicdesk/clinic-scheduling/internal/treatment"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("config load error")
	}

	log := newLogger(cfg.Env).With().Str("component", "audit-worker").Logger()
	log.Info().Str("env", cfg.Env).Str("cron", cfg.AuditCron).Dur("sweep_interval", cfg.SweepInterval).Msg("starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.Connect(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.Connect(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()

	guard := treatment.NewGuard(treatment.GuardDeps{
		Repo:   treatment.NewPgRepository(pgPool),
		Locker: redisclient.NewRedisLocker(rdb, cfg.LockTTL),
		Logger: log,
	})

	// Run once at startup
	runScan(rootCtx, guard, log)

	// The cron firing is the authoritative nightly audit; the ticker only
	// re-runs detection between firings so new violations surface sooner.
	c := cron.New()
	if _, err := c.AddFunc(cfg.AuditCron, func() {
		runScan(rootCtx, guard, log)
	}); err != nil {
		log.Fatal().Err(err).Str("cron", cfg.AuditCron).Msg("invalid audit cron spec")
	}
	c.Start()
	defer c.Stop()

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping audit worker")
			return
		case <-ticker.C:
			runScan(rootCtx, guard, log)
		}
	}
}

func runScan(ctx context.Context, guard *treatment.Guard, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	violations, err := guard.DetectViolations(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("continuity scan error")
		return
	}

	if len(violations) == 0 {
		log.Info().Dur("took", time.Since(start)).Msg("continuity scan clean")
		return
	}

	for _, v := range violations {
		ids := make([]int64, 0, len(v.Treatments))
		for _, t := range v.Treatments {
			ids = append(ids, t.ID)
		}
		log.Warn().
			Int64("patient_id", v.PatientID).
			Ints64("treatment_ids", ids).
			Msg("patient has multiple active treatments")
	}
	log.Warn().Int("violations", len(violations)).Dur("took", time.Since(start)).Msg("continuity scan found violations")
}

func newLogger(env string) zerolog.Logger {
	if env == "dev" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
