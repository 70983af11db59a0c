// Package app wires the ledger engine together: database, settings
// snapshot, pipeline components, and background maintenance jobs.
package app

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/rephlo/token-ledger/internal/config"
	"github.com/rephlo/token-ledger/internal/credit"
	"github.com/rephlo/token-ledger/internal/db"
	"github.com/rephlo/token-ledger/internal/ledger"
	"github.com/rephlo/token-ledger/internal/logging"
	"github.com/rephlo/token-ledger/internal/models"
	"github.com/rephlo/token-ledger/internal/params"
	"github.com/rephlo/token-ledger/internal/pricing"
	"github.com/rephlo/token-ledger/internal/proration"
	"github.com/rephlo/token-ledger/internal/settings"
	"github.com/rephlo/token-ledger/internal/tokenusage"
)

// settingsRefreshInterval bounds how stale the DB settings snapshot can get.
const settingsRefreshInterval = time.Minute

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg *config.Config) error {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return errOpen
	}
	return db.Migrate(conn)
}

// Build opens the database, loads settings, and assembles the engine with
// its background collaborators. The returned stop function releases queue
// and worker resources.
func Build(ctx context.Context, cfg *config.Config) (*Engine, func(), error) {
	conn, errOpen := db.Open(cfg.Database.DSN)
	if errOpen != nil {
		return nil, nil, errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return nil, nil, errMigrate
	}
	if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
		return nil, nil, errRefresh
	}
	go refreshSettingsLoop(ctx, conn)

	registry := params.NewRegistry()
	if cfg.Pricing.SpecsFile != "" {
		if errLoad := registry.LoadSpecsFile(cfg.Pricing.SpecsFile); errLoad != nil {
			return nil, nil, errLoad
		}
	}

	credits := credit.NewGormService(conn)

	var dedup *redis.Client
	var queue *ledger.DebitQueue
	if cfg.Redis.Enabled {
		dedup = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		var errQueue error
		queue, errQueue = ledger.NewDebitQueue(redisOpt(cfg.Redis))
		if errQueue != nil {
			log.WithError(errQueue).Warn("app: redis queue unavailable, relying on reconciler sweep")
			queue = nil
		}
	}

	writer := ledger.NewWriter(conn, credits, dedup, queue)

	var worker *ledger.DebitWorker
	if queue != nil {
		worker = ledger.NewDebitWorker(redisOpt(cfg.Redis), writer)
		if errStart := worker.Start(); errStart != nil {
			return nil, nil, errStart
		}
	}

	ledger.NewReconciler(writer).Start(ctx)
	ledger.NewRetentionCleaner(conn).Start(ctx)

	engine := &Engine{
		Params:   registry,
		Parser:   tokenusage.NewParser(),
		Rates:    pricing.NewRateRegistry(),
		Writer:   writer,
		Recorder: proration.NewRecorder(conn),
		Credits:  credits,
	}

	scheduler, errCron := startCron(cfg.Jobs, writer)
	if errCron != nil {
		return nil, nil, errCron
	}

	stop := func() {
		if scheduler != nil {
			scheduler.Stop()
		}
		if worker != nil {
			worker.Stop()
		}
		if queue != nil {
			_ = queue.Close()
		}
		if dedup != nil {
			_ = dedup.Close()
		}
	}
	log.Infof("token ledger engine ready (dialect=%s)", db.DialectName(conn))
	return engine, stop, nil
}

// Run boots the engine and blocks until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logging.Setup(cfg.Logging)

	_, stop, errBuild := Build(ctx, cfg)
	if errBuild != nil {
		return errBuild
	}
	defer stop()

	<-ctx.Done()
	return ctx.Err()
}

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// refreshSettingsLoop keeps the in-memory settings snapshot current.
func refreshSettingsLoop(ctx context.Context, conn *gorm.DB) {
	ticker := time.NewTicker(settingsRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if errRefresh := settings.RefreshDBConfigSnapshot(ctx, conn); errRefresh != nil {
				log.WithError(errRefresh).Warn("app: settings refresh failed")
			}
		}
	}
}

// startCron schedules the nightly rebuild of the previous UTC day's
// summaries, verifying the derived rows against the ledger.
func startCron(jobs config.JobsConfig, writer *ledger.Writer) (*cron.Cron, error) {
	if jobs.SummaryRebuildCron == "" {
		return nil, nil
	}
	scheduler := cron.New(cron.WithLocation(time.UTC))
	_, errAdd := scheduler.AddFunc(jobs.SummaryRebuildCron, func() {
		day := models.SummaryDay(time.Now().UTC().AddDate(0, 0, -1))
		if errRebuild := writer.RebuildDaySummaries(context.Background(), day); errRebuild != nil {
			log.WithError(errRebuild).Warnf("app: nightly summary rebuild failed (day=%s)", day)
			return
		}
		log.Infof("app: nightly summary rebuild complete (day=%s)", day)
	})
	if errAdd != nil {
		return nil, errAdd
	}
	scheduler.Start()
	return scheduler, nil
}
