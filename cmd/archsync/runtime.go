package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"archsync/internal/app"
	"archsync/internal/archive"
	"archsync/internal/config"
	"archsync/internal/gitrepo"
	"archsync/internal/graph"
	"archsync/internal/graphsync"
	"archsync/internal/logger"
	"archsync/internal/metrics"
	"archsync/internal/neo4jdb"
	"archsync/internal/passlock"
	"archsync/internal/search"
	"archsync/internal/store"
)

// runtime owns every backend handle opened for one command. Close releases
// them all and is safe on a partially opened runtime.
type runtime struct {
	cfg     config.Config
	log     *logger.Logger
	neo     *neo4jdb.Client
	graph   *graph.Neo4jStore
	db      *sql.DB
	ledger  *store.PostgresStore
	locker  *passlock.RedisLocker
	meili   *search.Meili
	archive archive.Archiver
	git     *gitrepo.Reader
	metrics *metrics.Collectors
	svc     *app.Service
}

// openRuntime connects to the graph (required) and to every optional backend
// that is configured. A graph that is configured but unreachable is fatal;
// ledger and archive outages only disable those features.
func openRuntime(ctx context.Context, cfg config.Config, log *logger.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, log: log, metrics: metrics.New()}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	if cfg.GitRepo != "" {
		rt.git, err = gitrepo.Open(cfg.GitRepo)
		if err != nil {
			return rt, fmt.Errorf("%w: %v", config.ErrConfiguration, err)
		}
	}

	rt.neo, err = neo4jdb.New(ctx, neo4jdb.Options{
		URI:      cfg.Neo4jURI,
		User:     cfg.Neo4jUser,
		Password: cfg.Neo4jPassword,
		Database: cfg.Neo4jDatabase,
		Timeout:  cfg.StoreTimeout,
	}, log)
	if err != nil {
		return rt, fmt.Errorf("%w: %v", graphsync.ErrBackendUnavailable, err)
	}
	rt.graph = graph.NewNeo4jStore(rt.neo, log)
	constraintsCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	if err := rt.graph.EnsureConstraints(constraintsCtx); err != nil {
		log.Warn("ensure graph constraints", "error", err)
	}
	cancel()

	if cfg.RedisURL != "" {
		rt.locker, err = passlock.NewRedisLocker(cfg.RedisURL, cfg.LockTTL)
		if err != nil {
			return rt, fmt.Errorf("%w: redis lock: %v", graphsync.ErrBackendUnavailable, err)
		}
		log.Info("using redis for single-flight sync locks")
	}

	if cfg.DatabaseURL != "" {
		rt.openLedger(ctx)
	}

	if strings.TrimSpace(cfg.MeiliURL) != "" {
		rt.meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
	}

	if cfg.ArchiveEnabled() {
		minioArchive, archiveErr := archive.NewMinio(ctx, archive.Options{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if archiveErr != nil {
			log.Warn("snapshot archive disabled", "error", archiveErr)
		} else {
			rt.archive = minioArchive
		}
	}
	return rt, nil
}

func (rt *runtime) openLedger(ctx context.Context) {
	db, err := store.Open(ctx, rt.cfg.DatabaseURL)
	if err != nil {
		rt.log.Warn("sync ledger disabled", "error", err)
		return
	}
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		rt.log.Warn("sync ledger disabled, migrations failed", "error", err)
		_ = db.Close()
		return
	}
	rt.db = db
	rt.ledger = store.NewPostgresStore(db)
}

// service builds the facade over the opened backends once. Optional handles
// are only passed when set so nil pointers never hide inside interfaces.
func (rt *runtime) service() *app.Service {
	if rt.svc != nil {
		return rt.svc
	}
	deps := app.Deps{
		Graph:   rt.graph,
		Meili:   rt.meili,
		Archive: rt.archive,
		Metrics: rt.metrics,
		Git:     rt.git,
		Log:     rt.log,
	}
	if rt.locker != nil {
		deps.Locker = rt.locker
	}
	if rt.ledger != nil {
		deps.Ledger = rt.ledger
	}
	rt.svc = app.New(rt.cfg, deps)
	return rt.svc
}

func (rt *runtime) drainTimeout() time.Duration {
	if rt.cfg.StoreTimeout > 0 {
		return rt.cfg.StoreTimeout
	}
	return 10 * time.Second
}

func (rt *runtime) Close() {
	if rt == nil {
		return
	}
	if rt.svc != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), rt.drainTimeout())
		if err := rt.svc.Drain(drainCtx); err != nil {
			rt.log.Warn("search mirror still pending at shutdown", "error", err)
		}
		cancel()
	}
	if rt.meili != nil {
		rt.meili.Close()
	}
	if rt.locker != nil {
		if err := rt.locker.Close(); err != nil {
			rt.log.Warn("close redis", "error", err)
		}
	}
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.log.Warn("close database", "error", err)
		}
	}
	if rt.neo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.neo.Close(ctx); err != nil {
			rt.log.Warn("close neo4j", "error", err)
		}
	}
	rt.log.Sync()
}
