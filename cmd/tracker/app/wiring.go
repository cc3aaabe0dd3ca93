package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/99minutos/tracking-sync/internal/api/handler"
	"github.com/99minutos/tracking-sync/internal/core/detector"
	"github.com/99minutos/tracking-sync/internal/core/domain"
	"github.com/99minutos/tracking-sync/internal/core/normalizer"
	"github.com/99minutos/tracking-sync/internal/core/ports"
	"github.com/99minutos/tracking-sync/internal/core/scheduler"
	"github.com/99minutos/tracking-sync/internal/core/service"
	"github.com/99minutos/tracking-sync/internal/infrastructure/carrier"
	mongodb "github.com/99minutos/tracking-sync/internal/infrastructure/db/mongo"
	redisdb "github.com/99minutos/tracking-sync/internal/infrastructure/db/redis"
	"github.com/99minutos/tracking-sync/internal/infrastructure/memory"
	"github.com/99minutos/tracking-sync/internal/infrastructure/notify"
	"github.com/99minutos/tracking-sync/internal/infrastructure/queue"
	"github.com/99minutos/tracking-sync/internal/pkg/config"
)

// lockSlack is added to the longest carrier timeout to size record locks.
const lockSlack = 5 * time.Second

// components is the wired service graph shared by serve and poll.
type components struct {
	cfg      *config.Config
	store    ports.RecordStore
	pingers  []handler.Pinger
	registry *carrier.Registry
	sched    *scheduler.Scheduler
	health   *service.StoreHealth
	sink     *notify.Sink
	syncer   *service.SyncService
	lanes    map[domain.Carrier]queue.LaneConfig
	closers  []func(context.Context) error
}

func build(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*components, error) {
	c := &components{cfg: cfg, health: service.NewStoreHealth(cfg.Scheduler.StoreUnhealthyAfter)}

	table, err := normalizer.LoadTable(cfg.NormalizationTable)
	if err != nil {
		return nil, err
	}

	var (
		adapterCfgs = make([]carrier.Config, 0, len(domain.Carriers))
		policies    = make(map[domain.Carrier]scheduler.CarrierPolicy, len(domain.Carriers))
		timeouts    = make(map[domain.Carrier]time.Duration, len(domain.Carriers))
	)
	c.lanes = make(map[domain.Carrier]queue.LaneConfig, len(domain.Carriers))
	byCarrier := cfg.Carriers.ByCarrier()
	for _, id := range domain.Carriers {
		cc := byCarrier[id]
		if !cc.Enabled {
			log.Info().Str("carrier", string(id)).Msg("carrier disabled")
			continue
		}
		adapterCfgs = append(adapterCfgs, carrier.Config{Carrier: id, Endpoint: cc.Endpoint, APIKey: cc.APIKey, Enabled: true})
		policies[id] = scheduler.CarrierPolicy{RequestsPerMinute: cc.RateLimit, RetryAttempts: cc.RetryAttempts}
		timeouts[id] = cc.Timeout
		c.lanes[id] = queue.LaneConfig{Workers: cc.Workers}
	}

	c.registry, err = carrier.NewRegistry(adapterCfgs, &http.Client{Transport: http.DefaultTransport})
	if err != nil {
		return nil, err
	}

	c.sched = scheduler.New(scheduler.Config{
		MaxBackoff:    cfg.Scheduler.MaxBackoff,
		TerminalGrace: cfg.Scheduler.TerminalGrace,
		Carriers:      policies,
	}, log)

	var (
		locker   ports.Locker
		handlers []ports.TriggerHandler
	)
	switch cfg.StoreBackend {
	case config.StoreMemory:
		c.store = memory.NewStore()
		locker = memory.NewLocker()
		log.Warn().Msg("in-memory record store: records are lost on restart and locks are process-local")
	default:
		locker, handlers, err = c.connectMongoRedis(ctx, cfg, log)
		if err != nil {
			c.close(ctx, log)
			return nil, err
		}
	}
	handlers = append(handlers, notify.NewLogHandler(log))

	c.sink = notify.New(notify.Config{
		Buffer:         cfg.Notifier.Buffer,
		Workers:        cfg.Notifier.Workers,
		HandlerTimeout: cfg.Notifier.HandlerTimeout,
	}, handlers, log)

	c.syncer = service.NewSyncService(service.SyncDeps{
		Adapters:   c.registry,
		Store:      c.store,
		Locker:     locker,
		Normalizer: normalizer.New(table, log),
		Detector:   detector.New(cfg.Scheduler.ETAThreshold),
		Sink:       c.sink,
		Health:     c.health,
		Timeouts:   timeouts,
	}, log)

	return c, nil
}

func (c *components) connectMongoRedis(ctx context.Context, cfg *config.Config, log zerolog.Logger) (ports.Locker, []ports.TriggerHandler, error) {
	mongoClient, db, err := mongodb.Connect(ctx, mongodb.Config{
		URI:      cfg.Mongo.URI,
		Database: cfg.Mongo.Database,
		Timeout:  cfg.Mongo.Timeout,
	})
	if err != nil {
		return nil, nil, err
	}
	c.closers = append(c.closers, mongoClient.Disconnect)
	c.pingers = append(c.pingers, mongodb.NewPinger(mongoClient))

	records := mongodb.NewRecordRepository(db)
	if err := records.EnsureIndexes(ctx); err != nil {
		return nil, nil, fmt.Errorf("record indexes: %w", err)
	}
	c.store = records

	redisClient, err := redisdb.Connect(ctx, redisdb.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, nil, err
	}
	c.closers = append(c.closers, func(context.Context) error { return redisClient.Close() })
	c.pingers = append(c.pingers, redisdb.NewPinger(redisClient))

	handlers := []ports.TriggerHandler{
		redisdb.NewStreamPublisher(redisClient, cfg.Notifier.Stream, cfg.Notifier.StreamMaxLen),
	}
	if cfg.Notifier.Audit {
		audit := mongodb.NewTriggerRepository(db)
		if err := audit.EnsureIndexes(ctx); err != nil {
			return nil, nil, fmt.Errorf("trigger audit indexes: %w", err)
		}
		handlers = append(handlers, audit)
	}

	log.Info().
		Str("mongo_db", cfg.Mongo.Database).
		Str("redis_addr", cfg.Redis.Addr).
		Msg("record store connected")

	lockTTL := cfg.Carriers.MaxTimeout() + lockSlack
	return redisdb.NewLocker(redisClient, lockTTL, log), handlers, nil
}

// close releases external connections in reverse order.
func (c *components) close(ctx context.Context, log zerolog.Logger) {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("closing connections")
	}
}
