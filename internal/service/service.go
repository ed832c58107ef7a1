// Package service wires the analytics engine to its feed, sinks, stores
// and HTTP surface, and owns their lifecycle.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"coinarius-analytics/config"
	"coinarius-analytics/internal/api"
	"coinarius-analytics/internal/calculator"
	"coinarius-analytics/internal/engine"
	"coinarius-analytics/internal/feed"
	"coinarius-analytics/internal/gateway"
	"coinarius-analytics/internal/logger"
	"coinarius-analytics/internal/metrics"
	"coinarius-analytics/internal/model"
	"coinarius-analytics/internal/notification"
	kafkastore "coinarius-analytics/internal/store/kafka"
	redisstore "coinarius-analytics/internal/store/redis"
	sqlitestore "coinarius-analytics/internal/store/sqlite"
)

// Option overrides a collaborator, mainly for tests.
type Option func(*Service)

// WithFeed replaces the LunarCrush client.
func WithFeed(c feed.Client) Option {
	return func(s *Service) { s.feed = c }
}

// WithLogger replaces the logger built from the config.
func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// Service is the top-level orchestrator.
type Service struct {
	cfg *config.Config
	log *logger.Logger

	prom   *metrics.Metrics
	health *metrics.HealthStatus

	universe *model.Universe
	feed     feed.Client
	engine   *engine.Engine
	worker   *engine.Worker
	hub      *gateway.Hub
	server   *api.Server

	redisPub    *redisstore.Publisher
	redisSink   *redisstore.BufferedPublisher
	redisReader *redisstore.Reader
	kafka       *kafkastore.Producer
	store       *sqlitestore.Store
	checkpoint  *sqlitestore.Checkpointer
	alerts      *notification.AlertSink
}

// New builds every component enabled in cfg. Connections to Redis are
// made here; a failure is returned.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if s.log == nil {
		l, err := logger.New(cfg.Service, cfg.Log)
		if err != nil {
			return nil, err
		}
		s.log = l
	}

	var err error
	if s.universe, err = cfg.Universe(); err != nil {
		return nil, err
	}
	ids, err := cfg.CalculatorIDs()
	if err != nil {
		return nil, err
	}
	registry, err := calculator.Build(ids)
	if err != nil {
		return nil, err
	}

	if s.feed == nil {
		if s.feed, err = feed.NewLunarCrushClient(feed.LunarCrushConfig{
			BaseURL:  cfg.Feed.BaseURL,
			APIKey:   cfg.Feed.APIKey,
			Symbols:  s.universe.Codes(),
			Interval: cfg.Feed.Interval,
			Timeout:  cfg.Feed.Timeout,
		}); err != nil {
			return nil, err
		}
	}

	s.prom = metrics.NewMetrics()
	s.health = metrics.NewHealthStatus(3 * cfg.Engine.UpdateLag)

	s.engine = engine.New(s.feed, s.universe, registry,
		engine.WithLogger(s.log),
		engine.WithObserver(s.prom),
		engine.WithInitialPoints(cfg.Engine.InitialPoints),
		engine.WithRefreshPoints(cfg.Engine.RefreshPoints),
		engine.WithFullInterval(cfg.Engine.FullInterval),
		engine.WithMaxHistory(cfg.Engine.MaxHistory),
	)

	s.hub = gateway.NewHub(s.log, cfg.HTTP.ReplaySize)
	s.hub.OnClients = func(n int) { s.prom.WSClients.Set(float64(n)) }
	s.hub.OnDrop = s.prom.WSDropsTotal.Inc

	if err := s.openStores(); err != nil {
		s.closeStores()
		return nil, err
	}

	s.worker = engine.NewWorker(s.engine, cfg.Engine.UpdateLag, s.sinks(),
		engine.WithWorkerLogger(s.log),
		engine.WithCycleTimeout(cfg.Engine.CycleTimeout),
		engine.WithPublishObserver(s.prom),
		engine.WithCycleHook(s.afterCycle),
	)

	deps := api.Deps{
		Source:   s.engine,
		Universe: s.universe,
		Health:   s.health,
		Metrics:  s.prom.Handler(),
		Stream:   s.hub,
		Log:      s.log,
	}
	switch {
	case s.redisReader != nil:
		deps.Fallback = s.redisReader
	case s.store != nil:
		deps.Fallback = s.store
	}
	if s.store != nil {
		deps.History = s.store
	}
	s.server = api.NewServer(api.NewHandler(deps), s.log,
		api.WithAddr(cfg.HTTP.Addr),
		api.WithTimeouts(cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, cfg.HTTP.ShutdownTimeout),
	)
	return s, nil
}

func (s *Service) openStores() error {
	cfg := s.cfg

	if cfg.Redis.Enabled {
		rcfg := redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			LatestKey: cfg.Redis.LatestKey,
			Channel:   cfg.Redis.Channel,
			TTL:       cfg.Redis.TTL,
		}
		pub, err := redisstore.New(rcfg)
		if err != nil {
			return err
		}
		s.redisPub = pub
		s.redisReader = redisstore.NewReader(pub.Client(), pub.Config())

		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			s.prom.ObserveBreaker(int(to))
			s.log.Warn("redis circuit breaker",
				logger.String("from", from.String()), logger.String("to", to.String()))
		}
		s.redisSink = redisstore.NewBufferedPublisher(pub, cb)
		s.health.EnableRedis()
	}

	if cfg.SQLite.Enabled {
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("sqlite dir: %w", err)
			}
		}
		st, err := sqlitestore.Open(sqlitestore.Config{Path: cfg.SQLite.Path, Keep: cfg.SQLite.Keep})
		if err != nil {
			return err
		}
		s.store = st
		s.checkpoint = sqlitestore.NewCheckpointer(st, s.engine, s.log)
		s.checkpoint.OnSave = func(uint64) { s.prom.SnapshotsSaved.Inc() }
		s.health.EnableSQLite()
	}

	if cfg.Kafka.Enabled {
		p, err := kafkastore.NewProducer(
			kafkastore.WithBrokers(cfg.Kafka.Brokers...),
			kafkastore.WithTopic(cfg.Kafka.Topic),
		)
		if err != nil {
			return err
		}
		s.kafka = p
	}

	if cfg.Alerts.Enabled {
		notifiers := notification.Multi{notification.NewLogNotifier(s.log)}
		if cfg.Alerts.WebhookURL != "" {
			notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.Alerts.WebhookURL,
				notification.WithWebhookSecret(cfg.Alerts.WebhookSecret)))
		}
		if cfg.Alerts.TelegramToken != "" {
			notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.Alerts.TelegramToken, cfg.Alerts.TelegramChatID))
		}
		s.alerts = notification.NewAlertSink(notifiers, cfg.Alerts.Threshold, cfg.Alerts.Cooldown)
		s.alerts.OnAlert = func(symbol string) { s.prom.AlertsTotal.WithLabelValues(symbol).Inc() }
	}
	return nil
}

// sinks lists the enabled output sinks. With the Redis relay on, socket
// clients are fed from the PubSub channel instead of directly.
func (s *Service) sinks() []model.OutputSink {
	var sinks []model.OutputSink
	if s.redisSink != nil {
		sinks = append(sinks, s.redisSink)
	}
	if s.kafka != nil {
		sinks = append(sinks, s.kafka)
	}
	if !s.relaying() {
		sinks = append(sinks, s.hub)
	}
	if s.alerts != nil {
		sinks = append(sinks, s.alerts)
	}
	return sinks
}

func (s *Service) relaying() bool {
	return s.cfg.Redis.Relay && s.redisReader != nil
}

// afterCycle feeds health and metrics with a cycle result.
func (s *Service) afterCycle(out *model.Output, err error) {
	if err != nil {
		var fe *engine.UpstreamFetchError
		if errors.As(err, &fe) {
			s.prom.FetchErrors.Inc()
		}
		s.health.RecordCycle(0, time.Time{}, err)
		return
	}
	s.health.RecordCycle(out.Version, out.UpdatedAt, nil)
	s.prom.ObserveOutput(out)
}

// Bootstrap runs the initial full pass and publishes it. A failure is
// logged; the worker retries initialisation on its first cycle.
func (s *Service) Bootstrap(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.cfg.Engine.CycleTimeout)
	defer cancel()

	err := s.engine.Initialise(cctx)
	out := s.engine.Output()
	s.afterCycle(out, err)
	if err != nil {
		s.log.Error("initialisation failed, will retry on next cycle", logger.Error(err))
		return
	}
	s.worker.Publish(cctx, out)
}

// Run starts every subsystem and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("starting analytics service",
		logger.Strings("symbols", s.universe.Codes()),
		logger.Duration("update_lag", s.cfg.Engine.UpdateLag),
		logger.Bool("redis", s.redisPub != nil),
		logger.Bool("sqlite", s.store != nil),
		logger.Bool("kafka", s.kafka != nil),
		logger.Bool("alerts", s.alerts != nil),
	)

	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.server.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	if db := s.sqlDB(); s.redisPub != nil || db != nil {
		s.health.StartLivenessChecker(ctx, s.redisClient(), db, 15*time.Second)
	}

	if s.redisSink != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.redisSink.RunFlusher(ctx, 10*time.Second)
		}()
	}
	if s.relaying() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gateway.NewPubSubRouter(s.hub, s.redisReader).Run(ctx)
		}()
	}

	var cr *cron.Cron
	if s.checkpoint != nil {
		var err error
		if cr, err = s.checkpoint.Schedule(s.cfg.SQLite.CheckpointCron); err != nil {
			s.log.Error("checkpoint schedule rejected", logger.Error(err))
		}
	}

	s.Bootstrap(ctx)

	runErr := s.worker.Run(ctx)
	select {
	case err := <-errCh:
		runErr = errors.Join(runErr, err)
	default:
	}

	if cr != nil {
		<-cr.Stop().Done()
	}
	s.shutdown()
	wg.Wait()
	return runErr
}

func (s *Service) redisClient() *goredis.Client {
	if s.redisPub == nil {
		return nil
	}
	return s.redisPub.Client()
}

func (s *Service) sqlDB() *sql.DB {
	if s.store == nil {
		return nil
	}
	return s.store.DB()
}

// shutdown saves a final checkpoint and closes every connection.
func (s *Service) shutdown() {
	s.log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.checkpoint != nil {
		if _, err := s.checkpoint.Save(ctx); err != nil {
			s.log.Error("final checkpoint failed", logger.Error(err))
		}
	}
	if s.redisSink != nil {
		if err := s.redisSink.Flush(ctx); err != nil {
			s.log.Warn("redis flush on shutdown failed", logger.Error(err))
		}
	}
	s.hub.Close()
	s.closeStores()
	s.log.Info("shutdown complete")
}

func (s *Service) closeStores() {
	if s.kafka != nil {
		s.kafka.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.redisPub != nil {
		s.redisPub.Close()
	}
}

// Engine exposes the engine for embedding and tests.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Hub exposes the socket hub.
func (s *Service) Hub() *gateway.Hub { return s.hub }

// Server exposes the HTTP server.
func (s *Service) Server() *api.Server { return s.server }
