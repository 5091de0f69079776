package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/lightsout/go/internal/events"
	"github.com/mcdev12/lightsout/go/internal/gateway"
	"github.com/mcdev12/lightsout/go/internal/health"
	"github.com/mcdev12/lightsout/go/internal/ingest"
	"github.com/mcdev12/lightsout/go/internal/leaderboard"
	"github.com/mcdev12/lightsout/go/internal/metrics"
	"github.com/mcdev12/lightsout/go/internal/photo"
	"github.com/mcdev12/lightsout/go/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Registry    *prometheus.Registry
	Ingestor    *ingest.Ingestor
	Store       *leaderboard.Store
	Controller  *session.Controller
	Connections *gateway.ConnectionManager
	Handler     *gateway.Handler
	Dispatcher  *events.Dispatcher
	Health      *health.Checker

	publisher  events.Publisher
	embedded   *events.EmbeddedServer
	closeStore func() error

	wg sync.WaitGroup
}

func setupServices(ctx context.Context, config *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Repository → Store → Controller → Gateway, with the ingestor and
	// event dispatcher hanging off the controller
	s := &Services{Registry: prometheus.NewRegistry()}
	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(s.Registry)

	// Leaderboard
	repo, closeStore, err := setupRepository(ctx, config.Leaderboard)
	if err != nil {
		return nil, err
	}
	s.closeStore = closeStore
	s.Store = leaderboard.NewStore(repo).WithMetrics(collector)
	if err := s.Store.Load(ctx); err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to load leaderboard: %w", err)
	}

	// Peripheral
	s.Ingestor = ingest.NewIngestor(setupOpener(config.Serial), ingest.Config{
		ReconnectInterval: config.Serial.ReconnectInterval,
		ArmByte:           config.Serial.ArmByte[0],
	}).WithMetrics(collector)

	// Camera
	capturer, err := photo.New(config.Photo)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("failed to set up photo capture: %w", err)
	}

	// Session
	s.Controller = session.NewController(s.Store, s.Ingestor, capturer, session.Config{
		Dwell:         config.Session.Dwell,
		SweepInterval: config.Session.SweepInterval,
	}).WithMetrics(collector)

	// Displays
	s.Connections = gateway.NewConnectionManager(gateway.DefaultConnectionConfig(), s.Controller).
		WithMetrics(collector)
	s.Handler = gateway.NewHandler(s.Controller, s.Connections)
	s.Controller.AddObserver(s.Connections)

	// Events
	if err := s.setupEvents(ctx, config.NATS); err != nil {
		s.closeStore()
		return nil, err
	}
	s.Dispatcher = events.NewDispatcher(s.publisher, events.DefaultDispatcherConfig()).
		WithMetrics(collector)
	s.Controller.AddObserver(s.Dispatcher)

	// Health
	var broker health.Broker
	if b, ok := s.publisher.(health.Broker); ok {
		broker = b
	}
	s.Health = health.NewChecker(s.Ingestor, s.Dispatcher, broker, s.Connections)

	return s, nil
}

func setupOpener(cfg SerialConfig) ingest.Opener {
	if cfg.Transport == transportTCP {
		return ingest.TCPOpener{
			Address:     cfg.Address,
			DialTimeout: cfg.ReconnectInterval,
			ReadTimeout: cfg.ReadTimeout,
		}
	}
	return ingest.SerialOpener{
		Device:      cfg.Port,
		BaudRate:    cfg.Baud,
		ReadTimeout: cfg.ReadTimeout,
	}
}

func (s *Services) setupEvents(ctx context.Context, cfg NATSConfig) error {
	if !cfg.Enabled {
		s.publisher = events.LogPublisher{}
		return nil
	}

	url := cfg.URL
	if cfg.Embedded {
		embedded, err := events.StartEmbeddedServer(events.EmbeddedConfig{
			Host:     "127.0.0.1",
			Port:     -1,
			StoreDir: cfg.StoreDir,
		})
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		s.embedded = embedded
		url = embedded.ClientURL()
	}

	jsCfg := events.DefaultJetStreamConfig()
	jsCfg.URL = url
	jsCfg.Stream = cfg.Stream
	jsCfg.SubjectPrefix = cfg.SubjectPrefix
	jsCfg.Retention = cfg.Retention

	publisher, err := events.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		if s.embedded != nil {
			s.embedded.Shutdown()
		}
		return fmt.Errorf("failed to create JetStream publisher: %w", err)
	}
	s.publisher = publisher
	return nil
}

// Start launches the background workers; they stop when ctx is done
func (s *Services) Start(ctx context.Context) error {
	if err := s.Dispatcher.Start(ctx); err != nil {
		return err
	}

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.Connections.Start(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.Controller.RunSweeper(ctx)
	}()
	go func() {
		defer s.wg.Done()
		if err := s.Controller.Consume(ctx, s.Ingestor); err != nil {
			log.Error().Err(err).Msg("session event consumer failed")
		}
	}()
	return nil
}

// Shutdown waits for the workers, flushes pending events and releases every
// resource. ctx bounds the event flush.
func (s *Services) Shutdown(ctx context.Context) {
	s.wg.Wait()

	if err := s.Dispatcher.Stop(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to stop event dispatcher")
	}
	if err := s.publisher.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close event publisher")
	}
	if s.embedded != nil {
		s.embedded.Shutdown()
	}
	if err := s.Ingestor.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close peripheral channel")
	}
	if err := s.closeStore(); err != nil {
		log.Warn().Err(err).Msg("failed to close leaderboard storage")
	}
}
