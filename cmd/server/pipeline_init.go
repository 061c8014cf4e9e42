// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/jtciou26/notestream/internal/config"
	"github.com/jtciou26/notestream/internal/database"
	"github.com/jtciou26/notestream/internal/eventpipeline"
	"github.com/jtciou26/notestream/internal/logging"
)

// PipelineComponents holds the messaging stack for lifecycle management:
// the embedded NATS server, JetStream stream, publisher, Watermill router
// with its consumer handlers, and the DuckDB appender feeding the store.
type PipelineComponents struct {
	server        *eventpipeline.EmbeddedServer
	natsConn      *natsgo.Conn
	streamManager *eventpipeline.StreamManager
	publisher     *eventpipeline.Publisher

	router           *eventpipeline.Router
	eventsSubscriber *eventpipeline.Subscriber
	poisonSubscriber *eventpipeline.Subscriber
	handler          *eventpipeline.Handler
	dlqHandler       *eventpipeline.DLQHandler

	appender    *eventpipeline.Appender
	retryWorker *eventpipeline.AutoRetryWorker

	healthChecker *eventpipeline.HealthChecker

	mu      sync.Mutex
	running bool
}

// InitPipeline assembles the event pipeline: broker, stream, publisher,
// router, consumer handlers, and the batch appender writing to db.
//
//nolint:gocyclo // Sequential multi-component initialization
func InitPipeline(cfg *config.Config, db *database.DB) (*PipelineComponents, error) {
	logging.Info().Msg("Initializing event pipeline...")

	components := &PipelineComponents{}

	var natsURL string

	// Step 1: Embedded NATS server, or an external one from config.
	if cfg.NATS.EmbeddedServer {
		serverCfg := eventpipeline.DefaultServerConfig()
		serverCfg.StoreDir = cfg.NATS.StoreDir
		serverCfg.JetStreamMaxMem = cfg.NATS.MaxMemory
		serverCfg.JetStreamMaxStore = cfg.NATS.MaxStore

		server, err := eventpipeline.NewEmbeddedServer(&serverCfg)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS server: %w", err)
		}
		components.server = server
		natsURL = server.ClientURL()
		logging.Info().Str("url", natsURL).Msg("Embedded NATS server started")
	} else {
		natsURL = cfg.NATS.URL
		logging.Info().Str("url", natsURL).Msg("Using external NATS server")
	}

	// Step 2: Core NATS connection for stream administration.
	nc, err := natsgo.Connect(natsURL,
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
	)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	components.natsConn = nc

	// Step 3: Ensure the events stream exists.
	streamCfg := eventpipeline.DefaultStreamConfig()
	if cfg.NATS.StreamRetentionDays > 0 {
		streamCfg.MaxAge = time.Duration(cfg.NATS.StreamRetentionDays) * 24 * time.Hour
	}

	streamManager, err := eventpipeline.NewStreamManager(nc, &streamCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create stream manager: %w", err)
	}
	components.streamManager = streamManager

	stream, err := streamManager.EnsureStream(context.Background())
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("ensure stream exists: %w", err)
	}
	streamInfo := stream.CachedInfo()
	logging.Info().
		Str("name", streamInfo.Config.Name).
		Strs("subjects", streamInfo.Config.Subjects).
		Dur("max_age", streamInfo.Config.MaxAge).
		Msg("JetStream stream ready")

	// Step 4: Publisher with a circuit breaker guarding publishes.
	publisher, err := eventpipeline.NewPublisher(eventpipeline.DefaultPublisherConfig(natsURL), nil)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	publisher.SetCircuitBreaker(eventpipeline.NewCircuitBreaker(
		eventpipeline.DefaultCircuitBreakerConfig("nats-publish")))
	components.publisher = publisher
	logging.Info().Msg("NATS publisher created")

	// Step 5: Router with retry, throttle, and poison queue middleware.
	routerCfg := eventpipeline.DefaultRouterConfig()
	if cfg.NATS.RouterRetryCount > 0 {
		routerCfg.RetryMaxRetries = cfg.NATS.RouterRetryCount
	}
	if cfg.NATS.RouterRetryInitialInterval > 0 {
		routerCfg.RetryInitialInterval = cfg.NATS.RouterRetryInitialInterval
		routerCfg.RetryMaxInterval = cfg.NATS.RouterRetryInitialInterval * 10
	}
	routerCfg.ThrottlePerSecond = int64(cfg.NATS.RouterThrottlePerSecond)
	if cfg.NATS.RouterCloseTimeout > 0 {
		routerCfg.CloseTimeout = cfg.NATS.RouterCloseTimeout
	}
	routerCfg.PoisonQueueTopic = ""
	var poisonPub message.Publisher
	if cfg.NATS.RouterPoisonQueueEnabled {
		routerCfg.PoisonQueueTopic = cfg.NATS.RouterPoisonQueueTopic
		if routerCfg.PoisonQueueTopic == "" {
			routerCfg.PoisonQueueTopic = eventpipeline.TopicPoison
		}
		poisonPub = publisher.WatermillPublisher()
	}

	router, err := eventpipeline.NewRouter(&routerCfg, poisonPub, nil)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create router: %w", err)
	}
	components.router = router
	logging.Info().
		Int("retry", routerCfg.RetryMaxRetries).
		Bool("poison", cfg.NATS.RouterPoisonQueueEnabled).
		Msg("Watermill router created")

	// Step 6: Batch appender writing normalized events into DuckDB.
	appenderCfg := eventpipeline.DefaultAppenderConfig()
	if cfg.NATS.BatchSize > 0 {
		appenderCfg.BatchSize = cfg.NATS.BatchSize
	}
	if cfg.NATS.FlushInterval > 0 {
		appenderCfg.FlushInterval = cfg.NATS.FlushInterval
	}
	appender, err := eventpipeline.NewAppender(db, appenderCfg)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create appender: %w", err)
	}
	components.appender = appender
	logging.Info().
		Int("batch_size", appenderCfg.BatchSize).
		Dur("flush_interval", appenderCfg.FlushInterval).
		Msg("Store appender created")

	// Step 7: Consumer handler normalizing inbound payloads.
	handlerCfg := eventpipeline.DefaultHandlerConfig()
	if cfg.Pipeline.DefaultEventName != "" {
		handlerCfg.DefaultEventName = cfg.Pipeline.DefaultEventName
	}
	handlerCfg.SyncFlush = cfg.Pipeline.SyncFlush
	handler, err := eventpipeline.NewHandler(appender, handlerCfg, nil)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create handler: %w", err)
	}
	components.handler = handler

	subscriberCfg := eventpipeline.DefaultSubscriberConfig(natsURL)
	if cfg.NATS.DurableName != "" {
		subscriberCfg.DurableName = cfg.NATS.DurableName
	}
	if cfg.NATS.QueueGroup != "" {
		subscriberCfg.QueueGroup = cfg.NATS.QueueGroup
	}
	subscriberCfg.StreamName = streamCfg.Name
	eventsSubscriber, err := eventpipeline.NewSubscriber(&subscriberCfg, nil)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create events subscriber: %w", err)
	}
	components.eventsSubscriber = eventsSubscriber

	router.AddConsumerHandler(
		"event-writer",
		eventpipeline.TopicNoteEvents,
		eventsSubscriber,
		handler.Handle,
	)
	logging.Info().Msg("Event consumer registered with router")

	// Step 8: Dead letter recorder on the poison topic.
	dlqCfg := eventpipeline.DefaultDLQConfig()
	if cfg.DLQ.MaxRetries > 0 {
		dlqCfg.MaxRetries = cfg.DLQ.MaxRetries
	}
	dlqHandler, err := eventpipeline.NewDLQHandler(db, dlqCfg, nil)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create DLQ handler: %w", err)
	}
	components.dlqHandler = dlqHandler

	poisonSubscriberCfg := eventpipeline.DefaultSubscriberConfig(natsURL)
	poisonSubscriberCfg.DurableName = subscriberCfg.DurableName + "-dlq"
	poisonSubscriberCfg.QueueGroup = subscriberCfg.QueueGroup + "-dlq"
	poisonSubscriberCfg.SubscribersCount = 1
	poisonSubscriberCfg.StreamName = streamCfg.Name
	poisonSubscriber, err := eventpipeline.NewSubscriber(&poisonSubscriberCfg, nil)
	if err != nil {
		components.Shutdown(context.Background())
		return nil, fmt.Errorf("create poison subscriber: %w", err)
	}
	components.poisonSubscriber = poisonSubscriber

	router.AddConsumerHandler(
		"dlq-recorder",
		eventpipeline.TopicPoison,
		poisonSubscriber,
		dlqHandler.Handle,
	)
	logging.Info().Msg("Dead letter recorder registered with router")

	// Step 9: Background retry worker for failed events.
	if cfg.DLQ.AutoRetryEnabled {
		retryCfg := eventpipeline.DefaultAutoRetryConfig()
		if cfg.DLQ.RetryInterval > 0 {
			retryCfg.RetryInterval = cfg.DLQ.RetryInterval
		}
		if cfg.DLQ.RetryPerSecond > 0 {
			retryCfg.RetryRate = rate.Limit(cfg.DLQ.RetryPerSecond)
		}
		retryWorker, err := eventpipeline.NewAutoRetryWorker(db, publisher, dlqHandler, retryCfg, nil)
		if err != nil {
			components.Shutdown(context.Background())
			return nil, fmt.Errorf("create retry worker: %w", err)
		}
		components.retryWorker = retryWorker
		logging.Info().
			Dur("interval", retryCfg.RetryInterval).
			Msg("Dead letter auto-retry enabled")
	} else {
		logging.Info().Msg("Dead letter auto-retry disabled")
	}

	// Step 10: Health checker over the long-lived components.
	healthChecker := eventpipeline.NewHealthChecker(eventpipeline.DefaultHealthConfig())
	healthChecker.RegisterComponent("publisher", publisher)
	healthChecker.RegisterComponent("router", router)
	healthChecker.RegisterComponent("appender", appender)
	healthChecker.RegisterComponent("handler", handler)
	components.healthChecker = healthChecker

	components.mu.Lock()
	components.running = true
	components.mu.Unlock()

	logging.Info().Msg("Event pipeline initialized")
	return components, nil
}

// Start begins the appender flush loop and the router. The appender
// starts first so batch writes are ready before consumption begins.
func (c *PipelineComponents) Start(ctx context.Context) error {
	if c == nil {
		return nil
	}

	if c.appender != nil {
		if err := c.appender.Start(ctx); err != nil {
			return fmt.Errorf("start appender: %w", err)
		}
	}

	if c.router != nil {
		running := c.router.RunAsync(ctx)
		select {
		case <-running:
			logging.Info().Msg("Watermill router started")
		case <-ctx.Done():
			return fmt.Errorf("context canceled while starting router: %w", ctx.Err())
		}
	}

	return nil
}

// Shutdown stops all pipeline components. Order matters: the router
// stops consuming first, then the appender flushes its remaining
// buffer, then subscribers, publisher, connection, and finally the
// embedded server.
func (c *PipelineComponents) Shutdown(ctx context.Context) {
	if c == nil {
		return
	}

	c.mu.Lock()
	wasRunning := c.running
	c.running = false
	c.mu.Unlock()
	if wasRunning {
		logging.Info().Msg("Shutting down event pipeline...")
	}

	if c.router != nil {
		if err := c.router.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing router")
		}
	}
	if c.appender != nil {
		if err := c.appender.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing appender")
		}
	}
	if c.eventsSubscriber != nil {
		if err := c.eventsSubscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing events subscriber")
		}
	}
	if c.poisonSubscriber != nil {
		if err := c.poisonSubscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing poison subscriber")
		}
	}
	if c.publisher != nil {
		if err := c.publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing publisher")
		}
	}
	if c.natsConn != nil {
		c.natsConn.Close()
	}
	if c.server != nil {
		if err := c.server.Shutdown(ctx); err != nil {
			logging.Error().Err(err).Msg("Error shutting down NATS server")
		}
	}

	if wasRunning {
		logging.Info().Msg("Event pipeline shutdown complete")
	}
}

// IsRunning reports whether the pipeline is active.
func (c *PipelineComponents) IsRunning() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Publisher returns the event publisher for the HTTP ingest path.
func (c *PipelineComponents) Publisher() *eventpipeline.Publisher {
	if c == nil {
		return nil
	}
	return c.publisher
}

// RetryWorker returns the auto-retry worker, or nil when disabled.
func (c *PipelineComponents) RetryWorker() *eventpipeline.AutoRetryWorker {
	if c == nil {
		return nil
	}
	return c.retryWorker
}

// HealthChecker returns the component health checker.
func (c *PipelineComponents) HealthChecker() *eventpipeline.HealthChecker {
	if c == nil {
		return nil
	}
	return c.healthChecker
}
