// Notestream - Note Event Ingestion and Analytics Pipeline
// Copyright 2026 J. Tciou (jtciou26)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/jtciou26/notestream

package eventpipeline

import "time"

// Topics and stream identity for note events.
const (
	// TopicNoteEvents is the subject producers publish normalized-input
	// payloads to.
	TopicNoteEvents = "notes.events"
	// TopicPoison receives messages that failed permanently.
	TopicPoison = "notes.poison"
	// StreamName is the JetStream stream capturing all note subjects.
	StreamName = "NOTES"
)

// ServerConfig holds embedded NATS server configuration.
type ServerConfig struct {
	Host              string
	Port              int
	StoreDir          string
	JetStreamMaxMem   int64
	JetStreamMaxStore int64
}

// DefaultServerConfig returns production defaults for the embedded NATS server.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "127.0.0.1",
		Port:              4222,
		StoreDir:          "/data/nats/jetstream",
		JetStreamMaxMem:   1 << 30,  // 1GB
		JetStreamMaxStore: 10 << 30, // 10GB
	}
}

// PublisherConfig holds publisher configuration.
type PublisherConfig struct {
	URL              string
	MaxReconnects    int
	ReconnectWait    time.Duration
	ReconnectBuffer  int
	EnableTrackMsgID bool // nolint:revive // ID is correct per Go conventions
}

// DefaultPublisherConfig returns production defaults for the publisher.
func DefaultPublisherConfig(url string) PublisherConfig {
	return PublisherConfig{
		URL:              url,
		MaxReconnects:    -1, // Unlimited
		ReconnectWait:    2 * time.Second,
		ReconnectBuffer:  8 * 1024 * 1024, // 8MB
		EnableTrackMsgID: true,
	}
}

// SubscriberConfig holds subscriber configuration.
type SubscriberConfig struct {
	URL              string
	DurableName      string
	QueueGroup       string
	SubscribersCount int
	AckWaitTimeout   time.Duration
	MaxDeliver       int
	MaxAckPending    int
	CloseTimeout     time.Duration
	MaxReconnects    int
	ReconnectWait    time.Duration
	// StreamName is the JetStream stream to bind to. When set,
	// AutoProvision is disabled and the subscriber binds to the existing
	// stream with nats.BindStream(). Required when subscribing to
	// wildcard subjects (e.g. "notes.>") because stream names cannot
	// contain wildcards.
	StreamName string
}

// DefaultSubscriberConfig returns production defaults for the subscriber.
func DefaultSubscriberConfig(url string) SubscriberConfig {
	return SubscriberConfig{
		URL:              url,
		DurableName:      "notes-processor",
		QueueGroup:       "processors",
		SubscribersCount: 4,
		AckWaitTimeout:   30 * time.Second,
		MaxDeliver:       5,    // Max redelivery attempts
		MaxAckPending:    1000, // Flow control
		CloseTimeout:     30 * time.Second,
		MaxReconnects:    -1,
		ReconnectWait:    2 * time.Second,
	}
}

// StreamConfig defines note event stream settings.
type StreamConfig struct {
	Name            string
	Subjects        []string
	MaxAge          time.Duration
	MaxBytes        int64
	MaxMsgs         int64
	DuplicateWindow time.Duration
	Replicas        int
}

// DefaultStreamConfig returns production stream configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		Name:            StreamName,
		Subjects:        []string{"notes.>"},
		MaxAge:          7 * 24 * time.Hour,      // 7 days
		MaxBytes:        10 * 1024 * 1024 * 1024, // 10GB
		MaxMsgs:         -1,                      // Unlimited
		DuplicateWindow: 2 * time.Minute,
		Replicas:        1, // Increase for clustering
	}
}

// AppenderConfig holds batch appender configuration.
type AppenderConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultAppenderConfig returns production defaults for the appender.
func DefaultAppenderConfig() AppenderConfig {
	return AppenderConfig{
		BatchSize:     500,
		FlushInterval: 5 * time.Second,
	}
}

// HandlerConfig holds message handler configuration.
type HandlerConfig struct {
	// DefaultEventName labels legacy flat documents.
	DefaultEventName string

	// SyncFlush forces a synchronous flush after each append, ensuring
	// the store write completes before the NATS message is acked. Higher
	// latency, no loss window between ack and async flush.
	SyncFlush bool
}

// DefaultHandlerConfig returns production defaults for the handler.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		DefaultEventName: DefaultEventName,
	}
}

// CircuitBreakerConfig holds circuit breaker settings.
type CircuitBreakerConfig struct {
	Name             string
	MaxRequests      uint32        // Allowed in half-open state
	Interval         time.Duration // Reset interval for counts
	Timeout          time.Duration // Time to stay open
	FailureThreshold uint32        // Failures before opening
}

// DefaultCircuitBreakerConfig returns production defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxRequests:      3,
		Interval:         30 * time.Second,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
	}
}
