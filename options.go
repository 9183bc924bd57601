package fieldsync

import (
	"time"

	"github.com/agromesh/fieldsync/pkg/logger"
	"github.com/agromesh/fieldsync/pkg/metrics"
	"github.com/agromesh/fieldsync/ports"
	otelTrace "go.opentelemetry.io/otel/trace"
)

type (
	settings struct {
		logger         logger.Logger
		loggerSet      bool
		metricsClient  metrics.Client
		tracerProvider otelTrace.TracerProvider
		clock          func() time.Time
		transport      ports.Transport
		monitor        ports.ConnectivityMonitor
		resolver       ports.ConflictResolver
	}

	Option func(*settings)
)

// WithLogger replaces the logger built from the config's logging section.
func WithLogger(log logger.Logger) Option {
	return func(s *settings) {
		s.logger = log
		s.loggerSet = true
	}
}

func WithMetrics(client metrics.Client) Option {
	return func(s *settings) {
		s.metricsClient = client
	}
}

func WithTracerProvider(tp otelTrace.TracerProvider) Option {
	return func(s *settings) {
		s.tracerProvider = tp
	}
}

// WithClock overrides the time source, which tests rely on.
func WithClock(clock func() time.Time) Option {
	return func(s *settings) {
		s.clock = clock
	}
}

// WithTransport sets the remote the queue drains into. Required.
func WithTransport(transport ports.Transport) Option {
	return func(s *settings) {
		s.transport = transport
	}
}

// WithConnectivityMonitor sets the source of online/offline transitions.
// Required: the engine never probes the network itself.
func WithConnectivityMonitor(monitor ports.ConnectivityMonitor) Option {
	return func(s *settings) {
		s.monitor = monitor
	}
}

// WithConflictResolver replaces the built-in per-kind merge policies.
func WithConflictResolver(resolver ports.ConflictResolver) Option {
	return func(s *settings) {
		s.resolver = resolver
	}
}
