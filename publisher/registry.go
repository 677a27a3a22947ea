package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vlubarsky/citus/cfg"
)

// RegistryConfig configures failure reporting
type RegistryConfig struct {
	DataDir     string
	NodeID      uint64
	LogEnabled  bool
	SinkConfigs []cfg.SinkConfiguration
}

// Registry owns the failure log, its reporter and the sink workers
type Registry struct {
	log      *FailureLog
	reporter *Reporter
	workers  []*Worker
	running  atomic.Bool
	mu       sync.Mutex
}

// NewRegistry opens the failure log (when enabled) and creates a worker
// per configured sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	r := &Registry{}

	if !config.LogEnabled {
		if len(config.SinkConfigs) > 0 {
			return nil, fmt.Errorf("failure sinks require the failure log")
		}
		r.reporter = NewReporter(config.NodeID, nil)
		return r, nil
	}

	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	failureLog, err := OpenFailureLog(config.DataDir)
	if err != nil {
		return nil, err
	}
	r.log = failureLog
	r.reporter = NewReporter(config.NodeID, failureLog)

	for _, sinkCfg := range config.SinkConfigs {
		if err := r.AddSink(sinkCfg); err != nil {
			for _, w := range r.workers {
				w.config.Sink.Close()
			}
			failureLog.Close()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(r.workers)).
		Msg("Failure reporting initialized")

	return r, nil
}

// AddSink creates a worker for the given sink configuration
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.log == nil {
		return fmt.Errorf("failure log is disabled")
	}

	snk, err := NewSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:         config.Name,
		Log:          r.log,
		Sink:         snk,
		Topic:        config.Topic,
		BatchSize:    config.BatchSize,
		PollInterval: time.Duration(config.PollEveryMS) * time.Millisecond,
		RetryMax:     time.Duration(config.RetryMaxMS) * time.Millisecond,
		MaxRetries:   config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Msg("Added failure sink")

	return nil
}

// Reporter returns the reporter to hand to the coordinator
func (r *Registry) Reporter() *Reporter {
	return r.reporter
}

// Log returns the failure log, or nil when disabled
func (r *Registry) Log() *FailureLog {
	return r.log
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops all workers, closes their sinks and the failure log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		w.Stop()
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.config.Name).Msg("Failed to close sink")
		}
	}
	r.workers = nil
	r.running.Store(false)

	if r.log != nil {
		if err := r.log.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close failure log")
		}
		r.log = nil
	}
}

// SinkFactory creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// NewSink creates a sink using the factory registered for config.Type
func NewSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}
