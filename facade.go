package ingest

import (
	"context"
	"fmt"
	"strings"

	glog "github.com/goliatone/go-logger/glog"

	ingestcommand "github.com/goliatone/go-ingest/command"
	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/dispatch"
	"github.com/goliatone/go-ingest/retry"
	"github.com/goliatone/go-ingest/sources"
)

// Service composes the full pipeline: source registry, stores, dispatcher,
// orchestrator and retry scheduler behind one handle.
type Service struct {
	config       core.Config
	logger       glog.Logger
	provider     glog.LoggerProvider
	registry     *sources.Registry
	dispatcher   *dispatch.Dispatcher
	orchestrator *core.Orchestrator
	scheduler    *retry.Scheduler
	commands     Commands
}

// Commands bundles the command-bus handlers bound to this service instance.
type Commands struct {
	IngestEvent  *ingestcommand.IngestEventCommand
	ReplayEvent  *ingestcommand.ReplayEventCommand
	SweepRetries *ingestcommand.SweepRetriesCommand
}

type Option func(*serviceOptions)

type serviceOptions struct {
	logger         glog.Logger
	provider       glog.LoggerProvider
	metrics        core.MetricsRecorder
	notifier       core.Notifier
	events         core.EventStore
	keys           core.IdempotencyStore
	adapters       []core.SourceAdapter
	consumers      []consumerBinding
	configProvider core.ConfigProvider
	resolver       core.OptionsResolver
}

type consumerBinding struct {
	source    string
	eventType string
	consumer  core.Consumer
}

func WithLogger(logger glog.Logger) Option {
	return func(o *serviceOptions) { o.logger = logger }
}

func WithLoggerProvider(provider glog.LoggerProvider) Option {
	return func(o *serviceOptions) { o.provider = provider }
}

func WithMetrics(metrics core.MetricsRecorder) Option {
	return func(o *serviceOptions) { o.metrics = metrics }
}

func WithNotifier(notifier core.Notifier) Option {
	return func(o *serviceOptions) { o.notifier = notifier }
}

func WithEventStore(events core.EventStore) Option {
	return func(o *serviceOptions) { o.events = events }
}

func WithIdempotencyStore(keys core.IdempotencyStore) Option {
	return func(o *serviceOptions) { o.keys = keys }
}

// WithSourceAdapters registers verifier adapters on the service registry.
func WithSourceAdapters(adapters ...core.SourceAdapter) Option {
	return func(o *serviceOptions) { o.adapters = append(o.adapters, adapters...) }
}

// WithConsumer binds a consumer to the (source, eventType) route.
func WithConsumer(source, eventType string, consumer core.Consumer) Option {
	return func(o *serviceOptions) {
		o.consumers = append(o.consumers, consumerBinding{
			source:    source,
			eventType: eventType,
			consumer:  consumer,
		})
	}
}

func WithConsumerFunc(
	source, eventType string,
	fn func(ctx context.Context, invocation core.ConsumerInvocation) (core.Outcome, error),
) Option {
	return WithConsumer(source, eventType, core.ConsumerFunc(fn))
}

// WithConfigProvider overrides where Setup loads configuration from.
func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *serviceOptions) { o.configProvider = provider }
}

// WithOptionsResolver overrides how defaults, loaded and runtime
// configuration layers merge during Setup.
func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(o *serviceOptions) { o.resolver = resolver }
}

// New builds a Service from an already resolved configuration. In-memory
// stores back the pipeline unless options supply real ones.
func New(cfg Config, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings := serviceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&settings)
	}

	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "ingest"
	}
	provider, logger := glog.Resolve(name, settings.provider, settings.logger)

	events := settings.events
	if events == nil {
		events = core.NewInMemoryEventStore()
	}
	keys := settings.keys
	if keys == nil {
		memKeys := core.NewInMemoryIdempotencyStore()
		// Expired claims must outlive non-terminal events; the in-memory
		// store needs the event store to enforce that gate.
		memKeys.StatusOf = func(eventID string) (core.EventStatus, bool) {
			event, err := events.Get(context.Background(), eventID)
			if err != nil {
				return "", false
			}
			return event.Status, true
		}
		keys = core.NewInMemoryIngestStore(events, memKeys)
	}

	registry := sources.NewRegistry()
	for _, adapter := range settings.adapters {
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	dispatcher := dispatch.NewDispatcher(cfg.DispatchTimeout)
	dispatcher.Logger = glog.Ensure(provider.GetLogger(name + ".dispatch"))
	for _, binding := range settings.consumers {
		if err := dispatcher.Register(binding.source, binding.eventType, binding.consumer); err != nil {
			return nil, err
		}
	}

	orchestrator := core.NewOrchestrator(registry, events, keys, dispatcher)
	orchestrator.Config = cfg
	orchestrator.Logger = logger
	if settings.metrics != nil {
		orchestrator.Metrics = settings.metrics
		dispatcher.Metrics = settings.metrics
	}
	if settings.notifier != nil {
		orchestrator.Notifier = settings.notifier
	}

	scheduler := retry.NewScheduler(events, orchestrator, cfg.Retry)
	scheduler.Logger = glog.Ensure(provider.GetLogger(name + ".retry"))
	if settings.metrics != nil {
		scheduler.Metrics = settings.metrics
	}

	svc := &Service{
		config:       cfg,
		logger:       logger,
		provider:     provider,
		registry:     registry,
		dispatcher:   dispatcher,
		orchestrator: orchestrator,
		scheduler:    scheduler,
	}
	svc.commands = Commands{
		IngestEvent:  ingestcommand.NewIngestEventCommand(orchestrator),
		ReplayEvent:  ingestcommand.NewReplayEventCommand(orchestrator),
		SweepRetries: ingestcommand.NewSweepRetriesCommand(scheduler),
	}
	return svc, nil
}

// Setup resolves configuration through the provider and options resolver
// before building the service, so runtime values in cfg override loaded
// configuration which overrides defaults.
func Setup(ctx context.Context, cfg Config, opts ...Option) (*Service, error) {
	settings := serviceOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&settings)
	}

	defaults := core.DefaultConfig()
	loaded := defaults
	if settings.configProvider != nil {
		var err error
		loaded, err = settings.configProvider.Load(ctx, defaults)
		if err != nil {
			return nil, fmt.Errorf("ingest: load configuration: %w", err)
		}
	}

	var resolver core.OptionsResolver = core.GoOptionsResolver{}
	if settings.resolver != nil {
		resolver = settings.resolver
	}
	resolved, err := resolver.Resolve(defaults, loaded, cfg)
	if err != nil {
		return nil, fmt.Errorf("ingest: resolve configuration: %w", err)
	}

	return New(resolved, opts...)
}

// Ingest runs the verify, dedup, persist, dispatch pipeline for one delivery.
func (s *Service) Ingest(ctx context.Context, req RawInboundRequest) (IngestResult, error) {
	if s == nil || s.orchestrator == nil {
		return IngestResult{}, fmt.Errorf("ingest: service is not configured")
	}
	return s.orchestrator.Ingest(ctx, req)
}

// Replay requeues a terminally failed event with a fresh attempt budget.
func (s *Service) Replay(ctx context.Context, eventID string) (Event, error) {
	if s == nil || s.orchestrator == nil {
		return Event{}, fmt.Errorf("ingest: service is not configured")
	}
	return s.orchestrator.Replay(ctx, eventID)
}

// Sweep runs one retry pass outside the background loop.
func (s *Service) Sweep(ctx context.Context) (retry.SweepStats, error) {
	if s == nil || s.scheduler == nil {
		return retry.SweepStats{}, fmt.Errorf("ingest: service is not configured")
	}
	return s.scheduler.Sweep(ctx)
}

// Start launches the background retry scheduler.
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return fmt.Errorf("ingest: service is not configured")
	}
	return s.scheduler.Start(ctx)
}

// Stop halts the background retry scheduler, waiting for an in-flight sweep.
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.scheduler == nil {
		return nil
	}
	return s.scheduler.Stop(ctx)
}

func (s *Service) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Sources() *sources.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Dispatcher() *dispatch.Dispatcher {
	if s == nil {
		return nil
	}
	return s.dispatcher
}

func (s *Service) Orchestrator() *core.Orchestrator {
	if s == nil {
		return nil
	}
	return s.orchestrator
}

func (s *Service) Scheduler() *retry.Scheduler {
	if s == nil {
		return nil
	}
	return s.scheduler
}
