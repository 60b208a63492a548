package ingest

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/dispatch"
	"github.com/goliatone/go-ingest/sources"
)

// SourcePack is a named group of verifier adapters contributed by an
// embedding application or plugin.
type SourcePack struct {
	Name     string
	Adapters []core.SourceAdapter
}

// ConsumerPack binds consumers to routes for one source. Keys are event
// types.
type ConsumerPack struct {
	Name      string
	Source    string
	Consumers map[string]core.Consumer
}

// ExtensionHooks collects packs before the service exists so composition
// roots can register extensions in any order and apply them once.
type ExtensionHooks struct {
	mu sync.RWMutex

	sourcePacks   map[string]SourcePack
	consumerPacks map[string]ConsumerPack
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{
		sourcePacks:   map[string]SourcePack{},
		consumerPacks: map[string]ConsumerPack{},
	}
}

func (h *ExtensionHooks) RegisterSourcePack(pack SourcePack) error {
	if h == nil {
		return fmt.Errorf("ingest: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	if name == "" {
		return fmt.Errorf("ingest: source pack name is required")
	}
	if len(pack.Adapters) == 0 {
		return fmt.Errorf("ingest: source pack %q has no adapters", name)
	}

	normalized := SourcePack{
		Name:     name,
		Adapters: append([]core.SourceAdapter(nil), pack.Adapters...),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sourcePacks[name]; exists {
		return fmt.Errorf("ingest: source pack %q already registered", name)
	}
	h.sourcePacks[name] = normalized
	return nil
}

func (h *ExtensionHooks) RegisterConsumerPack(pack ConsumerPack) error {
	if h == nil {
		return fmt.Errorf("ingest: extension hooks are nil")
	}
	name := strings.TrimSpace(pack.Name)
	source := strings.TrimSpace(strings.ToLower(pack.Source))
	if name == "" {
		return fmt.Errorf("ingest: consumer pack name is required")
	}
	if source == "" {
		return fmt.Errorf("ingest: consumer pack %q source is required", name)
	}
	if len(pack.Consumers) == 0 {
		return fmt.Errorf("ingest: consumer pack %q has no consumers", name)
	}

	normalized := ConsumerPack{
		Name:      name,
		Source:    source,
		Consumers: make(map[string]core.Consumer, len(pack.Consumers)),
	}
	for eventType, consumer := range pack.Consumers {
		eventType = strings.TrimSpace(eventType)
		if eventType == "" {
			return fmt.Errorf("ingest: consumer pack %q has a blank event type", name)
		}
		if consumer == nil {
			return fmt.Errorf("ingest: consumer pack %q route %q has nil consumer", name, eventType)
		}
		normalized.Consumers[eventType] = consumer
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.consumerPacks[name]; exists {
		return fmt.Errorf("ingest: consumer pack %q already registered", name)
	}
	h.consumerPacks[name] = normalized
	return nil
}

// ApplySourcePacks registers every pack adapter on the registry in
// deterministic pack-name order.
func (h *ExtensionHooks) ApplySourcePacks(registry *sources.Registry) error {
	if h == nil {
		return nil
	}
	if registry == nil {
		return fmt.Errorf("ingest: source registry is required")
	}

	for _, pack := range h.SourcePacks() {
		for _, adapter := range pack.Adapters {
			if adapter == nil {
				return fmt.Errorf("ingest: source pack %q contains nil adapter", pack.Name)
			}
			if err := registry.Register(adapter); err != nil {
				return err
			}
		}
	}
	return nil
}

// ApplyConsumerPacks binds every pack route on the dispatcher in
// deterministic pack-name and event-type order.
func (h *ExtensionHooks) ApplyConsumerPacks(dispatcher *dispatch.Dispatcher) error {
	if h == nil {
		return nil
	}
	if dispatcher == nil {
		return fmt.Errorf("ingest: dispatcher is required")
	}

	for _, pack := range h.ConsumerPacks() {
		eventTypes := make([]string, 0, len(pack.Consumers))
		for eventType := range pack.Consumers {
			eventTypes = append(eventTypes, eventType)
		}
		sort.Strings(eventTypes)
		for _, eventType := range eventTypes {
			if err := dispatcher.Register(pack.Source, eventType, pack.Consumers[eventType]); err != nil {
				return err
			}
		}
	}
	return nil
}

// Apply installs every registered pack on the service.
func (h *ExtensionHooks) Apply(svc *Service) error {
	if h == nil {
		return nil
	}
	if svc == nil {
		return fmt.Errorf("ingest: service is required")
	}
	if err := h.ApplySourcePacks(svc.Sources()); err != nil {
		return err
	}
	return h.ApplyConsumerPacks(svc.Dispatcher())
}

func (h *ExtensionHooks) SourcePacks() []SourcePack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.sourcePacks))
	for name := range h.sourcePacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]SourcePack, 0, len(names))
	for _, name := range names {
		pack := h.sourcePacks[name]
		out = append(out, SourcePack{
			Name:     pack.Name,
			Adapters: append([]core.SourceAdapter(nil), pack.Adapters...),
		})
	}
	return out
}

func (h *ExtensionHooks) ConsumerPacks() []ConsumerPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	names := make([]string, 0, len(h.consumerPacks))
	for name := range h.consumerPacks {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]ConsumerPack, 0, len(names))
	for _, name := range names {
		pack := h.consumerPacks[name]
		copied := ConsumerPack{
			Name:      pack.Name,
			Source:    pack.Source,
			Consumers: make(map[string]core.Consumer, len(pack.Consumers)),
		}
		for eventType, consumer := range pack.Consumers {
			copied.Consumers[eventType] = consumer
		}
		out = append(out, copied)
	}
	return out
}
