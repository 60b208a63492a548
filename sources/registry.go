package sources

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goliatone/go-ingest/core"
)

// Registry maps a source tag to its adapter. Source tags are
// case-insensitive and stored lowercase. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]core.SourceAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]core.SourceAdapter)}
}

func (r *Registry) Register(adapter core.SourceAdapter) error {
	if adapter == nil {
		return fmt.Errorf("sources: adapter is nil")
	}
	source := strings.ToLower(strings.TrimSpace(adapter.Source()))
	if source == "" {
		return fmt.Errorf("sources: adapter source is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[source]; exists {
		return fmt.Errorf("sources: adapter already registered: %s", source)
	}
	r.adapters[source] = adapter
	return nil
}

func (r *Registry) Resolve(source string) (core.SourceAdapter, bool) {
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return nil, false
	}
	r.mu.RLock()
	adapter, ok := r.adapters[source]
	r.mu.RUnlock()
	return adapter, ok
}

func (r *Registry) List() []core.SourceAdapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.adapters))
	for source := range r.adapters {
		keys = append(keys, source)
	}
	sort.Strings(keys)
	adapters := make([]core.SourceAdapter, 0, len(keys))
	for _, source := range keys {
		adapters = append(adapters, r.adapters[source])
	}
	return adapters
}

var _ core.SourceResolver = (*Registry)(nil)
