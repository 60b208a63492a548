package ingest

import (
	"context"
	"testing"

	"github.com/goliatone/go-ingest/core"
	"github.com/goliatone/go-ingest/sources"
)

func passConsumer() core.Consumer {
	return core.ConsumerFunc(func(context.Context, core.ConsumerInvocation) (core.Outcome, error) {
		return core.Outcome{Kind: core.OutcomeSuccess}, nil
	})
}

func TestExtensionHooks_RegisterValidation(t *testing.T) {
	hooks := NewExtensionHooks()

	if err := hooks.RegisterSourcePack(SourcePack{Name: ""}); err == nil {
		t.Fatalf("expected blank pack name rejection")
	}
	if err := hooks.RegisterSourcePack(SourcePack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty pack rejection")
	}
	if err := hooks.RegisterSourcePack(SourcePack{
		Name:     "geo",
		Adapters: []core.SourceAdapter{sources.NewMapsAdapter("secret")},
	}); err != nil {
		t.Fatalf("register source pack: %v", err)
	}
	if err := hooks.RegisterSourcePack(SourcePack{
		Name:     "geo",
		Adapters: []core.SourceAdapter{sources.NewMapsAdapter("other")},
	}); err == nil {
		t.Fatalf("expected duplicate pack rejection")
	}

	if err := hooks.RegisterConsumerPack(ConsumerPack{Name: "geo-consumers", Source: "maps"}); err == nil {
		t.Fatalf("expected empty consumer pack rejection")
	}
	if err := hooks.RegisterConsumerPack(ConsumerPack{
		Name:      "geo-consumers",
		Source:    "maps",
		Consumers: map[string]core.Consumer{"geo.poi.updated": nil},
	}); err == nil {
		t.Fatalf("expected nil consumer rejection")
	}
	if err := hooks.RegisterConsumerPack(ConsumerPack{
		Name:      "geo-consumers",
		Source:    "maps",
		Consumers: map[string]core.Consumer{"geo.poi.updated": passConsumer()},
	}); err != nil {
		t.Fatalf("register consumer pack: %v", err)
	}
}

func TestExtensionHooks_ApplyInstallsPacksOnService(t *testing.T) {
	hooks := NewExtensionHooks()
	if err := hooks.RegisterSourcePack(SourcePack{
		Name:     "geo",
		Adapters: []core.SourceAdapter{sources.NewMapsAdapter("secret")},
	}); err != nil {
		t.Fatalf("register source pack: %v", err)
	}
	if err := hooks.RegisterConsumerPack(ConsumerPack{
		Name:   "geo-consumers",
		Source: "maps",
		Consumers: map[string]core.Consumer{
			"geo.poi.updated": passConsumer(),
			"geo.poi.deleted": passConsumer(),
		},
	}); err != nil {
		t.Fatalf("register consumer pack: %v", err)
	}

	svc, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if err := hooks.Apply(svc); err != nil {
		t.Fatalf("apply hooks: %v", err)
	}

	if _, ok := svc.Sources().Resolve("maps"); !ok {
		t.Fatalf("expected maps adapter installation")
	}
	outcome := svc.Dispatcher().Dispatch(context.Background(), core.Event{
		ID:        "evt_1",
		Source:    "maps",
		EventType: "geo.poi.deleted",
	})
	if outcome.Kind != core.OutcomeSuccess {
		t.Fatalf("expected routed consumer success, got %+v", outcome)
	}
}

func TestExtensionHooks_PacksAreSortedAndCopied(t *testing.T) {
	hooks := NewExtensionHooks()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := hooks.RegisterSourcePack(SourcePack{
			Name:     name,
			Adapters: []core.SourceAdapter{sources.NewSheetsAdapter(name)},
		}); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}

	packs := hooks.SourcePacks()
	if len(packs) != 3 || packs[0].Name != "alpha" || packs[1].Name != "mid" || packs[2].Name != "zeta" {
		t.Fatalf("expected sorted packs, got %#v", packs)
	}

	packs[0].Adapters[0] = nil
	if hooks.SourcePacks()[0].Adapters[0] == nil {
		t.Fatalf("expected defensive copy of pack adapters")
	}
}
