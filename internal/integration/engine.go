package integration

import (
	"log/slog"

	"github.com/mise-platform/mise/internal/menu"
)

// Engine bundles the processors and hooks built over one menu service.
type Engine struct {
	Completion *OrderCompletionProcessor
	Restock    *RestockProcessor
	Hooks      *Hooks
}

// EngineConfig groups Engine dependencies. Idempotency and Completions may be nil.
type EngineConfig struct {
	Ledger      Ledger
	Menu        *menu.Service
	Dispatcher  Dispatcher
	Idempotency Idempotency
	Completions CompletionSource
	Concurrency int
	Logger      *slog.Logger
}

// NewEngine wires the processors. They reconcile through the menu manager and
// publish through the dispatcher themselves, so every transition is
// broadcast once.
func NewEngine(cfg EngineConfig) *Engine {
	reconciler := cfg.Menu.Manager()
	completion := NewOrderCompletionProcessor(CompletionConfig{
		Ledger:      cfg.Ledger,
		Reconciler:  reconciler,
		Dispatcher:  cfg.Dispatcher,
		Idempotency: cfg.Idempotency,
		Source:      cfg.Completions,
		Concurrency: cfg.Concurrency,
		Logger:      cfg.Logger,
	})
	restock := NewRestockProcessor(RestockConfig{
		Ledger:      cfg.Ledger,
		Catalog:     cfg.Menu,
		Reconciler:  reconciler,
		Dispatcher:  cfg.Dispatcher,
		Concurrency: cfg.Concurrency,
		Logger:      cfg.Logger,
	})
	return &Engine{
		Completion: completion,
		Restock:    restock,
		Hooks:      NewHooks(completion, restock),
	}
}
