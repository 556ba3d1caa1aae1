/*
Package factory assembles the service object graph.

PURPOSE:
  One place that builds the running system: store (sqlite or memory),
  the allocation and reconciliation engines, the HTTP handler/router,
  and the sync dispatcher. cmd/server and integration tests construct
  the service the same way, so wiring differences can't creep in
  between production and tests.

STORE SELECTION:
  cfg.DBPath == ""   in-memory store (demos, tests)
  otherwise          sqlite at that path, schema migrated on open

USAGE:
  app, err := factory.Build(cfg, log)
  if err != nil { ... }
  defer app.Close()

  app.Start()
  http.ListenAndServe(addr, app.Router)

SEE ALSO:
  - config/config.go: The knobs consumed here
  - cmd/server/main.go: The only production caller
*/
package factory

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/crechebooks/ledger-engine/allocation"
	"github.com/crechebooks/ledger-engine/api"
	"github.com/crechebooks/ledger-engine/config"
	"github.com/crechebooks/ledger-engine/ledger"
	"github.com/crechebooks/ledger-engine/ledger/store"
	"github.com/crechebooks/ledger-engine/reconcile"
	"github.com/crechebooks/ledger-engine/store/sqlite"
)

// App is the assembled service.
type App struct {
	Store      ledger.TxStore
	Alloc      *allocation.Engine
	Recon      *reconcile.Engine
	Handler    *api.Handler
	Router     *chi.Mux
	Dispatcher *api.SyncDispatcher

	closeStore func() error
}

// Build assembles the object graph from config.
func Build(cfg *config.Config, log *logrus.Logger) (*App, error) {
	var (
		txStore    ledger.TxStore
		closeStore func() error
	)

	if cfg.DBPath == "" {
		txStore = store.NewTxMemory()
		log.Info("using in-memory store")
	} else {
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		txStore = s
		closeStore = s.Close
		log.WithField("path", cfg.DBPath).Info("using sqlite store")
	}

	alloc := allocation.NewEngine(txStore, log)
	alloc.SyncLedger = cfg.SyncEnabled
	recon := reconcile.NewEngine(txStore, log)

	handler := api.NewHandler(txStore, alloc, recon, log)
	router := api.NewRouter(handler, cfg.AllowedOrigins)

	var dispatcher *api.SyncDispatcher
	if cfg.SyncEnabled {
		dispatcher = api.NewSyncDispatcher(txStore, api.LogTarget{Log: log}, log)
		dispatcher.Interval = cfg.SyncInterval
		dispatcher.BatchSize = cfg.SyncBatchSize
	}

	if cfg.DemoSeed {
		if err := api.SeedDemo(context.Background(), txStore, log); err != nil {
			if closeStore != nil {
				_ = closeStore()
			}
			return nil, fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	return &App{
		Store:      txStore,
		Alloc:      alloc,
		Recon:      recon,
		Handler:    handler,
		Router:     router,
		Dispatcher: dispatcher,
		closeStore: closeStore,
	}, nil
}

// Start begins background work (the sync dispatcher, when enabled).
func (a *App) Start() {
	if a.Dispatcher != nil {
		a.Dispatcher.Start()
	}
}

// Close stops background work and releases the store.
func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Stop()
	}
	if a.closeStore != nil {
		return a.closeStore()
	}
	return nil
}
