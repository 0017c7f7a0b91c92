package main

import (
	"context"
	"fmt"

	"github.com/ledgerbase/posloader/pkg/bus"
	"github.com/ledgerbase/posloader/pkg/config"
	"github.com/ledgerbase/posloader/pkg/eodengine"
	"github.com/ledgerbase/posloader/pkg/eventpublisher"
	"github.com/ledgerbase/posloader/pkg/orchestrator"
	"github.com/ledgerbase/posloader/pkg/positionstore"
	"github.com/ledgerbase/posloader/pkg/reconcile"
	"github.com/ledgerbase/posloader/pkg/upstream"
	"github.com/ledgerbase/posloader/pkg/upstream/snapcache"
)

// app holds every wired component a CLI command might need. Not every
// command uses every field; commands that only touch the store (e.g.
// `batch list`) can ignore the rest.
type app struct {
	cfg          *config.Config
	store        positionstore.Store
	cache        *snapcache.Cache
	msgBus       *bus.Bus
	publisher    *eventpublisher.Publisher
	upstream     *upstream.Client
	engine       *eodengine.Engine
	orchestrator *orchestrator.Orchestrator
	reconciler   *reconcile.Reconciler
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	store, err := positionstore.NewPostgresStore(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("connect to position store: %w", err)
	}

	cache := snapcache.New(cfg.Redis)

	msgBus, err := bus.Connect(cfg.Bus.URL, cfg.Bus.PrefetchCount)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("connect to message bus: %w", err)
	}

	publisher := eventpublisher.New(msgBus, cfg.Slack)
	upstreamClient := upstream.New(cfg, cache, publisher)

	engine := eodengine.New(store, upstreamClient, publisher, eodengine.Options{
		StrictValidation:      cfg.StrictValidation,
		ZeroPriceThresholdPct: cfg.ZeroPriceThresholdPct,
		ConcentrationPct:      25,
		LateEodMaxDays:        cfg.LateEodMaxDays,
	})

	orch := orchestrator.New(engine, int64(cfg.MaxConcurrency), cfg.RetryFailed)

	reconciler := reconcile.New(store, reconcile.Thresholds{
		WarningValuePct:  5,
		CriticalValuePct: 15,
	})

	return &app{
		cfg:          cfg,
		store:        store,
		cache:        cache,
		msgBus:       msgBus,
		publisher:    publisher,
		upstream:     upstreamClient,
		engine:       engine,
		orchestrator: orch,
		reconciler:   reconciler,
	}, nil
}

func (a *app) Close() {
	a.cache.Close()
	a.msgBus.Close()
	a.store.Close()
}
