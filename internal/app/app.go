package app

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"llmtrace/internal/analytics"
	"llmtrace/internal/config"
	"llmtrace/internal/pricing"
	"llmtrace/internal/push"
	"llmtrace/internal/storage"
	"llmtrace/pkg/telemetry"
)

// App holds the wired components behind the CLI. Construction is the only
// place configuration fans out; everything downstream receives explicit
// dependencies.
type App struct {
	Config     *config.Config
	Store      *storage.LocalStore
	Pricing    *pricing.Cache
	Recorder   *telemetry.Recorder
	Aggregator *analytics.Aggregator
}

// NewApp wires storage, pricing, the recorder and the aggregator from one
// immutable config.
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.initStore(); err != nil {
		return nil, err
	}
	a.initPricing()
	a.initRecorder()
	a.initAggregator()

	log.Debugf("telemetry root %s (enabled=%v)", a.Store.Root(), cfg.Enabled)
	return a, nil
}

func (a *App) initStore() error {
	store, err := storage.NewLocalStore(a.Config)
	if err != nil {
		return fmt.Errorf("init local store: %w", err)
	}
	a.Store = store
	return nil
}

func (a *App) initPricing() {
	a.Pricing = pricing.NewCache(a.Config)
}

func (a *App) initRecorder() {
	sinks := []telemetry.Sink{a.Store}
	if a.Config.PushgatewayURL != "" {
		sinks = append(sinks, push.NewGatewaySink(a.Config.PushgatewayURL))
	}
	a.Recorder = telemetry.NewRecorder(a.Config, sinks...)
}

func (a *App) initAggregator() {
	a.Aggregator = analytics.New(a.Store, a.Pricing)
}
