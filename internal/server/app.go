package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/kernelplanner/config"
	"github.com/mohammad-safakhou/kernelplanner/internal/chat"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory"
	"github.com/mohammad-safakhou/kernelplanner/internal/memory/backends"
	"github.com/mohammad-safakhou/kernelplanner/internal/planner"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin"
	"github.com/mohammad-safakhou/kernelplanner/internal/plugin/builtin"
	"github.com/mohammad-safakhou/kernelplanner/internal/reasoning"
	"github.com/mohammad-safakhou/kernelplanner/internal/telemetry"
)

// App holds the wired service. Planner is nil when no AI provider is configured.
type App struct {
	Config   *config.Config
	Registry *plugin.Registry
	Stores   *memory.Stores
	Redis    *redis.Client
	Metrics  *prometheus.Registry
	Planner  *planner.Service
	Chat     *chat.Service
	Janitor  *Janitor

	telemetry *telemetry.Telemetry
}

// Build wires plugins, memory, reasoning and the planner from cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, Metrics: NewMetricsRegistry()}

	tele, err := telemetry.Setup(ctx, cfg.Telemetry, app.Metrics, telemetry.Options{
		ServiceName:    cfg.Server.ServiceName,
		ServiceVersion: cfg.Server.Version,
	})
	if err != nil {
		return nil, err
	}
	app.telemetry = tele

	app.Registry = plugin.NewRegistry(plugin.WithObserver(PluginObserver(app.Metrics)))
	if err := builtin.Register(app.Registry, builtin.OptionsFromConfig(cfg.Plugins)); err != nil {
		app.Close()
		return nil, err
	}

	stores, rdb, err := backends.Open(ctx, cfg, nil)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Stores, app.Redis = stores, rdb

	model, err := reasoning.NewModel(cfg.AI)
	switch {
	case errors.Is(err, reasoning.ErrNotConfigured):
		log.Printf("[PLANNER] %v; planner and chat endpoints will answer 503", err)
	case err != nil:
		app.Close()
		return nil, err
	}

	pcfg := cfg.Planner.Normalize()
	callOpts := reasoning.CallOptions(cfg.AI)
	if model != nil {
		reasoner := reasoning.New(model, app.Registry,
			reasoning.WithCallOptions(callOpts...),
			reasoning.WithHistoryWindow(pcfg.HistoryWindow),
			reasoning.WithSchemaValidation(pcfg.ValidatePlanJSON),
		)
		engine := planner.New(app.Registry, reasoner,
			planner.WithTimeouts(pcfg.ReasoningTimeout, pcfg.StepTimeout),
			planner.WithStopOnError(pcfg.StopOnError),
			planner.WithMetrics(planner.NewMetrics(app.Metrics)),
		)
		app.Planner = planner.NewService(engine, stores.Conversations, pcfg, nil)
	}
	app.Chat = chat.NewService(model, app.Registry, stores.Conversations,
		chat.WithCallOptions(callOpts...),
		chat.WithMaxToolRounds(pcfg.ChatMaxToolRounds),
	)

	if r := cfg.Memory.Retention; r.Enabled {
		var lock redis.UniversalClient
		if rdb != nil {
			lock = rdb
		}
		j, err := NewJanitor(stores.Conversations, lock, r.Cron, r.MaxAge, cfg.Storage.Redis.KeyPrefix)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.Janitor = j
	}
	return app, nil
}

// Close stops the janitor and releases stores and telemetry.
func (a *App) Close() error {
	if a.Janitor != nil {
		a.Janitor.Stop()
	}
	var errs []error
	if a.Stores != nil {
		errs = append(errs, a.Stores.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errs = append(errs, a.telemetry.Shutdown(ctx))
	return errors.Join(errs...)
}

// Handler builds the echo instance serving the API.
func (a *App) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.HTTPErrorHandler = errorHandler(log.New(log.Writer(), "[HTTP] ", log.LstdFlags))

	origins := a.Config.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	metricsPath := a.Config.Telemetry.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(a.Metrics, promhttp.HandlerOpts{})))

	api := e.Group("/api")
	(&StatusHandler{
		Server:        a.Config.Server,
		AI:            a.Config.AI,
		Configured:    a.Chat.Configured(),
		Registry:      a.Registry,
		Conversations: a.Stores.Conversations,
	}).Register(api)
	(&PluginsHandler{Registry: a.Registry}).Register(api.Group("/plugins"))
	(&ConversationsHandler{Store: a.Stores.Conversations}).Register(api.Group("/conversations"))
	(&MemoryHandler{
		Stores:      a.Stores,
		DefaultTTL:  a.Config.Memory.Volatile.DefaultTTL,
		SearchLimit: a.Config.Memory.Semantic.SearchLimit,
	}).Register(api.Group("/memory"))
	(&PlannerHandler{Service: a.Planner}).Register(api.Group("/planner"))
	(&ChatHandler{Service: a.Chat}).Register(api.Group("/chat"))
	return e
}

// Run builds the service, starts the janitor and serves on addr until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config, addr string) error {
	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr == "" {
		addr = ":10001"
	}
	app, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	if app.Janitor != nil {
		app.Janitor.Start()
	}

	e := app.Handler()
	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s (%d plugin functions)", addr, app.Registry.Len())
		errc <- e.Start(addr)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
