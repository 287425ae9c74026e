package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"immich-sorter/internal/app/actionlog"
	"immich-sorter/internal/app/controller"
	"immich-sorter/internal/app/controller/planners"
	"immich-sorter/internal/app/formatters"
	"immich-sorter/internal/app/web"
	"immich-sorter/internal/immich"
	"immich-sorter/internal/immich/api"
)

const defaultConfigPath = "config.toml"

// Config is the top-level configuration struct that is loaded via TOML
// decoding of the file passed with --config, or specified by the
// IMMICH_SORTER_CONFIG environment variable (or "config.toml" if empty).
//
// This is the primary way to configure the application.
type Config struct {
	immich.Config
	App struct {
		Listen         string
		PrefetchWindow int
		PageSize       int
		PlanAlgorithm  planners.PlanAlgorithm
		ActionLogPath  string
		AllowedOrigins []string
		Metadata       []formatters.FormatConfig
	}
}

// defaultConfig returns the values used for anything the config file leaves
// out.
func defaultConfig() Config {
	var conf Config
	conf.InMemoryCache.UseInMemoryCache = true
	conf.InMemoryCache.InMemoryCacheSize = 256 << 20
	conf.App.Listen = ":8080"
	conf.App.PrefetchWindow = 3
	conf.App.PageSize = 100
	conf.App.ActionLogPath = "actions.jsonl"
	return conf
}

type sorter struct {
	conf   Config
	client *immich.Client
	ctrl   *controller.Controller
	log    *actionlog.Log
	server *web.Server
}

// Run loads the config at path and serves the triage UI until ctx is
// cancelled. listen overrides the configured address if not empty.
func Run(ctx context.Context, path, listen string) error {
	conf, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if listen != "" {
		conf.App.Listen = listen
	}
	// Debug level since conf has sensitive values.
	slog.Debug("loaded config", "config", conf)

	app, err := InitApp(*conf)
	if err != nil {
		return fmt.Errorf("failed to init app: %w", err)
	}
	defer app.log.Close()
	slog.Info("successfully initialized app")
	return app.run(ctx)
}

func (s *sorter) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := s.ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("controller stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:        s.conf.App.Listen,
		Handler:     s.server.Handler(),
		ReadTimeout: 10 * time.Second,
		// Originals can take a while behind the serialized immich client.
		WriteTimeout: 2 * time.Minute,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("immich-sorter available", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
			return err
		}
		slog.Info("server stopped")
		return nil
	case err := <-serverErr:
		return err
	}
}

// LoadConfig decodes the TOML file at path over the defaults and applies
// environment overrides. An empty path falls back to IMMICH_SORTER_CONFIG and
// then config.toml, which may be missing if the environment configures the
// remote.
func LoadConfig(path string) (*Config, error) {
	// Determine config file path.
	explicit := true
	if path == "" {
		path = os.Getenv("IMMICH_SORTER_CONFIG")
	}
	if path == "" {
		path, explicit = defaultConfigPath, false
	}

	conf := defaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("config file %q not found", path)
		}
		slog.Info("no config file found, using defaults", "path", path)
	} else if err != nil {
		return nil, err
	} else if _, err := toml.DecodeFile(path, &conf); err != nil {
		return nil, err
	}

	// Load values from environment variables.
	conf.Remote.HydrateFromEnv()

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &conf, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Remote.ImmichAPIEndpoint == "" {
		errs = append(errs, errors.New("immich endpoint is not configured (Remote.ImmichAPIEndpoint or IMMICH_API_ENDPOINT)"))
	}
	if c.Remote.ImmichAPIKey == "" {
		errs = append(errs, errors.New("immich API key is not configured (Remote.ImmichAPIKey or IMMICH_API_KEY)"))
	}
	if c.App.PageSize <= 0 {
		errs = append(errs, fmt.Errorf("page size must be positive, got %d", c.App.PageSize))
	}
	if c.App.PrefetchWindow < 0 {
		errs = append(errs, fmt.Errorf("prefetch window must not be negative, got %d", c.App.PrefetchWindow))
	}
	return errors.Join(errs...)
}

// newClient creates the immich client. observe, if not nil, receives the
// outcome of every request.
func newClient(conf Config, observe func(api.Call)) *immich.Client {
	return immich.NewClient(
		immich.WithRemote(conf.Remote, observe),
		immich.WithInMemoryCache(conf.InMemoryCache),
		immich.WithRefreshInterval(conf.CameraRefreshInterval),
	)
}

func InitApp(conf Config) (*sorter, error) {
	log, err := actionlog.Open(conf.App.ActionLogPath)
	if err != nil {
		return nil, err
	}
	client := newClient(conf, log.ObserveCall)
	slog.Info("created immich client")
	slog.Info("client diagnostics", "diagnostics", client.Diagnostics(context.Background()))

	ctrl := controller.New(controller.Config{
		PrefetchWindow: conf.App.PrefetchWindow,
		PageSize:       conf.App.PageSize,
		PlanAlgorithm:  conf.App.PlanAlgorithm,
	}, client, log)
	server := web.NewServer(web.Config{
		AllowedOrigins: conf.App.AllowedOrigins,
		Metadata:       conf.App.Metadata,
	}, ctrl, client.Diagnostics)
	return &sorter{
		conf:   conf,
		client: client,
		ctrl:   ctrl,
		log:    log,
		server: server,
	}, nil
}
