package app

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bobmcallan/realperf/internal/clients/pricing"
	"github.com/bobmcallan/realperf/internal/clients/provider"
	"github.com/bobmcallan/realperf/internal/common"
	"github.com/bobmcallan/realperf/internal/interfaces"
	"github.com/bobmcallan/realperf/internal/services/engine"
)

// App holds the initialized configuration, clients and engine.
// It is the shared core used by both cmd/realperf-server and cmd/realperf.
type App struct {
	Config      *common.Config
	Logger      *common.Logger
	Providers   []interfaces.TransactionFetcher
	Prices      interfaces.PriceLookup
	Engine      *engine.Engine
	StartupTime time.Time
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath picks the config file: the given path, REALPERF_CONFIG,
// then realperf.toml next to the binary, then config/realperf.toml.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("REALPERF_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "realperf.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/realperf.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration and wires clients into the engine.
// configPath may be empty, in which case the default resolution logic is used.
func NewApp(configPath string) (*App, error) {
	startupStart := time.Now()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Resolve relative log file path to binary directory
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(getBinaryDir(), config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)

	return newApp(config, logger, startupStart), nil
}

// NewAppWithConfig wires an App around an already loaded config.
func NewAppWithConfig(config *common.Config, logger *common.Logger) *App {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return newApp(config, logger, time.Now())
}

func newApp(config *common.Config, logger *common.Logger, started time.Time) *App {
	fetchers := make([]interfaces.TransactionFetcher, 0, len(config.Providers))
	for _, pc := range config.Providers {
		if pc.BaseURL == "" {
			logger.Warn().Str("provider", pc.Name).Msg("Provider has no base_url - batch uploads only")
			continue
		}
		client := provider.NewClient(pc, provider.WithLogger(logger))
		opts := []provider.GuardOption{
			provider.WithIdentity(pc),
			provider.WithGuardLogger(logger),
			provider.WithAttemptTimeout(pc.GetTimeout()),
		}
		if pc.MaxRetries > 0 {
			opts = append(opts, provider.WithMaxRetries(pc.MaxRetries))
		}
		fetchers = append(fetchers, provider.NewGuarded(client, opts...))
	}

	var prices interfaces.PriceLookup
	if config.Pricing.APIKey != "" {
		opts := []pricing.ClientOption{
			pricing.WithLogger(logger),
			pricing.WithTimeout(config.Pricing.GetTimeout()),
		}
		if config.Pricing.BaseURL != "" {
			opts = append(opts, pricing.WithBaseURL(config.Pricing.BaseURL))
		}
		if config.Pricing.RateLimit > 0 {
			opts = append(opts, pricing.WithRateLimit(config.Pricing.RateLimit))
		}
		prices = pricing.NewCachedLookup(pricing.NewClient(config.Pricing.APIKey, opts...), config.Pricing.GetCacheTTL(), logger)
	} else {
		logger.Warn().Msg("Pricing API key not configured - only bundled prices will be used")
	}

	engineOpts := []engine.Option{engine.WithFetchers(fetchers...)}
	if prices != nil {
		engineOpts = append(engineOpts, engine.WithPrices(prices))
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Providers:   fetchers,
		Prices:      prices,
		Engine:      engine.NewEngine(config, logger, engineOpts...),
		StartupTime: started,
	}

	logger.Info().
		Int("providers", len(fetchers)).
		Bool("live_pricing", prices != nil).
		Dur("startup", time.Since(started)).
		Msg("App initialized")

	return a
}

// Close releases resources held by the App.
func (a *App) Close() {
	a.Logger.Debug().Msg("App closed")
}
