// Command relay runs the WebSocket relay hub.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/relay/internal/adapter/llm"
	"github.com/xiaot623/gogo/relay/internal/config"
	"github.com/xiaot623/gogo/relay/internal/delegate"
	"github.com/xiaot623/gogo/relay/internal/gate"
	internalhttp "github.com/xiaot623/gogo/relay/internal/http"
	"github.com/xiaot623/gogo/relay/internal/hub"
	"github.com/xiaot623/gogo/relay/internal/logging"
	"github.com/xiaot623/gogo/relay/internal/models"
	"github.com/xiaot623/gogo/relay/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var cfg = config.Load()

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the WebSocket relay hub",
	Long: "Relay routes JSON envelopes between connected endpoints by key and answers\n" +
		"model_request envelopes by calling a configured model provider.",
	SilenceUsage: true,
}

func init() {
	// Assigned here rather than in the literal to break the rootCmd -> run -> rootCmd initialization cycle.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		logger := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, logger)
	}

	f := rootCmd.PersistentFlags()
	f.StringVar(&cfg.Host, "host", cfg.Host, "Bind host")
	f.IntVar(&cfg.Port, "port", cfg.Port, "Relay WebSocket port")
	f.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "Internal HTTP port (0 disables)")
	f.StringArrayVar(&cfg.AuthKeys, "auth-key", cfg.AuthKeys, "Allowed endpoint key (repeatable); none admits everyone")
	f.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "Rego handshake policy file")
	f.StringVar(&cfg.ModelsFile, "models", cfg.ModelsFile, "Model catalog file (YAML or JSON)")
	f.StringVar(&cfg.ModelsDB, "models-db", cfg.ModelsDB, "SQLite database of named models")
	f.StringVar(&cfg.DefaultModel, "default-model", cfg.DefaultModel, "Model used when a request names none")
	f.DurationVar(&cfg.ModelTimeout, "model-timeout", cfg.ModelTimeout, "Default model call timeout")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: console or json")

	rootCmd.AddCommand(modelsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger.Info().
		Str("addr", cfg.Addr()).
		Int("http_port", cfg.HTTPPort).
		Int("auth_keys", len(cfg.AuthKeys)).
		Msg("starting relay")

	// Named models
	catalog := models.NewCatalog()
	if cfg.ModelsFile != "" {
		var err error
		if catalog, err = models.LoadCatalog(cfg.ModelsFile); err != nil {
			return err
		}
		logger.Info().Strs("models", catalog.Names()).Str("file", cfg.ModelsFile).Msg("model catalog loaded")
	}
	lookup := models.Layered{catalog}
	if cfg.ModelsDB != "" {
		store, err := models.NewSQLiteStore(cfg.ModelsDB)
		if err != nil {
			return err
		}
		defer store.Close()
		lookup = append(lookup, store)
	}

	if rootCmd.PersistentFlags().Changed("model-timeout") {
		cfg.ModelTimeoutSet = true
	}
	d := delegate.New(lookup, llm.NewLLMClient(logger), delegateDefaults(cfg, catalog), logger)

	// Handshake gate
	g, err := buildGate(ctx, cfg, logger)
	if err != nil {
		return err
	}

	relayHub := hub.New(d, logger)
	defer relayHub.Close()

	wsEcho := echo.New()
	wsEcho.HideBanner = true
	wsEcho.HidePort = true
	wsEcho.Use(logging.RequestLogger(logger))
	wsEcho.Use(middleware.Recover())
	ws.NewServer(cfg, relayHub, g, logger).Register(wsEcho)

	var httpServer *internalhttp.Server
	if cfg.HTTPPort > 0 {
		httpServer = internalhttp.NewServer(relayHub, logger)
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info().Str("addr", cfg.Addr()).Msg("relay listening")
		if err := wsEcho.Start(cfg.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "relay server")
		}
		return nil
	})
	if httpServer != nil {
		group.Go(func() error {
			logger.Info().Str("addr", cfg.HTTPAddr()).Msg("internal http listening")
			if err := httpServer.Start(cfg.HTTPAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "internal http server")
			}
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down relay")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := wsEcho.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("relay server shutdown")
		}
		// Upgraded connections are not tracked by the HTTP server.
		relayHub.Close()
		if httpServer != nil {
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("internal http shutdown")
			}
		}
		return nil
	})

	return group.Wait()
}

// delegateDefaults picks the server model defaults. Flags and environment
// win over the catalog file.
func delegateDefaults(cfg *config.Config, catalog *models.Catalog) delegate.Defaults {
	defaults := delegate.Defaults{Model: cfg.DefaultModel, Timeout: cfg.ModelTimeout}
	if defaults.Model == "" {
		defaults.Model = catalog.CurrentModel
	}
	if t := catalog.TimeoutDuration(); t > 0 && !cfg.ModelTimeoutSet {
		defaults.Timeout = t
	}
	return defaults
}

func buildGate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (gate.Gate, error) {
	var (
		pg  *gate.PolicyGate
		err error
	)
	if cfg.PolicyFile != "" {
		pg, err = gate.LoadPolicyGate(ctx, cfg.PolicyFile, logger)
	} else {
		pg, err = gate.NewPolicyGate(ctx, gate.DefaultPolicy, logger)
	}
	if err != nil {
		return nil, err
	}
	return gate.Chain(gate.NewAllowList(cfg.AuthKeys), pg), nil
}
