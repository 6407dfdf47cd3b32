// Package main is the entry point for atlas-bridge: a gateway that
// exposes a desktop trading app's broker session, risk gate, LLM
// ensemble, and availability telemetry to AI agents over HTTP,
// WebSocket, and MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-desktop/atlas-bridge/internal/availability"
	"github.com/atlas-desktop/atlas-bridge/internal/eventstore"
	"github.com/atlas-desktop/atlas-bridge/internal/orchestrator"
	"github.com/atlas-desktop/atlas-bridge/pkg/config"
	"github.com/atlas-desktop/atlas-bridge/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "atlas-bridge",
		Short: "Gateway exposing a trading desktop app to AI agents",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "./config.yaml", "path to config.yaml")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(weightsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			bridge, err := orchestrator.New(logger, cfg)
			if err != nil {
				return fmt.Errorf("construct bridge: %w", err)
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			if err := bridge.Start(ctx); err != nil {
				return fmt.Errorf("start bridge: %w", err)
			}

			httpServer := &http.Server{
				Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
				Handler:      bridge.Router(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			go func() {
				logger.Info("bridge listening", zap.String("addr", httpServer.Addr))
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			<-sigChan
			logger.Info("shutdown signal received")

			cancel()

			if err := bridge.Stop(); err != nil {
				logger.Error("error stopping bridge", zap.Error(err))
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("error during http shutdown", zap.Error(err))
			}

			logger.Info("bridge stopped")
			return nil
		},
	}
}

// migrateCmd opens (and so creates) every on-disk store's schema
// without starting the bridge, for use ahead of a first deploy.
func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade on-disk store schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}

			store, err := eventstore.New(logger, cfg.Store.DataDir+"/events.db")
			if err != nil {
				return fmt.Errorf("migrate event store: %w", err)
			}
			defer store.Close()

			alwaysUp := func(context.Context) bool { return true }
			sampler, err := availability.New(logger, cfg.Store.DataDir+"/availability.db", alwaysUp, alwaysUp, alwaysUp)
			if err != nil {
				return fmt.Errorf("migrate availability store: %w", err)
			}
			defer sampler.Close()

			logger.Info("schemas up to date", zap.String("dataDir", cfg.Store.DataDir))
			return nil
		},
	}
}

func weightsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weights",
		Short: "Inspect the ensemble weight file",
	}
	cmd.AddCommand(weightsShowCmd())
	return cmd
}

func weightsShowCmd() *cobra.Command {
	var regimeName string
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the active weight set for a regime",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfigAndLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			bridge, err := orchestrator.New(logger, cfg)
			if err != nil {
				return fmt.Errorf("construct bridge: %w", err)
			}
			defer bridge.Weights.Close()

			ws := bridge.Weights.Active(types.Regime(regimeName))
			fmt.Printf("regime=%s source=%s samples=%d updated=%s\n", regimeName, ws.Source, ws.SampleSize, ws.UpdatedAt.Format(time.RFC3339))
			fmt.Printf("  claude %s\n", ws.Claude.StringFixed(4))
			fmt.Printf("  gpt4o  %s\n", ws.GPT4o.StringFixed(4))
			fmt.Printf("  gemini %s\n", ws.Gemini.StringFixed(4))
			fmt.Printf("  k      %s\n", ws.K.StringFixed(4))
			return nil
		},
	}
	showCmd.Flags().StringVar(&regimeName, "regime", "normal", "regime to report weights for")
	return showCmd
}

func loadConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := setupLogger(cfg.Logging.Level)
	return cfg, logger, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
