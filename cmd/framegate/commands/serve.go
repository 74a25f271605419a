package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaygrid/framegate/pkg/frame/config"
	"github.com/relaygrid/framegate/pkg/frame/idempotency"
	"github.com/relaygrid/framegate/pkg/frame/schema"
	"github.com/relaygrid/framegate/pkg/frame/session"
	"github.com/relaygrid/framegate/pkg/frame/tool"
	"github.com/relaygrid/framegate/pkg/gateway"
	"github.com/relaygrid/framegate/pkg/gateway/artifacts"
	"github.com/relaygrid/framegate/pkg/gateway/provider"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the frame gateway's HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address, overrides config and FRAMEGATE_ADDR")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(ConfigPath())
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if cfg.APIKey == "" {
		return fmt.Errorf("serve: %s is not set", config.ProviderAPIKeyEnv)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: levelFor(IsVerbose()),
	}))

	sink, err := artifacts.NewFromConfig(cfg.Artifacts, os.Getenv("AWS_REGION"), os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY"))
	if err != nil {
		return fmt.Errorf("serve: artifacts sink: %w", err)
	}

	openaiProvider := provider.NewOpenAI(cfg.APIKey, cfg.Provider.Model, cfg.Provider.BaseURL)
	openaiProvider.Temperature = cfg.Provider.Temperature
	openaiProvider.Seed = cfg.Provider.Seed
	openaiProvider.MaxTokens = cfg.Provider.MaxTokens

	controller := &session.Controller{
		Provider:        openaiProvider,
		Schemas:         schema.NewRegistry(),
		Tools:           tool.New(tool.NewRegistry(), idempotency.New(), cfg.ToolTimeout(), cfg.ToolMaxRetries),
		Artifacts:       sink,
		Model:           cfg.Provider.Model,
		Params: session.ProviderParams{
			Temperature: cfg.Provider.Temperature,
			Seed:        cfg.Provider.Seed,
			MaxTokens:   cfg.Provider.MaxTokens,
		},
		MaxRounds:       cfg.MaxRounds,
		FrameTimeout:    cfg.FrameTimeout(),
		Heartbeat:       cfg.Heartbeat(),
		MaxQueuedChunks: cfg.MaxQueuedChunks,
		Logger:          logger,
	}

	srv := gateway.NewServer(controller, logger)
	logger.Info("framegate listening", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, srv)
}

func levelFor(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
