// Emotalk platform server: serves the translation router over WebSocket,
// runs the local microphone loop, and probes a running server.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/emotalk/backend/platform/internal/config"
)

var (
	configPath string
	logLevel   = new(slog.LevelVar)
)

var rootCmd = &cobra.Command{
	Use:   "emotalk",
	Short: "Emotion-aware two-speaker translation service",
	Long: `emotalk transcribes, translates and re-voices a two-person conversation,
shaping the synthesized speech by the speaker's detected emotion.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Setup structured logging
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
		slog.SetDefault(logger)
	},
}

// loadConfig reads the config and applies its log level.
func loadConfig() (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	logLevel.Set(cfg.LogLevel())
	return loader, cfg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $"+config.PathEnv+" or ./emotalk.yaml)")
	rootCmd.AddCommand(serveCmd, listenCmd, probeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
