package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// NewRootCmd builds the immich-sorter command tree. level is raised to debug
// by the --debug flag.
func NewRootCmd(level *slog.LevelVar) *cobra.Command {
	var debug bool
	cmd := &cobra.Command{
		Use:   "immich-sorter",
		Short: "Keyboard-driven triage of immich photos and videos",
		Long: `immich-sorter serves a single page for quickly sorting through the assets of
a self-hosted immich server: delete, keep, favorite or archive each one with
the arrow keys, and undo the last decision with ctrl+z.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env files if present (ignore errors)
			_ = godotenv.Load()
			_ = godotenv.Load(".env.local")
			if debug {
				level.Set(slog.LevelDebug)
			}
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	return cmd
}

func newServeCmd() *cobra.Command {
	var configPath, listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the triage web interface",
		Example: `  # Serve with ./config.toml on the configured address
  immich-sorter serve

  # Use another config file and port
  immich-sorter serve --config ~/sorter.toml --listen :3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), configPath, listen)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the TOML config file (default $IMMICH_SORTER_CONFIG or config.toml)")
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Address to listen on, overriding App.Listen")
	return cmd
}

func newCheckCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check the config and the connection to immich",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Check(cmd.Context(), configPath, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the TOML config file (default $IMMICH_SORTER_CONFIG or config.toml)")
	return cmd
}

// checkReport is printed by the check command.
type checkReport struct {
	Plan         string   `json:"plan"`
	Listen       string   `json:"listen"`
	CacheSize    string   `json:"cache_size"`
	Diagnostics  any      `json:"diagnostics"`
	CameraModels []string `json:"camera_models,omitempty"`
	CameraError  string   `json:"camera_error,omitempty"`
}

// Check loads the config, connects to immich and writes a JSON report to w. An
// error is returned if immich is unreachable.
func Check(ctx context.Context, path string, w io.Writer) error {
	conf, err := LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	client := newClient(*conf, nil)
	diagnostics := client.Diagnostics(ctx)
	report := checkReport{
		Plan:        conf.App.PlanAlgorithm.OrDefault().Name(),
		Listen:      conf.App.Listen,
		CacheSize:   conf.InMemoryCache.InMemoryCacheSize.String(),
		Diagnostics: diagnostics,
	}
	if diagnostics.RemoteConnectedError == "" {
		models, err := client.CameraModels(ctx)
		if err != nil {
			report.CameraError = err.Error()
		}
		report.CameraModels = models
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if diagnostics.RemoteConnectedError != "" {
		return fmt.Errorf("immich is not reachable: %s", diagnostics.RemoteConnectedError)
	}
	return nil
}
