package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"infra-alert/internal/config"
	"infra-alert/internal/logging"
	"infra-alert/internal/source"
)

// Set via -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "infra-alert",
	Short: "Infrastructure alert pipeline",
	Long: `infra-alert polls server and container state, evaluates threshold rules
and notifies operators with per-key cooldown, batching of repeated
warnings and a single live message per critical condition.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the alert service (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService(cmd.Context())
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config, compile rules and reach the source",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ev, err := source.NewEvaluator(cfg.Rules)
		if err != nil {
			return fmt.Errorf("rules: %w", err)
		}
		if _, err := settingsFromConfig(cfg); err != nil {
			return err
		}
		src, err := source.New(cfg.Source)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Source.GetTimeout())
		defer cancel()
		snap, err := src.Snapshot(ctx)
		if err != nil {
			return fmt.Errorf("source %s: %w", src.Name(), err)
		}
		alerts := ev.Evaluate(snap)
		fmt.Fprintf(cmd.OutOrStdout(), "config ok: source=%s servers=%d containers=%d rules=%d alerts=%d recipients=%d\n",
			src.Name(), len(snap.Servers), len(snap.Containers), len(ev.Rules()), len(alerts), len(cfg.Alerts.Recipients))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "infra-alert %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./configs/config.yaml", "path to config file (.yaml or .toml)")
	rootCmd.AddCommand(runCmd, checkCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runService(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Logging.Level, cfg.Logging.Format)

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	logging.Infof("infra-alert %s starting, source=%s timezone=%s recipients=%d",
		version, a.monitor.SourceName(), cfg.Scheduler.Timezone, len(cfg.Alerts.Recipients))
	return a.serve(ctx, configPath)
}
