package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kpernyer/living-twin-simulation-sub000/internal/httpapi"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/kernel"
	"github.com/kpernyer/living-twin-simulation-sub000/simconfig"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
	"github.com/kpernyer/living-twin-simulation-sub000/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the simulationd control-protocol HTTP server",
	Long: `serve brings up the External Interface Adapter (control protocol over
HTTP/JSON plus a Prometheus /metrics endpoint) without starting a
simulation: POST /simulation/start to register an organization's agents
and begin the cascade.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	opts := []simconfig.Option{}
	if configFile != "" {
		opts = append(opts, simconfig.FromFile(configFile))
	}
	cfg, err := simconfig.Load(opts...)
	if err != nil {
		return fmt.Errorf("simulationd: loading config: %w", err)
	}

	log := simlog.New(cfg.Logging.Format, cfg.Logging.Level)

	var tel telemetry.Telemetry = telemetry.NoOp{}
	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewProvider(context.Background(), cfg.Telemetry.ServiceName)
		if err != nil {
			return fmt.Errorf("simulationd: starting telemetry: %w", err)
		}
		defer provider.Shutdown(context.Background())
		tel = provider
	}

	k := kernel.New(cfg, log, tel)
	server := httpapi.New(k, cfg, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("simulationd serve starting", map[string]interface{}{"address": cfg.HTTP.Address, "port": cfg.HTTP.Port})
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("simulationd: http server: %w", err)
	}
	if k != nil {
		_ = k.Stop()
	}
	return nil
}
