package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kpernyer/living-twin-simulation-sub000/internal/httpapi"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/kernel"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/persistence"
	"github.com/kpernyer/living-twin-simulation-sub000/pkg/registry"
	"github.com/kpernyer/living-twin-simulation-sub000/simconfig"
	"github.com/kpernyer/living-twin-simulation-sub000/simlog"
	"github.com/kpernyer/living-twin-simulation-sub000/telemetry"
)

var (
	orgIDFlag  string
	agentsFlag string
	resumeFlag bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Bootstrap an organization from a seed file and start the cascade",
	Long: `start either reads a JSON agent-seed file (the same {"agents": [...]}
shape as the /simulation/start request body, via --agents) or resumes an
organization from its last persisted snapshot (via --resume, requires
persistence to be enabled in config), starts the simulation immediately,
then serves the control protocol and Prometheus /metrics for the
remainder of the run.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&orgIDFlag, "org", "", "Organization ID to start (required)")
	startCmd.Flags().StringVar(&agentsFlag, "agents", "", "Path to a JSON agent-seed file")
	startCmd.Flags().BoolVar(&resumeFlag, "resume", false, "Resume from the last persisted snapshot instead of --agents")
	startCmd.MarkFlagRequired("org")
	rootCmd.AddCommand(startCmd)
}

type seedFile struct {
	Agents []httpapi.AgentSpec `json:"agents"`
}

func runStart(cmd *cobra.Command, args []string) error {
	opts := []simconfig.Option{}
	if configFile != "" {
		opts = append(opts, simconfig.FromFile(configFile))
	}
	cfg, err := simconfig.Load(opts...)
	if err != nil {
		return fmt.Errorf("simulationd: loading config: %w", err)
	}

	if resumeFlag == (agentsFlag != "") {
		return fmt.Errorf("simulationd: specify exactly one of --agents or --resume")
	}

	log := simlog.New(cfg.Logging.Format, cfg.Logging.Level)

	var agents []*registry.Agent
	if resumeFlag {
		if !cfg.Persistence.Enabled {
			return fmt.Errorf("simulationd: --resume requires persistence.enabled in config")
		}
		store, err := persistence.New(context.Background(), persistence.Config{
			RedisURL:  cfg.Persistence.RedisURL,
			DB:        cfg.Persistence.DB,
			Namespace: cfg.Persistence.Namespace,
			TTL:       cfg.Persistence.TTL,
		}, log)
		if err != nil {
			return fmt.Errorf("simulationd: connecting to persistence store: %w", err)
		}
		snap, found, err := store.Load(context.Background(), orgIDFlag)
		store.Close()
		if err != nil {
			return fmt.Errorf("simulationd: loading snapshot: %w", err)
		}
		if !found {
			return fmt.Errorf("simulationd: no persisted snapshot found for organization %q", orgIDFlag)
		}
		agents = persistence.AgentsFromSnapshot(snap, cfg.Simulation.MemoryWindowSize)
		if !cfg.Simulation.SeedSet {
			cfg.Simulation.RandomSeed = snap.RandomSeed
			cfg.Simulation.SeedSet = true
		}
		log.Info("resuming organization from snapshot", map[string]interface{}{
			"org_id": orgIDFlag, "agent_count": len(agents), "saved_at": snap.SavedAt,
		})
	} else {
		raw, err := os.ReadFile(agentsFlag)
		if err != nil {
			return fmt.Errorf("simulationd: reading agent seed file: %w", err)
		}
		var seed seedFile
		if err := json.Unmarshal(raw, &seed); err != nil {
			return fmt.Errorf("simulationd: parsing agent seed file: %w", err)
		}
		if len(seed.Agents) == 0 {
			return fmt.Errorf("simulationd: agent seed file %q names no agents", agentsFlag)
		}
		agents = httpapi.AgentsFromSpecs(seed.Agents, cfg.Simulation.MemoryWindowSize)
	}

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := k.Start(ctx, orgIDFlag, agents); err != nil {
		return fmt.Errorf("simulationd: starting organization %q: %w", orgIDFlag, err)
	}
	log.Info("organization cascade started", map[string]interface{}{
		"org_id": orgIDFlag, "agent_count": len(agents),
	})

	server := httpapi.New(k, cfg, log)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("simulationd: http server: %w", err)
	}
	return k.Stop()
}
