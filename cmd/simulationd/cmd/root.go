// Package cmd implements simulationd's spf13/cobra command tree: serve,
// start, and version, grounded on the pack's cobra-based CLIs
// (scalytics-KafClaw's cmd/kafclaw/cmd, theRebelliousNerd-codenerd's
// cmd/nerd) rather than a hand-rolled flag.FlagSet parser.
package cmd

import (
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "simulationd",
	Short: "Strategic signal cascade simulation kernel",
	Long: `simulationd runs the organizational-communication cascade simulation
kernel: a Clock, Scheduler, Agent Registry, Behavior Engine, Distribution
Engine, Tracking Engine, Escalation Manager, and Wisdom Engine wired
behind a control-protocol HTTP surface and a Prometheus /metrics
endpoint.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a YAML configuration file")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
