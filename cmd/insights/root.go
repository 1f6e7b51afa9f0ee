package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JeffJna/instant-meeting-insights/internal/config"
)

type rootFlags struct {
	configPath string
}

// loadConfig reads the config file, or the built-in defaults when no path
// was given.
func (f *rootFlags) loadConfig() (*config.Config, error) {
	if f.configPath == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "insights",
		Short: "Live meeting transcription with keyword alerts",
		Long: `insights captures audio from a meeting, transcribes it as it happens and
plays an alert when a registered keyword is spoken.`,
		Example: `  insights serve --config configs/config.yaml
  insights tui --addr 127.0.0.1:8080
  insights mcp --db data/insights.sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to configuration file (defaults are used when empty)")

	cmd.AddCommand(newServeCmd(flags))
	cmd.AddCommand(newDevicesCmd(flags))
	cmd.AddCommand(newTUICmd(flags))
	cmd.AddCommand(newMCPCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
