package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JeffJna/instant-meeting-insights/internal/tui"
)

func newTUICmd(flags *rootFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the live meeting view against a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				cfg, err := flags.loadConfig()
				if err != nil {
					return err
				}
				addr = fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)
			}
			return tui.Run(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "API address (host:port or URL); defaults to the configured HTTP address")
	return cmd
}
