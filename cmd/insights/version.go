package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JeffJna/instant-meeting-insights/internal/server"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "insights version %s\n", server.Version)
		},
	}
}
