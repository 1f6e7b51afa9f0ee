package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JeffJna/instant-meeting-insights/internal/mcpserver"
	"github.com/JeffJna/instant-meeting-insights/internal/server"
	"github.com/JeffJna/instant-meeting-insights/internal/store"
)

func newMCPCmd(flags *rootFlags) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve recorded meetings to MCP clients over stdio",
		Long: `Start an MCP (Model Context Protocol) server on stdin/stdout that exposes
recorded sessions, transcripts and keyword alerts from the session store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			logger, closer := initLogger(cfg.Logging, os.Stderr)
			defer closer.Close()

			if dbPath == "" {
				dbPath = cfg.Store.Path
			}
			s, err := store.Open(cmd.Context(), dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			logger.Info("Session store opened", slog.String("path", dbPath))

			srv := mcpserver.New(s, server.Version, logger)
			return srv.Serve(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "Path to the session database; defaults to store.path from the configuration")
	return cmd
}
