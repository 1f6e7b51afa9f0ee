package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JeffJna/instant-meeting-insights/internal/device"
)

func newDevicesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio input devices of the configured capture backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger, closer := initLogger(cfg.Logging, os.Stderr)
			defer closer.Close()

			backend, err := newDeviceBackend(cfg.Capture, logger)
			if err != nil {
				return err
			}
			registry := device.NewRegistry(backend, logger)
			devices, err := registry.Enumerate(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(devices) == 0 {
				fmt.Fprintf(out, "No input devices found (%s backend)\n", registry.Backend())
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tLABEL\tRATE\tCHANNELS")
			for _, d := range devices {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", d.ID, d.Label, d.SampleRate, d.Channels)
			}
			return w.Flush()
		},
	}
}
