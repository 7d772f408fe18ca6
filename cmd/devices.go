package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"voice-session/internal/audio/devices"
	"voice-session/pkg/interface/desktop"
)

var withLabels bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio output devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		backend, err := devices.NewMalgoBackend()
		if err != nil {
			return err
		}
		defer backend.Close()

		registry := devices.NewRegistry(ctx, backend)
		if withLabels {
			if err := registry.RequestPermission(ctx); err != nil {
				log.Warn().Err(err).Msg("Showing devices without labels")
			}
		}
		desktop.PrintDevices(cmd.OutOrStdout(), registry.List(), registry.Selected())
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVar(&withLabels, "labels", true, "request audio access so device names can be shown")
}
