package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"voice-session/internal/credentials"
	"voice-session/pkg/interface/desktop"
	"voice-session/pkg/preflight"
)

var probeTimeout time.Duration

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check STUN reachability and the token endpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		failed := false

		fmt.Fprintln(out, desktop.HeaderStyle.Render("STUN"))
		tbl := desktop.NewTable(out, "SERVER", "STATUS", "ADDRESS", "RTT")
		for _, res := range preflight.ProbeAll(ctx, cfg.ICEServers(), probeTimeout) {
			if res.OK() {
				tbl.AddRow(res.URL, desktop.OKStyle.Render("ok"), res.Address, res.RTT.Round(time.Millisecond))
				continue
			}
			failed = true
			tbl.AddRow(res.URL, desktop.ErrorStyle.Render("fail"), res.Err.Error(), "-")
		}
		tbl.Print()

		fmt.Fprintln(out, desktop.HeaderStyle.Render("Token"))
		creds, err := credentials.NewFetcher(cfg.LiveKitURL, cfg.TokenEndpoint).Fetch(ctx)
		if err != nil {
			failed = true
			fmt.Fprintln(out, desktop.ErrorStyle.Render(err.Error()))
		} else {
			tbl := desktop.NewTable(out, "SERVER", "IDENTITY", "ROOM", "EXPIRES")
			expires := "-"
			if !creds.ExpiresAt.IsZero() {
				expires = creds.ExpiresAt.Format(time.RFC3339)
			}
			tbl.AddRow(creds.ServerURL, creds.Identity, creds.Room, expires)
			tbl.Print()
		}

		if failed {
			return errors.New("preflight checks failed")
		}
		return nil
	},
}

func init() {
	doctorCmd.Flags().DurationVar(&probeTimeout, "timeout", 3*time.Second, "per-server STUN timeout")
}
