package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/delivery"
	"github.com/user/killtracker/internal/state"
)

func init() {
	bufferCmd.AddCommand(bufferListCmd, bufferFlushCmd)
}

var bufferCmd = &cobra.Command{
	Use:   "buffer",
	Short: "Inspect and resend kills waiting for delivery",
}

// savedKey serves the credential stored in a profile.
type savedKey string

func (k savedKey) Key() string { return string(k) }

func openPlayerProfile() (*state.ProfileStore, error) {
	if err := requirePlayer(); err != nil {
		return nil, err
	}
	cfg := loadConfig()
	return state.OpenProfile(cfg.DataDir, playerHandle)
}

var bufferListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buffered kills",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := openPlayerProfile()
		if err != nil {
			return err
		}
		entries := profile.Profile().Pickle
		if len(entries) == 0 {
			fmt.Println("No buffered kills.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENDPOINT\tRESULT\tVICTIM\tZONE\tTIME")
		for _, e := range entries {
			d := e.KillResult.Data
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Endpoint, e.KillResult.Result, d.Victim, d.Zone, d.Time)
		}
		return w.Flush()
	},
}

var bufferFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Resend buffered kills now, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := openPlayerProfile()
		if err != nil {
			return err
		}
		prof := profile.Profile()
		if prof.Key == "" {
			return errors.New("no key saved for this player (run key set first)")
		}

		cfg := loadConfig()
		client := collector.New(cfg.Collector.BaseURL, cfg.RequestTimeout())
		engine := delivery.NewEngine(client, savedKey(prof.Key), delivery.NewBuffer(prof.Pickle), profile)
		sent, err := engine.Flush(cmd.Context())
		fmt.Fprintf(os.Stdout, "Sent %d, %d remaining.\n", sent, engine.Buffer().Len())
		if err != nil {
			return fmt.Errorf("flush stopped: %w", err)
		}
		return nil
	},
}
