package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/keys"
	"github.com/user/killtracker/internal/state"
)

var playerHandle string

func init() {
	rootCmd.AddCommand(keyCmd, bufferCmd)
	keyCmd.PersistentFlags().StringVar(&playerHandle, "player", "", "player handle the key belongs to")
	bufferCmd.PersistentFlags().StringVar(&playerHandle, "player", "", "player handle whose buffer to use")
	keyCmd.AddCommand(keyValidateCmd, keySetCmd)
}

func requirePlayer() error {
	if playerHandle == "" {
		return errors.New("--player is required")
	}
	return nil
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Validate and store collector keys",
}

// checkKey validates key for the player and returns its remaining lifetime.
func checkKey(ctx context.Context, client *collector.Client, key string) (time.Duration, error) {
	if err := client.ValidateKey(ctx, key, playerHandle); err != nil {
		return 0, fmt.Errorf("%w: %v", keys.ErrInvalidKey, err)
	}
	expiry, err := client.FetchExpiry(ctx, key, playerHandle)
	if err != nil {
		return 0, fmt.Errorf("fetch expiry: %w", err)
	}
	return keys.Remaining(expiry, time.Now()), nil
}

var keyValidateCmd = &cobra.Command{
	Use:   "validate <key>",
	Short: "Check a key against the collector",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePlayer(); err != nil {
			return err
		}
		cfg := loadConfig()
		client := collector.New(cfg.Collector.BaseURL, cfg.RequestTimeout())
		remaining, err := checkKey(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, keys.FormatRemaining(remaining))
		return nil
	},
}

var keySetCmd = &cobra.Command{
	Use:   "set <key>",
	Short: "Validate a key and save it in the player's profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePlayer(); err != nil {
			return err
		}
		cfg := loadConfig()
		client := collector.New(cfg.Collector.BaseURL, cfg.RequestTimeout())
		remaining, err := checkKey(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}
		profile, err := state.OpenProfile(cfg.DataDir, playerHandle)
		if err != nil {
			return err
		}
		if err := profile.SaveKey(args[0]); err != nil {
			return fmt.Errorf("save key: %w", err)
		}
		fmt.Fprintf(os.Stdout, "%s\nSaved to %s\n", keys.FormatRemaining(remaining), profile.Path())
		return nil
	},
}
