package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/user/killtracker/internal/monitor"
)

const pidFileName = "killtracker.pid"

func init() {
	rootCmd.AddCommand(stopCmd, restartCmd, statusCmd)
}

// runningPID returns the PID recorded by `killtracker run` after checking
// with signal 0 that the process is still alive.
func runningPID(dataDir string) (int, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, pidFileName))
	if errors.Is(err, os.ErrNotExist) {
		return 0, errors.New("tracker is not running (no PID file)")
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("corrupt PID file: %w", err)
	}
	if err := syscall.Kill(pid, 0); err != nil {
		return 0, fmt.Errorf("tracker is not running (PID %d gone)", pid)
	}
	return pid, nil
}

// signalCommand builds a command that sends sig to the running tracker.
func signalCommand(use, short string, sig syscall.Signal, verb string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := runningPID(loadConfig().DataDir)
			if err != nil {
				return err
			}
			if err := syscall.Kill(pid, sig); err != nil {
				return fmt.Errorf("signal PID %d: %w", pid, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s tracker (PID %d).\n", verb, pid)
			return nil
		},
	}
}

var (
	stopCmd    = signalCommand("stop", "Stop the running tracker", syscall.SIGTERM, "Stopping")
	restartCmd = signalCommand("restart", "Restart the running tracker in place", syscall.SIGHUP, "Restarting")
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the running tracker's status via its local API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if !cfg.HTTP.Enabled {
			pid, err := runningPID(cfg.DataDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Running (PID %d); enable http to see details.\n", pid)
			return nil
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get("http://" + cfg.HTTP.Listen + "/api/status")
		if err != nil {
			return fmt.Errorf("query tracker: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("query tracker: status %d", resp.StatusCode)
		}
		var s monitor.Status
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		printStatus(cmd, s)
		return nil
	},
}

func printStatus(cmd *cobra.Command, s monitor.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Player:     %s\n", s.Identity.Handle)
	fmt.Fprintf(out, "%s\n", s.KeyStatus)
	fmt.Fprintf(out, "Monitoring: %t (collector healthy: %t)\n", s.Active, s.Healthy)
	fmt.Fprintf(out, "Mode:       %s, ship %s\n", s.Mode, s.Ship.Current)
	fmt.Fprintf(out, "Stats:      %d kills, %d deaths, K/D %s\n", s.Stats.Kills, s.Stats.Deaths, s.Stats.KD)
	fmt.Fprintf(out, "Buffered:   %d\n", s.Buffered)
	fmt.Fprintf(out, "Commander:  connected %t, roster %d, allocated %d\n",
		s.Commander.Connected, s.Commander.Roster, s.Commander.Allocated)
}
