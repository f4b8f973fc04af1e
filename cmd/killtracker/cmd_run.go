package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/killtracker/internal/collector"
	"github.com/user/killtracker/internal/monitor"
	"github.com/user/killtracker/internal/notify"
	"github.com/user/killtracker/internal/telegram"
	"github.com/user/killtracker/internal/webhook"
)

var runLogPath string

func init() {
	runCmd.Flags().StringVar(&runLogPath, "log", "", "game log to follow (overrides log_path)")
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Follow the game log and relay kills to the collector",
	Args:  cobra.NoArgs,
	RunE:  runMonitor,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg)

	logPath := cfg.LogPath
	if runLogPath != "" {
		logPath = runLogPath
	}
	if logPath == "" {
		return errors.New("no game log configured (set log_path or pass --log)")
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	client := collector.New(cfg.Collector.BaseURL, cfg.RequestTimeout())
	m, err := monitor.New(cfg, client)
	if err != nil {
		return fmt.Errorf("create monitor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sinks := []notify.Notifier{notify.Log{}}
	if cfg.Telegram.Token != "" {
		adapter, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID, m)
		if err != nil {
			return fmt.Errorf("create telegram adapter: %w", err)
		}
		go adapter.Start(ctx)
		sinks = append(sinks, adapter)
		slog.Info("telegram adapter started")
	} else {
		slog.Debug("telegram adapter disabled (no token)")
	}
	m.Dispatcher.SetNotifier(notify.NewMulti(sinks...))

	if cfg.HTTP.Enabled {
		httpServer := &http.Server{
			Addr:              cfg.HTTP.Listen,
			Handler:           webhook.NewServer(m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("status API started", "listen", cfg.HTTP.Listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status API error", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			httpServer.Close()
		}()
	}

	slog.Info("killtracker started",
		"version", version,
		"data_dir", cfg.DataDir,
		"log", logPath,
		"collector", client.BaseURL(),
		"pid_file", pidPath,
	)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, logPath) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for {
		select {
		case err := <-done:
			return err
		case sig := <-sigChan:
			if sig == syscall.SIGHUP {
				slog.Info("received SIGHUP, restarting")
				cancel()
				if err := <-done; err != nil {
					slog.Error("monitor stopped with error", "error", err)
				}
				execPath, err := os.Executable()
				if err != nil {
					return fmt.Errorf("get executable path: %w", err)
				}
				os.Remove(pidPath)
				return syscall.Exec(execPath, os.Args, os.Environ())
			}
			slog.Info("shutting down", "signal", sig)
			cancel()
			return <-done
		}
	}
}
