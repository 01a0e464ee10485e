// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/server"
)

func newServerCmd() *cobra.Command {
	var (
		configPath  string
		address     string
		port        int
		imagesDir   string
		waitTimeout time.Duration
		logLevel    string
		logFormat   string
		logFile     string
	)

	cmd := &cobra.Command{
		Use:     "server",
		Aliases: []string{"s"},
		Short:   "Run the coordinator rendezvous server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(configPath)
			if err != nil {
				return fmt.Errorf("loading server config: %w", err)
			}

			if cmd.Flags().Changed("address") || cmd.Flags().Changed("port") {
				cfg.Listen = fmt.Sprintf("%s:%d", address, port)
			}
			if cmd.Flags().Changed("images-dir") {
				cfg.ImagesDir = imagesDir
			}
			if cmd.Flags().Changed("wait-timeout") {
				cfg.WaitTimeout = waitTimeout
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}
			if cmd.Flags().Changed("log-file") {
				cfg.LogFile = logFile
			}

			logger, logCloser := logging.NewLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
			defer logCloser.Close()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
			go func() {
				sig := <-sigCh
				logger.Info("received signal, shutting down", "signal", sig)
				cancel()
			}()

			return server.Run(ctx, cfg, logger)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to server config file")
	cmd.Flags().StringVarP(&address, "address", "a", config.DefaultAddress, "address to bind the server to")
	cmd.Flags().IntVarP(&port, "port", "p", config.DefaultPort, "port to bind the server to")
	cmd.Flags().StringVarP(&imagesDir, "images-dir", "D", "/tmp/server-images", "directory where received checkpoint images are written")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 30*time.Second, "time to wait for dependent participants at each barrier")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
	cmd.Flags().StringVarP(&logFile, "log-file", "o", "", "log file path (in addition to stdout)")

	return cmd
}
