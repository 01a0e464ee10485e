// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package server implements the coordinator's TCP rendezvous server: it
// accepts one connection per hook invocation, dispatches on the request
// header's action, and drives the registry/barrier state machine that
// synchronizes cooperating checkpoint/restore participants.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/coordinator"
	"github.com/checkpoint-restore/criu-coordinator/internal/registry"
)

// Run starts the coordinator and blocks until ctx is canceled.
func Run(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	defer ln.Close()

	logger.Info("coordinator listening", "address", cfg.Listen, "images_dir", cfg.ImagesDir)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down coordinator")
		ln.Close()
	}()

	return RunWithListener(ctx, ln, cfg, logger)
}

// RunWithListener runs the accept loop against an already-bound listener,
// used directly by tests against a loopback listener.
func RunWithListener(ctx context.Context, ln net.Listener, cfg *config.ServerConfig, logger *slog.Logger) error {
	reg := registry.New()
	barrier := coordinator.New(reg, logger, cfg.WaitTimeout)
	handler := &Handler{cfg: cfg, logger: logger, registry: reg, barrier: barrier}

	consecutiveErrors := 0
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				logger.Info("coordinator shutdown complete")
				return nil
			default:
				consecutiveErrors++
				logger.Error("accepting connection", "error", err, "consecutive_errors", consecutiveErrors)
				if consecutiveErrors > 5 {
					delay := time.Duration(consecutiveErrors) * 100 * time.Millisecond
					if delay > 5*time.Second {
						delay = 5 * time.Second
					}
					time.Sleep(delay)
				}
				continue
			}
		}

		consecutiveErrors = 0
		go handler.Handle(ctx, conn)
	}
}
