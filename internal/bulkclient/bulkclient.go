// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package bulkclient implements the thin client a container-orchestration
// controller uses to push the coordinator's entire dependency map in one
// request, instead of every participant resolving it individually.
package bulkclient

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// dialTimeout bounds the initial TCP connect.
const dialTimeout = 10 * time.Second

// Install connects to the coordinator at address:port and installs deps
// as the cluster-wide dependency map.
func Install(logger *slog.Logger, address string, port int, deps map[string][]string) error {
	addr := fmt.Sprintf("%s:%d", address, port)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to coordinator at %s: %w", addr, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(deps)
	if err != nil {
		return fmt.Errorf("encoding dependency map: %w", err)
	}

	hdr := &wire.Header{
		ID:           wire.BulkDepsClientID,
		Action:       wire.ActionAddDependencies,
		Dependencies: payload,
	}
	if err := wire.WriteHeader(conn, hdr); err != nil {
		return fmt.Errorf("sending bulk dependency map: %w", err)
	}

	tok, err := wire.ReadToken(conn)
	if err != nil {
		return fmt.Errorf("reading coordinator response: %w", err)
	}
	if tok != wire.TokenACK {
		return fmt.Errorf("coordinator rejected bulk dependency map: %s", tok)
	}

	logger.Info("installed bulk dependency map", "address", addr, "participants", len(deps))
	return nil
}

// InstallFromFile reads a JSON file mapping participant id to its
// dependency id list and installs it via Install.
func InstallFromFile(logger *slog.Logger, address string, port int, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bulk dependency file %s: %w", path, err)
	}

	var deps map[string][]string
	if err := json.Unmarshal(data, &deps); err != nil {
		return fmt.Errorf("parsing bulk dependency file %s: %w", path, err)
	}

	return Install(logger, address, port, deps)
}
