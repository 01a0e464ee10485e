// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/checkpoint-restore/criu-coordinator/internal/hookclient"
	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/streamer"
	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// runHook drives a single CRIU action-script invocation, identified
// entirely from the environment CRIU sets rather than CLI flags.
func runHook(actionStr string) error {
	action := wire.Action(actionStr)

	imagesDir, ok := os.LookupEnv(envImageDir)
	if !ok {
		return fmt.Errorf("%s not set", envImageDir)
	}

	initPID := 0
	if pidStr, ok := os.LookupEnv(envInitPID); ok {
		pid, err := strconv.Atoi(pidStr)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", envInitPID, pidStr, err)
		}
		initPID = pid
	} else if action.IsDumpClass() {
		return fmt.Errorf("%s not set", envInitPID)
	}

	identity, err := hookclient.Resolve(imagesDir, action, initPID)
	if err != nil {
		return fmt.Errorf("resolving identity: %w", err)
	}

	logger, logCloser := logging.NewLogger("info", "json", identity.LogFile)
	defer logCloser.Close()

	req := hookclient.Request{
		Address:          identity.Address,
		Port:             identity.Port,
		ID:               identity.ID,
		Dependencies:     identity.Dependencies,
		Action:           action,
		ImagesDir:        imagesDir,
		StreamSocketPath: imagesDir + "/" + streamer.CaptureSocketName,
	}

	return hookclient.Run(logger, req)
}
