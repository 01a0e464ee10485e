// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Command criu-coordinator is the rendezvous server and per-process hook
// client for coordinating CRIU checkpoint/restore across a distributed
// set of processes or containers.
package main

import (
	"fmt"
	"os"
)

// envAction and envImageDir are the environment variables CRIU sets when
// invoking an action script hook, taking priority over any CLI flags:
// this lets criu-coordinator be registered directly as a CRIU hook
// without a wrapper script.
const (
	envAction   = "CRTOOLS_SCRIPT_ACTION"
	envImageDir = "CRTOOLS_IMAGE_DIR"
	envInitPID  = "CRTOOLS_INIT_PID"
)

func main() {
	if action, ok := os.LookupEnv(envAction); ok {
		if err := runHook(action); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
