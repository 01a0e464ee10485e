// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/streamer"
)

// newStreamerChildCmd wires up the hidden subcommand streamer.RunDetached
// re-execs into: it is never invoked directly by a user, only by the hook
// client handing off its coordinator connection to a detached child.
func newStreamerChildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:    streamer.ChildSubcommand + " <images-dir>",
		Hidden: true,
		Args:   cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, logCloser := logging.NewLogger("info", "json", "")
			defer logCloser.Close()

			if err := streamer.RunChild(logger, args[0]); err != nil {
				return fmt.Errorf("streamer child: %w", err)
			}
			return nil
		},
	}
	return cmd
}
