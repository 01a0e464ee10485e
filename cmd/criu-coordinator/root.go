// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "criu-coordinator",
		Short:         "Coordinate distributed CRIU checkpoint/restore",
		Long:          "criu-coordinator rendezvous-coordinates checkpoint/restore across a distributed set of processes, and relays streamed checkpoint images between them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newCompletionsCmd(),
		newStreamerChildCmd(),
	)
	return root
}
