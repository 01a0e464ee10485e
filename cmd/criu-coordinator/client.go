// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"github.com/spf13/cobra"

	"github.com/checkpoint-restore/criu-coordinator/internal/bulkclient"
	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/hookclient"
	"github.com/checkpoint-restore/criu-coordinator/internal/logging"
	"github.com/checkpoint-restore/criu-coordinator/internal/streamer"
	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

func newClientCmd() *cobra.Command {
	var (
		address      string
		port         int
		id           string
		deps         string
		action       string
		imagesDir    string
		stream       bool
		logFile      string
		bulkDepsFile string
	)

	cmd := &cobra.Command{
		Use:     "client",
		Aliases: []string{"c"},
		Short:   "Run as a hook client for one CRIU action",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, logCloser := logging.NewLogger("info", "json", logFile)
			defer logCloser.Close()

			if bulkDepsFile != "" {
				return bulkclient.InstallFromFile(logger, address, port, bulkDepsFile)
			}

			streamSocketPath := ""
			if imagesDir != "" {
				streamSocketPath = imagesDir + "/" + streamer.CaptureSocketName
			}

			req := hookclient.Request{
				Address:          address,
				Port:             port,
				ID:               id,
				Dependencies:     deps,
				Action:           wire.Action(action),
				ImagesDir:        imagesDir,
				StreamSocketPath: streamSocketPath,
			}
			if stream {
				req.Action = wire.ActionPreStream
			}

			return hookclient.Run(logger, req)
		},
	}

	cmd.Flags().StringVar(&address, "address", config.DefaultAddress, "address to connect the client to")
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "port to connect the client to")
	cmd.Flags().StringVarP(&id, "id", "i", "", "unique client ID")
	cmd.Flags().StringVarP(&deps, "deps", "d", "", "a colon-separated list of dependency IDs")
	cmd.Flags().StringVarP(&action, "action", "a", string(wire.ActionPreDump), "action name indicating the stage of checkpoint/restore")
	cmd.Flags().StringVarP(&imagesDir, "images-dir", "D", ".", "images directory where the stream socket is created")
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "use checkpoint streaming")
	cmd.Flags().StringVarP(&logFile, "log-file", "o", "", "log file name")
	cmd.Flags().StringVar(&bulkDepsFile, "bulk-deps-file", "", "install a bulk dependency map from a JSON file instead of running a single action")

	return cmd
}
