// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package hookclient

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/checkpoint-restore/criu-coordinator/internal/streamer"
	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// ErrRejected is returned when the coordinator answers the request
// header with anything other than ACK.
var ErrRejected = errors.New("hookclient: coordinator rejected request")

// dialTimeout bounds the initial TCP connect.
const dialTimeout = 10 * time.Second

// Request carries everything the hook client needs for one invocation.
type Request struct {
	Address      string
	Port         int
	ID           string
	Dependencies string
	Action       wire.Action
	ImagesDir    string
	// StreamSocketPath is where the checkpoint/restore engine will open
	// its local image-streaming socket for this action, if it supports
	// streaming. Empty disables the streaming predicate check.
	StreamSocketPath string
}

// ShouldStream reports whether this invocation should start the image
// streamer: unconditionally for pre-stream, or for pre-dump when the
// engine has already created its streaming socket.
func (r Request) ShouldStream() (bool, error) {
	if r.Action == wire.ActionPreStream {
		return true, nil
	}
	if r.Action != wire.ActionPreDump || r.StreamSocketPath == "" {
		return false, nil
	}

	fi, err := os.Lstat(r.StreamSocketPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking stream socket %s: %w", r.StreamSocketPath, err)
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return false, fmt.Errorf("stream socket path %s exists but is not a socket", r.StreamSocketPath)
	}
	return true, nil
}

// Run dials the coordinator, sends the request header, waits for ACK,
// and — when streaming is requested — drives the image streamer over the
// same connection.
func Run(logger *slog.Logger, req Request) error {
	addr := fmt.Sprintf("%s:%d", req.Address, req.Port)
	logger.Info("connecting to coordinator", "address", addr, "action", req.Action, "id", req.ID)

	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return fmt.Errorf("connecting to coordinator at %s: %w", addr, err)
	}
	defer conn.Close()

	hdr := &wire.Header{ID: req.ID, Action: req.Action}
	if req.Dependencies != "" {
		hdr.Dependencies = []byte(`"` + req.Dependencies + `"`)
	}
	if err := wire.WriteHeader(conn, hdr); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	tok, err := wire.ReadToken(conn)
	if err != nil {
		return fmt.Errorf("reading coordinator response: %w", err)
	}
	logger.Info("coordinator responded", "response", tok)
	if tok != wire.TokenACK {
		return fmt.Errorf("%w: %s", ErrRejected, tok)
	}

	shouldStream, err := req.ShouldStream()
	if err != nil {
		return err
	}
	if shouldStream {
		// Capture/Relay must outlive this hook invocation: the
		// checkpoint/restore engine only starts writing into the image
		// pipes after the hook returns, so the streamer is handed off to
		// a detached child rather than run inline here.
		if err := streamer.RunDetached(logger, conn, req.ImagesDir); err != nil {
			return fmt.Errorf("starting image streamer: %w", err)
		}
		return nil
	}

	return nil
}
