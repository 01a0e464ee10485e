// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"

	"github.com/checkpoint-restore/criu-coordinator/internal/registry"
	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// receiveChunkSize bounds each individual copy of an incoming image's
// bytes, so a large img_size is drained incrementally.
const receiveChunkSize = 1024

// receiveImages implements the streaming receiver for the pre-stream
// action. The streamer first sends a bare SYN announcing that its local
// checkpoint has been captured; the coordinator marks the participant's
// local checkpoint complete and acknowledges. It then relays one
// {img_name,img_size}+bytes message per captured image (each acknowledged
// with IMG_ACK), followed by a final SYN that ends the session.
func (h *Handler) receiveImages(ctx context.Context, conn net.Conn, id string) error {
	if err := os.MkdirAll(h.cfg.ImagesDir, 0755); err != nil {
		return fmt.Errorf("creating images dir %s: %w", h.cfg.ImagesDir, err)
	}

	br := bufio.NewReaderSize(conn, 64*1024)

	tok, err := wire.ReadToken(br)
	if err != nil {
		return fmt.Errorf("reading local-checkpoint SYN: %w", err)
	}
	if tok != wire.TokenSYN {
		return fmt.Errorf("expected SYN announcing local checkpoint, got %q", tok)
	}
	h.registryMarkLocalCheckpoint(id)
	if err := wire.WriteToken(conn, wire.TokenACK); err != nil {
		return fmt.Errorf("acknowledging local-checkpoint SYN: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		peek, err := br.Peek(1)
		if err != nil {
			return fmt.Errorf("peeking next message: %w", err)
		}

		if peek[0] == 'S' {
			tok, err := wire.ReadToken(br)
			if err != nil {
				return fmt.Errorf("reading final SYN: %w", err)
			}
			if tok != wire.TokenSYN {
				return fmt.Errorf("expected final SYN, got %q", tok)
			}
			h.logger.Info("pre-stream: all images received", "id", id)
			return wire.WriteToken(conn, wire.TokenACK)
		}

		desc, err := wire.ReadImageDescriptor(br)
		if err != nil {
			h.logger.Warn("pre-stream: ending receive loop on malformed message", "id", id, "error", err)
			return nil
		}

		if err := h.receiveOneImage(br, desc); err != nil {
			return fmt.Errorf("receiving image %s: %w", desc.ImgName, err)
		}

		if err := wire.WriteToken(conn, wire.TokenImgAck); err != nil {
			return fmt.Errorf("acknowledging image %s: %w", desc.ImgName, err)
		}
	}
}

func (h *Handler) registryMarkLocalCheckpoint(id string) {
	h.registry.Mutate(id, func(p *registry.Participant) { p.LocalCheckpoint = true })
}

func (h *Handler) receiveOneImage(r io.Reader, desc *wire.ImageDescriptor) error {
	path := filepath.Join(h.cfg.ImagesDir, desc.ImgName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	n, err := io.CopyBuffer(f, io.LimitReader(r, desc.ImgSize), make([]byte, receiveChunkSize))
	if err != nil {
		return fmt.Errorf("copying image bytes: %w", err)
	}
	if n != desc.ImgSize {
		return fmt.Errorf("short read for %s: got %d bytes, wanted %d", desc.ImgName, n, desc.ImgSize)
	}
	return nil
}
