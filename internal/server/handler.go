// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/coordinator"
	"github.com/checkpoint-restore/criu-coordinator/internal/registry"
	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// Handler dispatches one connection's request header to the barrier it
// needs and replies with the matching control token.
type Handler struct {
	cfg      *config.ServerConfig
	logger   *slog.Logger
	registry *registry.Registry
	barrier  *coordinator.Barrier
}

// Handle processes a single connection end to end. Any error is logged
// and the connection closed; it never affects other sessions.
func (h *Handler) Handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	hdr, err := wire.ReadHeader(conn)
	if err != nil {
		h.logger.Error("reading request header", "error", err, "remote", conn.RemoteAddr())
		return
	}

	list, bulk, isBulk, err := hdr.ParseDependencies()
	if err != nil {
		h.logger.Error("decoding dependencies", "error", err, "id", hdr.ID, "action", hdr.Action)
		return
	}

	if isBulk {
		h.handleBulkDeps(conn, bulk)
		return
	}

	deps := h.registry.ResolveDependencies(h.logger, hdr.ID, list)

	switch {
	case hdr.Action == wire.ActionPostRestore || hdr.Action == wire.ActionNetworkUnlock || hdr.Action == wire.ActionPostResume:
		h.handleTerminal(conn, hdr.ID, hdr.Action)
	case hdr.Action == wire.ActionPostDump:
		h.handlePostDump(ctx, conn, hdr.ID, deps)
	default:
		h.handleBarrierAction(ctx, conn, hdr.ID, hdr.Action, deps)
	}
}

func (h *Handler) handleBulkDeps(conn net.Conn, deps map[string][]string) {
	h.registry.SetBulkDeps(deps)
	h.logger.Info("installed bulk dependency map", "entries", len(deps))
	if err := wire.WriteToken(conn, wire.TokenACK); err != nil {
		h.logger.Error("writing ACK", "error", err)
	}
}

// handleTerminal answers actions that carry no barrier semantics of their
// own: the participant is simply removed once it reports done.
func (h *Handler) handleTerminal(conn net.Conn, id string, action wire.Action) {
	h.logger.Info("terminal action", "id", id, "action", action)
	h.registry.Remove(id)
	if err := wire.WriteToken(conn, wire.TokenACK); err != nil {
		h.logger.Error("writing ACK", "error", err, "id", id)
	}
}

// handlePostDump waits for every dependency to finish its own local
// checkpoint before acknowledging, then removes the participant.
func (h *Handler) handlePostDump(ctx context.Context, conn net.Conn, id string, deps []string) {
	h.logger.Info("post-dump: awaiting local checkpoint of dependencies", "id", id, "dependencies", deps)

	h.registry.Mutate(id, func(p *registry.Participant) { p.LocalCheckpoint = true })

	err := h.barrier.AwaitLocalCheckpoint(ctx, id, deps)
	h.registry.Remove(id)

	if err != nil {
		h.replyBarrierError(conn, id, err)
		return
	}
	if err := wire.WriteToken(conn, wire.TokenACK); err != nil {
		h.logger.Error("writing ACK", "error", err, "id", id)
	}
}

// handleBarrierAction covers pre-dump, pre-restore, network-lock and
// pre-stream: register the participant, wait for declared dependencies to
// connect and become ready, mark ready, and reply.
func (h *Handler) handleBarrierAction(ctx context.Context, conn net.Conn, id string, action wire.Action, deps []string) {
	op := registry.OpUnknown
	switch {
	case action.IsDumpClass():
		op = registry.OpDump
	case action.IsRestoreClass():
		op = registry.OpRestore
	}

	if _, err := h.registry.Insert(id, deps, op); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			h.logger.Warn("duplicate connection", "id", id, "action", action)
			wire.WriteToken(conn, wire.TokenAlreadyConnect)
			return
		}
		h.logger.Error("registering participant", "error", err, "id", id)
		return
	}

	h.logger.Info("participant connected", "id", id, "action", action, "dependencies", deps)

	if err := h.barrier.AwaitConnected(ctx, id, deps); err != nil {
		h.registry.Remove(id)
		h.replyBarrierError(conn, id, err)
		return
	}

	// A participant announces its own readiness as soon as its
	// dependencies have connected, before it waits for their readiness in
	// turn — otherwise two mutually-dependent participants would
	// deadlock each waiting on the other's Ready flag.
	h.registry.Mutate(id, func(p *registry.Participant) { p.Ready = true })
	h.logger.Info("participant ready", "id", id, "action", action)

	if err := h.barrier.AwaitReady(ctx, id, deps); err != nil {
		h.registry.Remove(id)
		h.replyBarrierError(conn, id, err)
		return
	}

	if err := wire.WriteToken(conn, wire.TokenACK); err != nil {
		h.logger.Error("writing ACK", "error", err, "id", id)
		return
	}

	if action == wire.ActionPreStream {
		if err := h.receiveImages(ctx, conn, id); err != nil {
			h.logger.Error("receiving images", "error", err, "id", id)
		}
	}
}

func (h *Handler) replyBarrierError(conn net.Conn, id string, err error) {
	switch {
	case errors.Is(err, coordinator.ErrBarrierTimeout):
		h.logger.Warn("barrier timed out", "id", id)
		wire.WriteToken(conn, wire.TokenTimeout)
	default:
		h.logger.Warn("barrier wait aborted", "id", id, "error", err)
		wire.WriteToken(conn, wire.TokenNotConnected)
	}
}
