// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package coordinator implements the rendezvous barriers that synchronize
// cooperating participants of a checkpoint/restore operation: waiting for
// all declared dependencies to connect, to become ready, and to finish
// their local checkpoint.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/checkpoint-restore/criu-coordinator/internal/registry"
)

// ErrBarrierTimeout is returned when a dependency fails to satisfy a
// barrier's condition within the configured wait timeout.
var ErrBarrierTimeout = errors.New("coordinator: barrier wait timed out")

// Barrier coordinates the three rendezvous points a participant passes
// through: connection, readiness, and (for dump operations) local
// checkpoint completion.
type Barrier struct {
	Registry    *registry.Registry
	Logger      *slog.Logger
	WaitTimeout time.Duration
}

// New returns a Barrier bound to reg, polling once a second up to
// waitTimeout for each dependency.
func New(reg *registry.Registry, logger *slog.Logger, waitTimeout time.Duration) *Barrier {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &Barrier{Registry: reg, Logger: logger, WaitTimeout: waitTimeout}
}

// condFunc reports whether dependency id currently satisfies the barrier,
// given a snapshot of its participant state (ok=false if unregistered).
type condFunc func(p registry.Participant, ok bool) bool

// AwaitConnected blocks until every dependency in deps has registered
// (connected) with the coordinator, or until the wait timeout elapses.
func (b *Barrier) AwaitConnected(ctx context.Context, id string, deps []string) error {
	return b.await(ctx, id, deps, func(p registry.Participant, ok bool) bool {
		return ok && p.Connected
	})
}

// AwaitReady blocks until every dependency in deps has reached the ready
// state (passed its own connection barrier and announced readiness).
func (b *Barrier) AwaitReady(ctx context.Context, id string, deps []string) error {
	return b.await(ctx, id, deps, func(p registry.Participant, ok bool) bool {
		return ok && p.Ready
	})
}

// AwaitLocalCheckpoint blocks until every dependency in deps has reported
// its local checkpoint complete (post-dump). A dependency that is no
// longer present in the registry is treated as already completed: it may
// have finished and been removed before we started waiting. This branch
// is logged prominently, per the open question this behavior resolves.
func (b *Barrier) AwaitLocalCheckpoint(ctx context.Context, id string, deps []string) error {
	return b.await(ctx, id, deps, func(p registry.Participant, ok bool) bool {
		if !ok {
			if b.Logger != nil {
				b.Logger.Info("treating missing dependency as already completed",
					"participant", id)
			}
			return true
		}
		return p.LocalCheckpoint
	})
}

func (b *Barrier) await(ctx context.Context, id string, deps []string, cond condFunc) error {
	if len(deps) == 0 {
		return nil
	}

	pending := make(map[string]bool, len(deps))
	for _, d := range deps {
		pending[d] = true
	}

	deadline := time.Now().Add(b.WaitTimeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	check := func() {
		for dep := range pending {
			p, ok := b.Registry.Get(dep)
			if cond(p, ok) {
				delete(pending, dep)
			}
		}
	}

	check()
	for len(pending) > 0 {
		if time.Now().After(deadline) {
			if b.Logger != nil {
				b.Logger.Warn("barrier wait timed out", "participant", id, "pending", keys(pending))
			}
			return ErrBarrierTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			check()
		}
	}
	return nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
