// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/checkpoint-restore/criu-coordinator/internal/registry"
)

func TestAwaitConnected_SucceedsWhenAlreadyConnected(t *testing.T) {
	reg := registry.New()
	reg.Insert("B", nil, registry.OpDump)

	b := New(reg, nil, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := b.AwaitConnected(ctx, "A", []string{"B"}); err != nil {
		t.Fatalf("AwaitConnected: %v", err)
	}
}

func TestAwaitConnected_TimesOutWhenMissing(t *testing.T) {
	reg := registry.New()
	b := New(reg, nil, 1100*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := b.AwaitConnected(ctx, "A", []string{"B"})
	if err != ErrBarrierTimeout {
		t.Fatalf("expected ErrBarrierTimeout, got %v", err)
	}
}

func TestAwaitConnected_SucceedsOnceDependencyArrives(t *testing.T) {
	reg := registry.New()
	b := New(reg, nil, 3*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		reg.Insert("B", nil, registry.OpDump)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.AwaitConnected(ctx, "A", []string{"B"}); err != nil {
		t.Fatalf("AwaitConnected: %v", err)
	}
}

func TestAwaitReady_WaitsForReadyFlag(t *testing.T) {
	reg := registry.New()
	reg.Insert("B", nil, registry.OpDump)
	b := New(reg, nil, 3*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		reg.Mutate("B", func(p *registry.Participant) { p.Ready = true })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.AwaitReady(ctx, "A", []string{"B"}); err != nil {
		t.Fatalf("AwaitReady: %v", err)
	}
}

func TestAwaitLocalCheckpoint_TreatsMissingDependencyAsComplete(t *testing.T) {
	reg := registry.New()
	b := New(reg, nil, time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := b.AwaitLocalCheckpoint(ctx, "A", []string{"ghost"}); err != nil {
		t.Fatalf("expected missing dependency to be treated as complete, got %v", err)
	}
}

func TestAwaitLocalCheckpoint_WaitsForFlag(t *testing.T) {
	reg := registry.New()
	reg.Insert("B", nil, registry.OpDump)
	b := New(reg, nil, 3*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		reg.Mutate("B", func(p *registry.Participant) { p.LocalCheckpoint = true })
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := b.AwaitLocalCheckpoint(ctx, "A", []string{"B"}); err != nil {
		t.Fatalf("AwaitLocalCheckpoint: %v", err)
	}
}

func TestAwaitConnected_NoDependenciesIsNoop(t *testing.T) {
	reg := registry.New()
	b := New(reg, nil, time.Second)

	if err := b.AwaitConnected(context.Background(), "A", nil); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
}

func TestAwaitConnected_ContextCancellation(t *testing.T) {
	reg := registry.New()
	b := New(reg, nil, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := b.AwaitConnected(ctx, "A", []string{"B"})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
