// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package registry

import "testing"

func TestInsert_RejectsDuplicate(t *testing.T) {
	r := New()
	if _, err := r.Insert("A", nil, OpDump); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := r.Insert("A", nil, OpDump); err != ErrAlreadyExists {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestInsert_AllowsReconnectAfterRemove(t *testing.T) {
	r := New()
	if _, err := r.Insert("A", nil, OpDump); err != nil {
		t.Fatalf("insert: %v", err)
	}
	r.Remove("A")
	if _, err := r.Insert("A", nil, OpDump); err != nil {
		t.Fatalf("reinsert after remove: %v", err)
	}
}

func TestMutate_UpdatesReadyFlag(t *testing.T) {
	r := New()
	r.Insert("A", nil, OpDump)

	ok := r.Mutate("A", func(p *Participant) { p.Ready = true })
	if !ok {
		t.Fatalf("mutate returned false for existing participant")
	}

	p, found := r.Get("A")
	if !found {
		t.Fatalf("expected participant A to exist")
	}
	if !p.Ready {
		t.Fatalf("expected Ready=true after Mutate")
	}
}

func TestMutate_UnknownParticipant(t *testing.T) {
	r := New()
	if r.Mutate("ghost", func(p *Participant) {}) {
		t.Fatalf("expected Mutate to return false for unknown id")
	}
}

func TestResolveDependencies_PrefersSupplied(t *testing.T) {
	r := New()
	r.SetBulkDeps(map[string][]string{"A": {"ignored"}})

	deps := r.ResolveDependencies(nil, "A", []string{"B", "C"})
	if len(deps) != 2 || deps[0] != "B" || deps[1] != "C" {
		t.Fatalf("expected supplied deps to win, got %v", deps)
	}
}

func TestResolveDependencies_PrefixMatch(t *testing.T) {
	r := New()
	r.SetBulkDeps(map[string][]string{
		"abc123": {"B", "C"},
	})

	deps := r.ResolveDependencies(nil, "abc123def456", nil)
	if len(deps) != 2 || deps[0] != "B" {
		t.Fatalf("expected prefix match deps, got %v", deps)
	}
}

func TestResolveDependencies_NoMatch(t *testing.T) {
	r := New()
	r.SetBulkDeps(map[string][]string{"zzz": {"B"}})

	deps := r.ResolveDependencies(nil, "abc", nil)
	if deps != nil {
		t.Fatalf("expected nil deps for no match, got %v", deps)
	}
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	r := New()
	r.Insert("A", []string{"B"}, OpDump)

	snap := r.Snapshot()
	p := snap["A"]
	p.Dependencies[0] = "mutated"

	live, _ := r.Get("A")
	if live.Dependencies[0] != "B" {
		t.Fatalf("expected snapshot mutation not to affect live registry, got %v", live.Dependencies)
	}
}
