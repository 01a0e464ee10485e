// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package hookclient implements the per-process lifecycle hook invoked by
// the checkpoint/restore engine at each stage (pre-dump, post-dump,
// pre-restore, ...): it resolves the process's identity and dependency
// list, talks to the coordinator over TCP, and optionally drives the
// image streamer.
package hookclient

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/checkpoint-restore/criu-coordinator/internal/config"
	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// cgroupIDLen is the length of the hex container id CRIU/runc/containerd
// place in a process's cgroup path.
const cgroupIDLen = 64

// Identity is what the hook client resolves before talking to the
// coordinator: the participant id to present, the dependency list, and
// where to connect.
type Identity struct {
	ID           string
	Dependencies string
	Address      string
	Port         int
	LogFile      string
}

// Resolve determines the identity to use for this invocation, following
// the per-image-directory config file if present, falling back to the
// global cluster config for dump-class actions, and requiring the local
// config file on restore.
func Resolve(imagesDir string, action wire.Action, initPID int) (*Identity, error) {
	if config.LocalConfigExists(imagesDir) {
		local, err := config.ReadLocalConfig(imagesDir)
		if err != nil {
			return nil, fmt.Errorf("reading per-image-directory config: %w", err)
		}
		return &Identity{
			ID:           local.ID,
			Dependencies: local.Dependencies,
			Address:      local.Address,
			Port:         local.Port,
			LogFile:      local.LogFile,
		}, nil
	}

	if action.IsRestoreClass() {
		return nil, fmt.Errorf("restore action %q initiated, but no local config found in %s", action, imagesDir)
	}

	global, err := config.ReadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("resolving identity for dump action: %w", err)
	}

	id := identityFromPID(initPID)
	deps := findDependencies(global.Dependencies, id)

	if action == wire.ActionPreDump || action == wire.ActionPreStream ||
		action == wire.ActionNetworkLock || action == wire.ActionPostDump {
		if err := config.WriteLocalConfig(imagesDir, id, deps); err != nil {
			return nil, fmt.Errorf("persisting per-image-directory config: %w", err)
		}
	}

	return &Identity{
		ID:           id,
		Dependencies: deps,
		Address:      global.Address,
		Port:         global.Port,
		LogFile:      global.LogFile,
	}, nil
}

// identityFromPID derives a participant id for a process: the container
// id found in its cgroup path, or its process name, or its PID.
func identityFromPID(pid int) string {
	if id, ok := containerIDFromCgroup(pid); ok {
		return id
	}
	if name, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid)); err == nil {
		if trimmed := strings.TrimSpace(string(name)); trimmed != "" {
			return trimmed
		}
	}
	return strconv.Itoa(pid)
}

// containerIDFromCgroup scans /proc/<pid>/cgroup for a 64 hex-character
// token bounded by non-hex characters, as runc/containerd place the
// container id there. The last match found wins, matching a container
// runtime's tendency to place the innermost (most specific) cgroup path
// component last.
func containerIDFromCgroup(pid int) (string, bool) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", false
	}

	var found string
	for _, line := range strings.Split(string(data), "\n") {
		for i := 0; i+cgroupIDLen <= len(line); i++ {
			candidate := line[i : i+cgroupIDLen]
			if !isHex(candidate) {
				continue
			}
			startsBoundary := i == 0 || !isHexByte(line[i-1])
			endsBoundary := i+cgroupIDLen == len(line) || !isHexByte(line[i+cgroupIDLen])
			if startsBoundary && endsBoundary {
				found = candidate
			}
		}
	}
	if found == "" {
		return "", false
	}
	return found, true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		if !isHexByte(s[i]) {
			return false
		}
	}
	return true
}

func isHexByte(b byte) bool {
	return (b >= '0' && b <= '9') || (b >= 'a' && b <= 'f') || (b >= 'A' && b <= 'F')
}

// findDependencies looks up id's dependency list in the global cluster
// map, using prefix matching (a key matches when the discovered id starts
// with it, so a key may be a shortened form of the id).
func findDependencies(depsMap map[string][]string, id string) string {
	for key, deps := range depsMap {
		if strings.HasPrefix(id, key) {
			return strings.Join(deps, ":")
		}
	}
	return ""
}
