// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wire implements the rendezvous protocol spoken between the hook
// client and the coordinator server: a JSON request header, followed by
// plain ASCII control tokens, and (during image streaming) a JSON image
// descriptor followed by the raw image bytes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control tokens exchanged over the wire. These are whole-message payloads,
// not framed with any length prefix — each is sent and read as a single
// logical message.
const (
	TokenACK            = "ACK"
	TokenSYN            = "SYN"
	TokenImgAck         = "IMG_ACK"
	TokenTimeout        = "timeout"
	TokenNotConnected   = "not connected"
	TokenAlreadyCreated = "checkpoint is already created"
	TokenAlreadyConnect = "client already connected"
)

// Sentinel errors returned by the reader/writer helpers.
var (
	ErrUnknownToken    = errors.New("wire: unknown control token")
	ErrFrameTooLarge   = errors.New("wire: frame exceeds maximum size")
	ErrMissingID       = errors.New("wire: header missing id")
	ErrMissingAction   = errors.New("wire: header missing action")
	ErrBadDependencies = errors.New("wire: dependencies field has unexpected shape")
	ErrMissingImgName  = errors.New("wire: image descriptor missing img_name")
)

// Special participant id used by bulk dependency installers (e.g. a
// container-orchestration controller) to push the coordinator's global
// dependency map without going through the normal per-process flow.
const BulkDepsClientID = "bulk-deps-client"

// Action is one of the ten CRIU lifecycle hook names the coordinator
// recognizes.
type Action string

const (
	ActionPreDump         Action = "pre-dump"
	ActionPostDump        Action = "post-dump"
	ActionPreRestore      Action = "pre-restore"
	ActionPostRestore     Action = "post-restore"
	ActionNetworkLock     Action = "network-lock"
	ActionNetworkUnlock   Action = "network-unlock"
	ActionPostResume      Action = "post-resume"
	ActionPreStream       Action = "pre-stream"
	ActionPostStream      Action = "post-stream"
	ActionAddDependencies Action = "add-dependencies"
)

// IsDumpClass reports whether the action belongs to a dump/checkpoint
// operation, as opposed to a restore operation.
func (a Action) IsDumpClass() bool {
	switch a {
	case ActionPreDump, ActionNetworkLock, ActionPostDump, ActionPreStream, ActionPostStream:
		return true
	default:
		return false
	}
}

// IsRestoreClass reports whether the action belongs to a restore operation.
func (a Action) IsRestoreClass() bool {
	switch a {
	case ActionPreRestore, ActionPostRestore, ActionNetworkUnlock, ActionPostResume:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether, after this action completes, the
// coordinator should drop the participant's registry entry.
func (a Action) IsTerminal() bool {
	switch a {
	case ActionPostDump, ActionPostRestore, ActionPostResume, ActionPostStream:
		return true
	default:
		return false
	}
}

// Header is the JSON object every hook client sends as its first (and for
// most actions, only) message.
//
//	{"id": "A", "action": "pre-dump", "dependencies": "B:C"}
//	{"id": "bulk-deps-client", "action": "add-dependencies", "dependencies": {"A": ["B","C"]}}
type Header struct {
	ID           string          `json:"id"`
	Action       Action          `json:"action"`
	Dependencies json.RawMessage `json:"dependencies,omitempty"`
}

// ParseDependencies resolves the polymorphic dependencies field. For ordinary
// participants it is a colon-separated string, split into a slice. For the
// bulk-deps-client it is an object mapping id to a list of dependency ids.
func (h *Header) ParseDependencies() (list []string, bulk map[string][]string, isBulk bool, err error) {
	if len(h.Dependencies) == 0 || string(h.Dependencies) == `""` || string(h.Dependencies) == "null" {
		return nil, nil, false, nil
	}

	if h.ID == BulkDepsClientID && h.Action == ActionAddDependencies {
		var m map[string][]string
		if err := json.Unmarshal(h.Dependencies, &m); err != nil {
			return nil, nil, false, fmt.Errorf("%w: %v", ErrBadDependencies, err)
		}
		return nil, m, true, nil
	}

	var s string
	if err := json.Unmarshal(h.Dependencies, &s); err != nil {
		return nil, nil, false, fmt.Errorf("%w: %v", ErrBadDependencies, err)
	}
	return splitDeps(s), nil, false, nil
}

func splitDeps(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func (h *Header) validate() error {
	if h.ID == "" {
		return ErrMissingID
	}
	if h.Action == "" {
		return ErrMissingAction
	}
	return nil
}

// ImageDescriptor precedes the raw bytes of one checkpoint image file
// during the pre-stream relay.
type ImageDescriptor struct {
	ImgName string `json:"img_name"`
	ImgSize int64  `json:"img_size"`
}

func (d *ImageDescriptor) validate() error {
	if d.ImgName == "" {
		return ErrMissingImgName
	}
	return nil
}
