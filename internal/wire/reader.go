// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// maxHeaderSize bounds the single read used to pick up a request header.
// The coordinator never needs more than a few hundred bytes for an id,
// action and dependency string or map.
const maxHeaderSize = 128 * 1024

// maxTokenSize bounds the single read used to pick up a bare control
// token such as ACK or timeout.
const maxTokenSize = 1024

// ReadHeader reads one JSON request header from r. Per the protocol, the
// header is sent as a single logical message (no length prefix); this
// performs one bounded Read and parses whatever arrived.
func ReadHeader(r io.Reader) (*Header, error) {
	buf := make([]byte, maxHeaderSize)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	var h Header
	if err := json.Unmarshal(buf[:n], &h); err != nil {
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// ReadToken reads one bare ASCII control token from r (ACK, SYN, IMG_ACK,
// timeout, or one of the rejection strings).
func ReadToken(r io.Reader) (string, error) {
	buf := make([]byte, maxTokenSize)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return string(buf[:n]), nil
}

// ReadImageDescriptor reads one {img_name, img_size} JSON object preceding
// a relayed image's raw bytes.
func ReadImageDescriptor(r io.Reader) (*ImageDescriptor, error) {
	buf := make([]byte, maxTokenSize)
	n, err := r.Read(buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("reading image descriptor: %w", err)
	}

	var d ImageDescriptor
	if err := json.Unmarshal(buf[:n], &d); err != nil {
		return nil, fmt.Errorf("decoding image descriptor: %w", err)
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(buf[:n], &fields); err != nil {
		return nil, fmt.Errorf("decoding image descriptor: %w", err)
	}
	if _, ok := fields["img_size"]; !ok {
		return nil, fmt.Errorf("wire: image descriptor missing img_size")
	}
	return &d, nil
}
