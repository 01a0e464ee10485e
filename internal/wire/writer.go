// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wire

import (
	"encoding/json"
	"fmt"
	"io"
)

// WriteHeader encodes and writes a request header.
func WriteHeader(w io.Writer, h *Header) error {
	b, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	return nil
}

// WriteToken writes a bare ASCII control token.
func WriteToken(w io.Writer, token string) error {
	if _, err := io.WriteString(w, token); err != nil {
		return fmt.Errorf("writing token %q: %w", token, err)
	}
	return nil
}

// WriteImageDescriptor writes one {img_name, img_size} JSON object.
func WriteImageDescriptor(w io.Writer, d *ImageDescriptor) error {
	b, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding image descriptor: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("writing image descriptor: %w", err)
	}
	return nil
}
