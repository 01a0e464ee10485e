// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// maxRequestSize bounds a single ImgStreamerRequestEntry message: CRIU
// never sends an image filename anywhere near this size, so anything
// bigger indicates protocol corruption.
const maxRequestSize = 10 * 1024

// ErrRequestTooLarge is returned when the engine's 4-byte length prefix
// is not below maxRequestSize.
var ErrRequestTooLarge = errors.New("streamer: image request entry exceeds maximum size")

// readNextFileRequest reads one length-prefixed ImgStreamerRequestEntry
// message from the engine's Unix socket and returns the requested image
// filename. io.EOF signals the engine has closed its request channel
// (the dump has finished).
func readNextFileRequest(r io.Reader) (string, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size >= maxRequestSize {
		return "", fmt.Errorf("%w: %d bytes", ErrRequestTooLarge, size)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("reading request entry body: %w", err)
	}

	return decodeRequestEntry(buf)
}

// decodeRequestEntry decodes ImgStreamerRequestEntry{filename: string =
// 1} without a generated .pb.go stub, using the low-level wire primitives
// directly.
func decodeRequestEntry(buf []byte) (string, error) {
	var filename string
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return "", fmt.Errorf("decoding request entry tag: %w", protowire.ParseError(n))
		}
		buf = buf[n:]

		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(buf)
			if n < 0 {
				return "", fmt.Errorf("decoding filename field: %w", protowire.ParseError(n))
			}
			filename = s
			buf = buf[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, buf)
			if n < 0 {
				return "", fmt.Errorf("skipping unknown field %d: %w", num, protowire.ParseError(n))
			}
			buf = buf[n:]
		}
	}
	if filename == "" {
		return "", errors.New("streamer: request entry missing filename field")
	}
	return filename, nil
}
