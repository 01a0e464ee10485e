// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

func encodeRequestEntry(filename string) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, filename)
	return buf
}

func TestDecodeRequestEntry_RoundTrip(t *testing.T) {
	buf := encodeRequestEntry("pages-1.img")
	name, err := decodeRequestEntry(buf)
	if err != nil {
		t.Fatalf("decodeRequestEntry: %v", err)
	}
	if name != "pages-1.img" {
		t.Fatalf("got filename %q, want %q", name, "pages-1.img")
	}
}

func TestDecodeRequestEntry_MissingFilename(t *testing.T) {
	var buf []byte
	buf = protowire.AppendTag(buf, 2, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 42)
	if _, err := decodeRequestEntry(buf); err == nil {
		t.Fatal("expected error for missing filename field")
	}
}

func TestDecodeRequestEntry_SkipsUnknownFields(t *testing.T) {
	var buf []byte
	buf = protowire.AppendTag(buf, 7, protowire.VarintType)
	buf = protowire.AppendVarint(buf, 99)
	buf = protowire.AppendTag(buf, 1, protowire.BytesType)
	buf = protowire.AppendString(buf, "core.img")
	name, err := decodeRequestEntry(buf)
	if err != nil {
		t.Fatalf("decodeRequestEntry: %v", err)
	}
	if name != "core.img" {
		t.Fatalf("got filename %q, want %q", name, "core.img")
	}
}

func TestReadNextFileRequest_RoundTrip(t *testing.T) {
	entry := encodeRequestEntry("mm-1.img")
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(entry)))

	r := bytes.NewReader(append(lenBuf[:], entry...))
	name, err := readNextFileRequest(r)
	if err != nil {
		t.Fatalf("readNextFileRequest: %v", err)
	}
	if name != "mm-1.img" {
		t.Fatalf("got filename %q, want %q", name, "mm-1.img")
	}
}

func TestReadNextFileRequest_EOFOnEmptyChannel(t *testing.T) {
	r := bytes.NewReader(nil)
	if _, err := readNextFileRequest(r); err != io.EOF {
		t.Fatalf("got error %v, want io.EOF", err)
	}
}

func TestReadNextFileRequest_RejectsOversizedEntry(t *testing.T) {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(maxRequestSize))
	r := bytes.NewReader(lenBuf[:])
	if _, err := readNextFileRequest(r); err == nil {
		t.Fatal("expected error for oversized request entry")
	}
}

// fakeConnWithoutFile adapts a net.Pipe side into something RunDetached's
// connFile helper would reject cleanly, verifying the type assertion
// path rather than exercising a real fd handoff.
type fakeConnWithoutFile struct {
	net.Conn
}

func TestConnFile_RejectsConnWithoutFileMethod(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if _, err := connFile(fakeConnWithoutFile{a}); err == nil {
		t.Fatal("expected error for a connection type with no File method")
	}
}

func TestRelay_StreamsStagedImagesOverPipe(t *testing.T) {
	dir := t.TempDir()
	imgPath := filepath.Join(dir, "pages-1.img")
	payload := []byte("checkpoint image bytes")
	if err := os.WriteFile(imgPath, payload, 0600); err != nil {
		t.Fatalf("seeding staged image: %v", err)
	}

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- driveFakeCoordinator(serverConn, "pages-1.img", int64(len(payload)), payload)
	}()

	if err := sendSYN(clientConn); err != nil {
		t.Fatalf("sendSYN: %v", err)
	}
	if err := relayOneImage(clientConn, StagedImage{Name: "pages-1.img", Path: imgPath, Size: int64(len(payload))}); err != nil {
		t.Fatalf("relayOneImage: %v", err)
	}
	if err := sendSYN(clientConn); err != nil {
		t.Fatalf("final sendSYN: %v", err)
	}

	select {
	case err := <-serverErrCh:
		if err != nil {
			t.Fatalf("fake coordinator: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for fake coordinator")
	}
}

func driveFakeCoordinator(conn net.Conn, wantName string, wantSize int64, wantPayload []byte) error {
	if tok, err := wire.ReadToken(conn); err != nil || tok != wire.TokenSYN {
		return fmt.Errorf("expected initial SYN, got %q err=%v", tok, err)
	}
	if err := wire.WriteToken(conn, wire.TokenACK); err != nil {
		return err
	}

	desc, err := wire.ReadImageDescriptor(conn)
	if err != nil {
		return err
	}
	if desc.ImgName != wantName || desc.ImgSize != wantSize {
		return fmt.Errorf("got descriptor %+v, want name=%s size=%d", desc, wantName, wantSize)
	}

	got := make([]byte, wantSize)
	if _, err := io.ReadFull(conn, got); err != nil {
		return err
	}
	if !bytes.Equal(got, wantPayload) {
		return fmt.Errorf("payload mismatch: got %q want %q", got, wantPayload)
	}
	if err := wire.WriteToken(conn, wire.TokenImgAck); err != nil {
		return err
	}

	if tok, err := wire.ReadToken(conn); err != nil || tok != wire.TokenSYN {
		return fmt.Errorf("expected final SYN, got %q err=%v", tok, err)
	}
	return wire.WriteToken(conn, wire.TokenACK)
}
