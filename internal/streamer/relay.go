// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamer

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/checkpoint-restore/criu-coordinator/internal/wire"
)

// relayDeadline bounds every read/write on the coordinator connection
// during relay, so a wedged coordinator cannot hang the hook forever.
const relayDeadline = 30 * time.Second

// controlRetries/controlBackoff bound retrying a transient control-token
// send, matching the streamer's own retry behavior.
const controlRetries = 3
const controlBackoff = 500 * time.Millisecond

// Relay runs the full client-side image streamer: it captures images
// locally via Capture, then streams each one to the coordinator over
// conn using the SYN/descriptor/IMG_ACK/final-SYN protocol.
func Relay(logger *slog.Logger, conn net.Conn, imagesDir string) error {
	staged, err := Capture(logger, imagesDir)
	if err != nil {
		return fmt.Errorf("capturing images: %w", err)
	}
	logger.Info("capture complete", "images", len(staged))

	if err := sendSYN(conn); err != nil {
		return fmt.Errorf("announcing local checkpoint: %w", err)
	}

	for _, img := range staged {
		if err := relayOneImage(conn, img); err != nil {
			return fmt.Errorf("relaying image %s: %w", img.Name, err)
		}
	}

	if err := sendSYN(conn); err != nil {
		return fmt.Errorf("announcing final SYN: %w", err)
	}

	logger.Info("relay complete", "images", len(staged))
	return nil
}

// sendSYN writes a SYN control token and waits for the coordinator's ACK,
// retrying the write a few times on transient errors.
func sendSYN(conn net.Conn) error {
	var lastErr error
	for attempt := 0; attempt < controlRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(controlBackoff)
		}
		conn.SetDeadline(time.Now().Add(relayDeadline))
		if err := wire.WriteToken(conn, wire.TokenSYN); err != nil {
			lastErr = err
			continue
		}
		tok, err := wire.ReadToken(conn)
		if err != nil {
			lastErr = err
			continue
		}
		if tok != wire.TokenACK {
			return fmt.Errorf("coordinator rejected SYN: %s", tok)
		}
		return nil
	}
	return fmt.Errorf("sending SYN after %d attempts: %w", controlRetries, lastErr)
}

func relayOneImage(conn net.Conn, img StagedImage) error {
	f, err := os.Open(img.Path)
	if err != nil {
		return fmt.Errorf("opening staged image: %w", err)
	}
	defer f.Close()

	conn.SetDeadline(time.Now().Add(relayDeadline))
	if err := wire.WriteImageDescriptor(conn, &wire.ImageDescriptor{ImgName: img.Name, ImgSize: img.Size}); err != nil {
		return fmt.Errorf("sending descriptor: %w", err)
	}

	if err := sendFileBody(conn, f, img.Size); err != nil {
		return fmt.Errorf("sending payload: %w", err)
	}

	conn.SetDeadline(time.Now().Add(relayDeadline))
	tok, err := wire.ReadToken(conn)
	if err != nil {
		return fmt.Errorf("reading image ack: %w", err)
	}
	if tok != wire.TokenImgAck {
		return fmt.Errorf("coordinator rejected image %s: %s", img.Name, tok)
	}
	return nil
}

// sendFileBody sends size bytes of f over conn, using zero-copy sendfile
// when conn is backed by a TCP socket and falling back to io.Copy
// otherwise (e.g. a net.Pipe used in tests).
func sendFileBody(conn net.Conn, f *os.File, size int64) error {
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		raw, err := tcpConn.SyscallConn()
		if err == nil {
			var sendErr error
			offset := int64(0)
			remaining := size
			// Write's callback is driven by the runtime network poller:
			// it is invoked again once fd is writable, honoring any
			// deadline set with conn.SetDeadline, rather than busy-spinning
			// on EAGAIN the way a plain Control loop would.
			writeErr := raw.Write(func(fd uintptr) (done bool) {
				for remaining > 0 {
					n, err := unix.Sendfile(int(fd), int(f.Fd()), &offset, int(remaining))
					if err != nil {
						if err == unix.EINTR {
							continue
						}
						if err == unix.EAGAIN {
							return false
						}
						sendErr = fmt.Errorf("sendfile: %w", err)
						return true
					}
					if n == 0 {
						break
					}
					remaining -= int64(n)
				}
				return true
			})
			if writeErr != nil {
				return fmt.Errorf("accessing raw connection: %w", writeErr)
			}
			if sendErr != nil {
				return sendErr
			}
			return nil
		}
	}

	_, err := io.CopyN(conn, f, size)
	return err
}
