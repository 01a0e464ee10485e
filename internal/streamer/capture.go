// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamer

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// CaptureSocketName is the Unix socket the checkpoint/restore engine
// connects to for image streaming, relative to the images directory.
const CaptureSocketName = "streamer-capture.sock"

// StagedImage is one image file captured locally during Phase A, ready
// to be relayed to the coordinator in Phase B.
type StagedImage struct {
	Name string
	Path string
	Size int64
}

type pendingPipe struct {
	name string
	file *os.File
	fd   int
}

// Capture runs Phase A of the image streamer: it listens on the local
// capture socket, accepts the engine's single connection, and for each
// {pipe fd, filename} pair the engine hands over via SCM_RIGHTS, drains
// the pipe with splice into a file under imagesDir as it fills. It
// returns once the engine has closed its request channel and every pipe
// has reached EOF, which happens when the dump completes.
func Capture(logger *slog.Logger, imagesDir string) ([]StagedImage, error) {
	socketPath := filepath.Join(imagesDir, CaptureSocketName)
	_ = os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("binding capture socket %s: %w", socketPath, err)
	}
	defer ln.Close()
	defer os.Remove(socketPath)

	// Hold the images directory open for the capture's lifetime: the
	// path the engine was given may be a /proc/<pid>/fd/N symlink that
	// disappears once the engine exits.
	dirFile, err := os.Open(imagesDir)
	if err != nil {
		return nil, fmt.Errorf("opening images dir %s: %w", imagesDir, err)
	}
	defer dirFile.Close()

	conn, err := ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting engine connection: %w", err)
	}
	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("capture connection is not a unix socket")
	}
	defer unixConn.Close()

	sockFile, err := unixConn.File()
	if err != nil {
		return nil, fmt.Errorf("getting raw fd of capture connection: %w", err)
	}
	defer sockFile.Close()
	sockFD := int(sockFile.Fd())

	mon, err := NewMonitor()
	if err != nil {
		return nil, err
	}
	defer mon.Close()

	reqSlot, err := mon.Add(sockFD, unix.EPOLLIN)
	if err != nil {
		return nil, err
	}

	pending := map[int]*pendingPipe{reqSlot: nil}
	var staged []StagedImage

	requestChannelOpen := true

	for requestChannelOpen || mon.Len() > 0 {
		slots, err := mon.Wait()
		if err != nil {
			return nil, err
		}

		var pipeSlots []int
		for _, slot := range slots {
			if slot != reqSlot {
				pipeSlots = append(pipeSlots, slot)
				continue
			}
			if !requestChannelOpen {
				continue
			}
			filename, err := readNextFileRequest(sockFile)
			if err != nil {
				logger.Info("engine closed image request channel", "error", err)
				requestChannelOpen = false
				mon.Remove(reqSlot)
				continue
			}

			pipeFD, err := recvPipeFD(sockFD)
			if err != nil {
				return nil, fmt.Errorf("receiving pipe fd for %s: %w", filename, err)
			}

			if size, err := setPipeCapacity(pipeFD, maxPipeCapacity); err != nil {
				logger.Warn("could not grow pipe capacity", "image", filename, "error", err)
			} else {
				logger.Debug("negotiated pipe capacity", "image", filename, "bytes", size)
			}

			outPath := filepath.Join(imagesDir, filename)
			f, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				unix.Close(pipeFD)
				return nil, fmt.Errorf("creating staged image %s: %w", outPath, err)
			}

			pipeSlot, err := mon.Add(pipeFD, unix.EPOLLIN|unix.EPOLLHUP)
			if err != nil {
				f.Close()
				unix.Close(pipeFD)
				return nil, err
			}
			pending[pipeSlot] = &pendingPipe{name: filename, file: f, fd: pipeFD}
		}

		// Several images commonly fill concurrently during a dump, so the
		// pipes that fired in this epoll batch are drained in parallel
		// rather than one at a time; each goroutine only touches its own
		// pipe/file, and the registry/monitor maps are only mutated back
		// on the main goroutine once every drain in the batch has
		// finished.
		type drainResult struct {
			slot     int
			pp       *pendingPipe
			finished bool
			size     int64
		}
		results := make([]drainResult, len(pipeSlots))

		var g errgroup.Group
		for i, slot := range pipeSlots {
			i, slot := i, slot
			pp, ok := pending[slot]
			if !ok || pp == nil {
				continue
			}
			g.Go(func() error {
				stillOpen, n, err := drainPipe(pp.fd, pp.file)
				if err != nil {
					return fmt.Errorf("draining pipe for %s: %w", pp.name, err)
				}
				logger.Debug("drained pipe bytes", "image", pp.name, "bytes", n, "still_open", stillOpen)

				res := drainResult{slot: slot, pp: pp}
				if !stillOpen {
					size, _ := pp.file.Seek(0, 1)
					res.finished = true
					res.size = size
				}
				results[i] = res
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for _, res := range results {
			if res.pp == nil || !res.finished {
				continue
			}
			res.pp.file.Close()
			unix.Close(res.pp.fd)
			mon.Remove(res.slot)
			delete(pending, res.slot)
			staged = append(staged, StagedImage{Name: res.pp.name, Path: filepath.Join(imagesDir, res.pp.name), Size: res.size})
		}
	}

	return staged, nil
}
