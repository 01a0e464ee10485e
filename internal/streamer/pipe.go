// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamer

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// maxPipeCapacity is the initial F_SETPIPE_SZ this streamer tries to
// negotiate on a received image pipe, so a fast-dumping engine doesn't
// block writing into a default-sized (64KiB) pipe while we drain it.
const maxPipeCapacity = 4 << 20 // 4MiB

// setPipeCapacity tries to grow fd's pipe buffer to size, halving on
// EPERM (which a non-privileged process hits once it exceeds
// /proc/sys/fs/pipe-max-size) down to one page, matching the degradation
// strategy CRIU's own image-streamer uses.
func setPipeCapacity(fd int, size int) (int, error) {
	pageSize := unix.Getpagesize()
	for size >= pageSize {
		_, err := unix.FcntlInt(uintptr(fd), unix.F_SETPIPE_SZ, size)
		if err == nil {
			return size, nil
		}
		if err != unix.EPERM {
			return 0, fmt.Errorf("fcntl F_SETPIPE_SZ(%d): %w", size, err)
		}
		size /= 2
	}
	return 0, fmt.Errorf("could not set pipe capacity even at page size %d", pageSize)
}

// fionread returns the number of bytes currently readable on fd without
// blocking.
func fionread(fd int) (int, error) {
	n, err := unix.IoctlGetInt(fd, unix.FIONREAD)
	if err != nil {
		return 0, fmt.Errorf("ioctl FIONREAD: %w", err)
	}
	return n, nil
}

// drainPipe implements the same contract as the original streamer's
// drain_img_file: EOF is decided from FIONREAD *before* any splicing —
// a readiness event with nothing readable means the write end has
// closed. Otherwise exactly that many bytes are spliced and the pipe
// stays open, regardless of how much more may have arrived by the time
// splicing finishes; the caller must keep polling it. It returns
// whether the pipe is still open (false only on a true FIONREAD==0
// EOF) and the number of bytes moved.
func drainPipe(pipeFD int, dst *os.File) (stillOpen bool, moved int, err error) {
	readable, err := fionread(pipeFD)
	if err != nil {
		return false, 0, err
	}
	if readable == 0 {
		return false, 0, nil
	}

	dstFD := int(dst.Fd())
	remaining := readable
	for remaining > 0 {
		n, err := unix.Splice(pipeFD, nil, dstFD, nil, remaining, unix.SPLICE_F_MORE)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return true, readable - remaining, fmt.Errorf("splice: %w", err)
		}
		if n == 0 {
			break
		}
		remaining -= int(n)
	}
	return true, readable - remaining, nil
}
