// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package streamer implements the client-side image streamer: it
// multiplexes the checkpoint/restore engine's local image pipes over a
// Unix domain socket, drains each pipe with zero-copy splice as it fills,
// and relays the captured images to the coordinator over TCP.
package streamer

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Monitor is a small epoll-based readiness multiplexer keyed by an
// opaque slot id, mirroring the streamer's local fd bookkeeping: the
// engine's request-channel socket and each accepted image pipe are all
// registered here and polled together.
type Monitor struct {
	epfd int
	next int
	fds  map[int]int // slot -> fd
}

// NewMonitor creates an epoll instance.
func NewMonitor() (*Monitor, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Monitor{epfd: fd, fds: make(map[int]int)}, nil
}

// Add registers fd for the given event mask and returns a slot id used to
// remove it later.
func (m *Monitor) Add(fd int, events uint32) (int, error) {
	slot := m.next
	m.next++

	ev := unix.EpollEvent{Events: events, Fd: int32(slot)}
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return 0, fmt.Errorf("epoll_ctl add fd=%d: %w", fd, err)
	}
	m.fds[slot] = fd
	return slot, nil
}

// Remove deregisters the fd associated with slot.
func (m *Monitor) Remove(slot int) error {
	fd, ok := m.fds[slot]
	if !ok {
		return nil
	}
	delete(m.fds, slot)
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd=%d: %w", fd, err)
	}
	return nil
}

// Len reports how many fds are currently registered.
func (m *Monitor) Len() int {
	return len(m.fds)
}

// Wait blocks until at least one registered fd is ready, returning the
// slot ids that fired. EINTR is retried transparently.
func (m *Monitor) Wait() ([]int, error) {
	events := make([]unix.EpollEvent, 16)
	for {
		n, err := unix.EpollWait(m.epfd, events, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("epoll_wait: %w", err)
		}
		slots := make([]int, 0, n)
		for i := 0; i < n; i++ {
			slots = append(slots, int(events[i].Fd))
		}
		return slots, nil
	}
}

// FD returns the raw fd registered under slot.
func (m *Monitor) FD(slot int) (int, bool) {
	fd, ok := m.fds[slot]
	return fd, ok
}

// Close releases the epoll instance.
func (m *Monitor) Close() error {
	return unix.Close(m.epfd)
}
