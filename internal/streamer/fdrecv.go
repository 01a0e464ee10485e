// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package streamer

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrNoFDReceived is returned when a SCM_RIGHTS control message arrived
// without exactly one file descriptor attached.
var ErrNoFDReceived = errors.New("streamer: expected exactly one file descriptor")

// recvPipeFD receives one file descriptor passed over sockFD via
// SCM_RIGHTS ancillary data, as the checkpoint/restore engine does for
// each image it wants streamed.
func recvPipeFD(sockFD int) (int, error) {
	buf := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))

	_, oobn, _, _, err := unix.Recvmsg(sockFD, buf, oob, 0)
	if err != nil {
		return 0, fmt.Errorf("recvmsg: %w", err)
	}

	cmsgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return 0, fmt.Errorf("parsing control message: %w", err)
	}
	if len(cmsgs) == 0 {
		return 0, ErrNoFDReceived
	}

	fds, err := unix.ParseUnixRights(&cmsgs[0])
	if err != nil {
		return 0, fmt.Errorf("parsing SCM_RIGHTS: %w", err)
	}
	if len(fds) != 1 {
		return 0, ErrNoFDReceived
	}
	return fds[0], nil
}
