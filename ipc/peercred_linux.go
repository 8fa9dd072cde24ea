//go:build linux

package ipc

import (
	"net"

	"golang.org/x/sys/unix"
)

// peerCredentials reads the connecting process's uid/pid via SO_PEERCRED,
// used only for the connection-accepted log line.
func peerCredentials(conn net.Conn) (uid, pid uint32, ok bool) {
	uc, isUnix := conn.(*net.UnixConn)
	if !isUnix {
		return 0, 0, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}
	var ucred *unix.Ucred
	ctrlErr := raw.Control(func(fd uintptr) {
		ucred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || err != nil || ucred == nil {
		return 0, 0, false
	}
	return uint32(ucred.Uid), uint32(ucred.Pid), true
}
