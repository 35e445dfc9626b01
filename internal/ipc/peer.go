package ipc

import "errors"

// ErrPeerCheckUnsupported is returned where the platform cannot identify
// the process on the other end of a socket.
var ErrPeerCheckUnsupported = errors.New("ipc: peer credentials unsupported")

// PeerCredentials identifies the peer process.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}
