//go:build !linux && !darwin && !windows

package ipc

import "net"

// VerifyPeerIsCurrentUser is not implemented on this platform.
func VerifyPeerIsCurrentUser(net.Conn) (bool, error) {
	return false, ErrPeerCheckUnsupported
}
