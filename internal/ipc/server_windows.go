//go:build windows

package ipc

import (
	"net"
	"os"
	"time"
)

// SetSocketPermissions is a no-op; AF_UNIX sockets on Windows inherit the
// ACL of their directory.
func SetSocketPermissions(string, os.FileMode) error {
	return nil
}

// CleanupSocket removes a leftover socket file.
func CleanupSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsSocketListening reports whether something accepts connections on path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// VerifyPeerIsCurrentUser is not available on Windows.
func VerifyPeerIsCurrentUser(net.Conn) (bool, error) {
	return false, ErrPeerCheckUnsupported
}
