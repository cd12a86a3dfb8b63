//go:build windows

package bridge

import (
	"context"
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// pipeSecurity grants SYSTEM and Administrators full access and
// interactive users read/write, so an unprivileged UI client can talk
// to the service.
const pipeSecurity = "D:P(A;;GA;;;SY)(A;;GA;;;BA)(A;;GRGW;;;IU)"

// Listen binds the bridge's named pipe.
func Listen(path string) (net.Listener, error) {
	listener, err := winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurity,
		MessageMode:        false,
	})
	if err != nil {
		return nil, fmt.Errorf("listening on pipe %s: %w", path, err)
	}
	return listener, nil
}

// Dial connects to the bridge's named pipe.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

// DefaultSocketPath is where the daemon listens by default.
func DefaultSocketPath() string {
	return `\\.\pipe\siid-updater`
}
