//go:build !windows

package bridge

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Listen binds the bridge's unix socket. A stale socket from a crashed
// predecessor is removed first; the socket is owner-only since the
// bridge accepts mutating operations.
func Listen(path string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}

	if err := os.Chmod(path, 0o700); err != nil {
		listener.Close()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}

	return listener, nil
}

// Dial connects to the bridge's unix socket.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", path)
}

// DefaultSocketPath is where the daemon listens by default.
func DefaultSocketPath() string {
	if os.Geteuid() == 0 {
		return "/run/siid-updater/bridge.sock"
	}

	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, "siid-updater", "bridge.sock")
}
