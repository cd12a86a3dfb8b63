//go:build !windows

package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// installAndRelaunch swaps the installation in place and starts the new
// build. Called only after the product reported a clean shutdown.
func (d *ArchiveDriver) installAndRelaunch(ctx context.Context, avail *Available) error {
	switch runtime.GOOS {
	case "darwin":
		return d.mountAndOpen(ctx, avail)
	default:
		return d.extractAndExec(ctx, avail)
	}
}

// mountAndOpen hands a disk image to the system: mounting and copying
// the bundle is the installer UI's job on macOS.
func (d *ArchiveDriver) mountAndOpen(ctx context.Context, avail *Available) error {
	cmd := exec.CommandContext(ctx, "open", avail.PackagePath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("opening disk image: %w", err)
	}

	log.Info("opened disk image", "path", avail.PackagePath)

	return nil
}

// extractAndExec unpacks the tarball over the install directory and
// execs the new binary so it inherits this process's standard streams.
func (d *ArchiveDriver) extractAndExec(ctx context.Context, avail *Available) error {
	installPath := d.opts.InstallPath
	if installPath == "" {
		return fmt.Errorf("no install path configured")
	}

	if err := os.MkdirAll(installPath, 0o755); err != nil {
		return fmt.Errorf("preparing install directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, "tar", "-xzf", avail.PackagePath,
		"--strip-components=1", "-C", installPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("extracting %s: %w: %s", avail.PackagePath, err, out)
	}

	log.Info("extracted update", "version", avail.Version, "path", installPath)

	return d.relaunch(installPath)
}

func (d *ArchiveDriver) relaunch(installPath string) error {
	binary := filepath.Join(installPath, "bin", "siid")
	if _, err := os.Stat(binary); err != nil {
		// Older layouts ship the binary at the root.
		binary = filepath.Join(installPath, "siid")
		if _, err := os.Stat(binary); err != nil {
			return fmt.Errorf("new build has no launchable binary under %s", installPath)
		}
	}

	cmd := exec.Command(binary)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("relaunching %s: %w", binary, err)
	}

	log.Info("relaunched product", "binary", binary, "pid", cmd.Process.Pid)

	return cmd.Process.Release()
}
