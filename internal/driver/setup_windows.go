//go:build windows

package driver

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sys/windows"
)

// readyMutexName is the named mutex the installer creates once it has
// finished preparing and is waiting for the product to exit.
const readyMutexName = "Global\\SIIDUpdateReady"

// readinessTimeout bounds how long Apply waits for the installer.
const readinessTimeout = 10 * time.Minute

// launchInstaller runs the staged installer silently. The installer
// prepares the update in the background, signals readiness through a
// named mutex and then blocks until the product exits.
func (d *SetupDriver) launchInstaller(_ context.Context, avail *Available) error {
	args := []string{
		"/verysilent",
		"/suppressmsgboxes",
		"/closeapplications",
		"/update=" + avail.FlagPath,
	}
	if d.opts.Target == "user" {
		args = append(args, "/currentuser")
	}

	cmd := exec.Command(avail.PackagePath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launching installer: %w", err)
	}

	// The installer outlives this call on purpose.
	go func() { _ = cmd.Wait() }()

	return nil
}

// waitReadiness polls for the installer's readiness mutex.
func (d *SetupDriver) waitReadiness(ctx context.Context, _ *Available) error {
	deadline := time.Now().Add(readinessTimeout)
	namePtr, err := windows.UTF16PtrFromString(readyMutexName)
	if err != nil {
		return err
	}

	for {
		handle, err := windows.OpenMutex(windows.SYNCHRONIZE, false, namePtr)
		if err == nil {
			_ = windows.CloseHandle(handle)
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("installer readiness signal never appeared")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// resumeInstaller completes the hand-off. The ready installer proceeds
// on its own once the product exits, so there is nothing left to do
// beyond confirming it is still waiting.
func (d *SetupDriver) resumeInstaller(_ context.Context, _ *Available) error {
	namePtr, err := windows.UTF16PtrFromString(readyMutexName)
	if err != nil {
		return err
	}

	handle, err := windows.OpenMutex(windows.SYNCHRONIZE, false, namePtr)
	if err != nil {
		return fmt.Errorf("installer is no longer waiting: %w", err)
	}
	_ = windows.CloseHandle(handle)

	log.Info("handing off to installer")

	return nil
}

// IsElevated reports whether the process runs with an elevated token.
// User-target installs refuse to update while elevated because the
// staged files would end up owned by the wrong principal.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
