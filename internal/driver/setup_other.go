//go:build !windows

package driver

import "context"

func (d *SetupDriver) launchInstaller(context.Context, *Available) error {
	return ErrNotSupported
}

func (d *SetupDriver) waitReadiness(context.Context, *Available) error {
	return ErrNotSupported
}

func (d *SetupDriver) resumeInstaller(context.Context, *Available) error {
	return ErrNotSupported
}

// IsElevated always reports false on platforms without a token model
// relevant to the installer hand-off.
func IsElevated() bool {
	return false
}
