//go:build windows

package driver

import "context"

// Windows installs use the setup driver; an archive hand-off has no
// installer to delegate to there.
func (d *ArchiveDriver) installAndRelaunch(context.Context, *Available) error {
	return ErrNotSupported
}
