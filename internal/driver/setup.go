package driver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/siid-ide/update-agent/pkg/api"
)

// updateFlagName is the transient file telling the installer which
// staged artifact to apply.
const updateFlagName = "update.flag"

// SetupDriver handles the setup-style platform (Windows installer
// executables): the artifact downloads automatically during the check,
// and applying runs the installer silently until it signals readiness.
type SetupDriver struct {
	opts     Options
	client   *http.Client
	platform string
}

func NewSetupDriver(opts Options) *SetupDriver {
	return &SetupDriver{
		opts:     opts,
		client:   opts.httpClient(),
		platform: opts.platform(),
	}
}

func (d *SetupDriver) Kind() api.UpdateKind {
	return api.UpdateKindSetup
}

func (d *SetupDriver) Platform() string {
	return d.platform
}

func (d *SetupDriver) Download(ctx context.Context, update *api.UpdateDescriptor) (*Available, error) {
	if !update.Actionable() {
		return nil, fmt.Errorf("update has no download URL")
	}

	pkg, err := downloadArtifact(ctx, d.client, update.URL, d.opts.CachePath, update.ProductVersion, update.SHA256Hash)
	if err != nil {
		return nil, err
	}

	cleanCache(d.opts.CachePath, update.ProductVersion)

	log.Info("staged setup update", "version", update.ProductVersion, "path", pkg)

	return &Available{
		Version:     update.ProductVersion,
		PackagePath: pkg,
	}, nil
}

// Apply writes the update flag naming the staged installer, launches
// the installer silently and waits for its readiness signal.
func (d *SetupDriver) Apply(ctx context.Context, avail *Available) error {
	if avail == nil {
		return fmt.Errorf("no staged update")
	}

	flagPath, err := d.writeUpdateFlag(avail)
	if err != nil {
		return err
	}
	avail.FlagPath = flagPath

	if err := d.launchInstaller(ctx, avail); err != nil {
		_ = os.Remove(flagPath)
		avail.FlagPath = ""
		return err
	}

	if err := d.waitReadiness(ctx, avail); err != nil {
		_ = os.Remove(flagPath)
		avail.FlagPath = ""
		return err
	}

	return nil
}

func (d *SetupDriver) QuitAndInstall(ctx context.Context, avail *Available) error {
	if avail == nil {
		return fmt.Errorf("no staged update")
	}
	return d.resumeInstaller(ctx, avail)
}

func (d *SetupDriver) Sideload(path string) (*Available, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("sideload package: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("sideload package %q is a directory", path)
	}

	return &Available{
		Version:     sideloadVersion(path),
		PackagePath: path,
	}, nil
}

// writeUpdateFlag stages the flag file next to the artifact. Its
// content is the installer file name so the updater and installer
// agree on which package applies.
func (d *SetupDriver) writeUpdateFlag(avail *Available) (string, error) {
	flagPath := filepath.Join(d.opts.CachePath, updateFlagName)
	if err := os.WriteFile(flagPath, []byte(filepath.Base(avail.PackagePath)), 0o600); err != nil {
		return "", fmt.Errorf("writing update flag: %w", err)
	}
	return flagPath, nil
}
