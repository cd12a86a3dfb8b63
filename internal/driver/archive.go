package driver

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/siid-ide/update-agent/pkg/api"
)

// ArchiveDriver handles archive-style platforms (Linux tarballs, macOS
// disk images): the artifact is downloaded in full on explicit request
// and the update is ready as soon as it is verified and staged.
type ArchiveDriver struct {
	opts     Options
	client   *http.Client
	platform string
}

func NewArchiveDriver(opts Options) *ArchiveDriver {
	return &ArchiveDriver{
		opts:     opts,
		client:   opts.httpClient(),
		platform: opts.platform(),
	}
}

func (d *ArchiveDriver) Kind() api.UpdateKind {
	return api.UpdateKindArchive
}

func (d *ArchiveDriver) Platform() string {
	return d.platform
}

func (d *ArchiveDriver) Download(ctx context.Context, update *api.UpdateDescriptor) (*Available, error) {
	if !update.Actionable() {
		return nil, fmt.Errorf("update has no download URL")
	}

	pkg, err := downloadArtifact(ctx, d.client, update.URL, d.opts.CachePath, update.ProductVersion, update.SHA256Hash)
	if err != nil {
		return nil, err
	}

	cleanCache(d.opts.CachePath, update.ProductVersion)

	log.Info("staged archive update", "version", update.ProductVersion, "path", pkg)

	return &Available{
		Version:     update.ProductVersion,
		PackagePath: pkg,
	}, nil
}

// Apply is a no-op for archives: a verified download is already staged.
func (d *ArchiveDriver) Apply(_ context.Context, _ *Available) error {
	return nil
}

func (d *ArchiveDriver) QuitAndInstall(ctx context.Context, avail *Available) error {
	if avail == nil {
		return fmt.Errorf("no staged update")
	}
	return d.installAndRelaunch(ctx, avail)
}

func (d *ArchiveDriver) Sideload(path string) (*Available, error) {
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

// sideloadVersion derives a best-effort version label from a package
// file name for display purposes.
func sideloadVersion(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, ".tar.gz")
	base = strings.TrimSuffix(base, filepath.Ext(base))
	if base == "" {
		return "sideloaded"
	}
	return base
}
