package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// downloadArtifact fetches url into the cache directory, verifies the
// expected digest when one is known, and returns the staged path. The
// partial file is removed on any failure so a bad download never
// survives in the cache.
func downloadArtifact(ctx context.Context, client *http.Client, rawURL, cacheDir, version, expectedHash string) (string, error) {
	if err := os.MkdirAll(cacheDir, 0o700); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	finalPath := filepath.Join(cacheDir, artifactFileName(rawURL, version))

	// Reuse a previously verified artifact for this version.
	if _, err := os.Stat(finalPath); err == nil {
		if expectedHash == "" {
			return finalPath, nil
		}
		if err := verifyChecksum(finalPath, expectedHash); err == nil {
			return finalPath, nil
		}
		// Stale or corrupted leftover: replace it.
		_ = os.Remove(finalPath)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading artifact: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("artifact download failed with status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(cacheDir, ".siid-download-*")
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("writing artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", err
	}

	if expectedHash != "" {
		if err := verifyChecksum(tmp.Name(), expectedHash); err != nil {
			_ = os.Remove(tmp.Name())
			return "", err
		}
	}

	// Same-directory rename keeps staging atomic.
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("staging artifact: %w", err)
	}

	return finalPath, nil
}

// artifactFileName derives the cached file name from the download URL,
// keyed by version so successive releases never collide.
func artifactFileName(rawURL, version string) string {
	base := "update"
	if u, err := url.Parse(rawURL); err == nil {
		if b := path.Base(u.Path); b != "" && b != "." && b != "/" {
			base = b
		}
	}

	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return stem + "-" + version + ext
}

// verifyChecksum compares the file's SHA256 against the expected hex
// digest.
func verifyChecksum(filePath, expectedHash string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return err
	}

	actual := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(actual, expectedHash) {
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, expectedHash, actual)
	}

	return nil
}

// cleanCache removes every cached artifact except the one for the
// version currently being installed. Best effort: deletion failures
// are logged and ignored.
func cleanCache(cacheDir, keepVersion string) {
	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if keepVersion != "" && strings.Contains(name, keepVersion) {
			continue
		}

		if err := os.Remove(filepath.Join(cacheDir, name)); err != nil {
			log.Debug("could not remove cached artifact", "name", name, "error", err)
		}
	}
}
