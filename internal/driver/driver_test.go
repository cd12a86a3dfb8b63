package driver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/siid-ide/update-agent/pkg/api"
)

func sha256hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func artifactServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownloadArtifactVerifiesChecksum(t *testing.T) {
	body := []byte("installer bytes")
	srv := artifactServer(t, body)
	cacheDir := t.TempDir()

	pkg, err := downloadArtifact(context.Background(), srv.Client(),
		srv.URL+"/siid-1.2.3.tar.gz", cacheDir, "1.2.3", sha256hex(body))
	if err != nil {
		t.Fatalf("downloadArtifact: %v", err)
	}

	got, err := os.ReadFile(pkg)
	if err != nil {
		t.Fatalf("reading staged artifact: %v", err)
	}
	if string(got) != string(body) {
		t.Fatalf("staged artifact content mismatch")
	}
	if base := filepath.Base(pkg); base != "siid-1.2.3-1.2.3.tar.gz" {
		t.Fatalf("unexpected staged name %q", base)
	}
}

func TestDownloadArtifactChecksumMismatchRemovesPartial(t *testing.T) {
	srv := artifactServer(t, []byte("corrupted bytes"))
	cacheDir := t.TempDir()

	_, err := downloadArtifact(context.Background(), srv.Client(),
		srv.URL+"/siid.tar.gz", cacheDir, "2.0.0", strings.Repeat("ab", 32))
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected checksum mismatch, got %v", err)
	}

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty cache after failed download, found %v", entries)
	}
}

func TestDownloadArtifactReusesVerifiedCache(t *testing.T) {
	body := []byte("stable bytes")
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write(body)
	}))
	defer srv.Close()
	cacheDir := t.TempDir()

	for range 2 {
		if _, err := downloadArtifact(context.Background(), srv.Client(),
			srv.URL+"/siid.tar.gz", cacheDir, "3.0.0", sha256hex(body)); err != nil {
			t.Fatalf("downloadArtifact: %v", err)
		}
	}

	if hits != 1 {
		t.Fatalf("expected one network fetch, got %d", hits)
	}
}

func TestDownloadArtifactReplacesCorruptedCacheEntry(t *testing.T) {
	body := []byte("good bytes")
	srv := artifactServer(t, body)
	cacheDir := t.TempDir()

	stale := filepath.Join(cacheDir, artifactFileName(srv.URL+"/siid.tar.gz", "4.0.0"))
	if err := os.WriteFile(stale, []byte("truncated"), 0o600); err != nil {
		t.Fatal(err)
	}

	pkg, err := downloadArtifact(context.Background(), srv.Client(),
		srv.URL+"/siid.tar.gz", cacheDir, "4.0.0", sha256hex(body))
	if err != nil {
		t.Fatalf("downloadArtifact: %v", err)
	}

	got, _ := os.ReadFile(pkg)
	if string(got) != string(body) {
		t.Fatalf("corrupted cache entry was not replaced")
	}
}

func TestDownloadArtifactRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := downloadArtifact(context.Background(), srv.Client(),
		srv.URL+"/gone.tar.gz", t.TempDir(), "1.0.0", "")
	if err == nil {
		t.Fatal("expected error for 404 response")
	}
}

func TestArtifactFileNameKeyedByVersion(t *testing.T) {
	a := artifactFileName("https://example.com/dl/SIIDSetup.exe", "1.1.0")
	b := artifactFileName("https://example.com/dl/SIIDSetup.exe", "1.2.0")
	if a == b {
		t.Fatalf("expected distinct names for distinct versions, both %q", a)
	}
	if a != "SIIDSetup-1.1.0.exe" {
		t.Fatalf("unexpected artifact name %q", a)
	}
}

func TestArtifactFileNameFallsBackWithoutPath(t *testing.T) {
	name := artifactFileName("https://example.com/", "9.9.9")
	if !strings.Contains(name, "9.9.9") {
		t.Fatalf("expected version in fallback name, got %q", name)
	}
}

func TestCleanCacheKeepsCurrentVersion(t *testing.T) {
	cacheDir := t.TempDir()
	for _, name := range []string{"siid-1.0.0.tar.gz", "siid-1.1.0.tar.gz", "siid-1.2.0.tar.gz"} {
		if err := os.WriteFile(filepath.Join(cacheDir, name), []byte("x"), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	cleanCache(cacheDir, "1.2.0")

	entries, err := os.ReadDir(cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "siid-1.2.0.tar.gz" {
		t.Fatalf("expected only the current version to survive, found %v", entries)
	}
}

func TestProbeUpdateKind(t *testing.T) {
	if kind := probeUpdateKind(""); kind != api.UpdateKindArchive {
		t.Fatalf("empty install path: got %q, want archive", kind)
	}

	plain := t.TempDir()
	if kind := probeUpdateKind(plain); kind != api.UpdateKindArchive {
		t.Fatalf("plain install dir: got %q, want archive", kind)
	}

	setup := t.TempDir()
	if err := os.WriteFile(filepath.Join(setup, uninstallerName), nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if kind := probeUpdateKind(setup); kind != api.UpdateKindSetup {
		t.Fatalf("install dir with uninstaller: got %q, want setup", kind)
	}
}

func TestDetectUpdateKindCachesFirstProbe(t *testing.T) {
	first := DetectUpdateKind("")
	// A different path later must not change the answer mid-process.
	second := DetectUpdateKind(t.TempDir())
	if first != second {
		t.Fatalf("kind changed between probes: %q vs %q", first, second)
	}
}

func TestArchiveDriverDownloadStagesAndPrunes(t *testing.T) {
	body := []byte("release tarball")
	srv := artifactServer(t, body)
	cacheDir := t.TempDir()

	if err := os.WriteFile(filepath.Join(cacheDir, "siid-0.9.0.tar.gz"), []byte("old"), 0o600); err != nil {
		t.Fatal(err)
	}

	d := NewArchiveDriver(Options{
		Platform:   "linux-x64",
		CachePath:  cacheDir,
		HTTPClient: srv.Client(),
	})

	avail, err := d.Download(context.Background(), &api.UpdateDescriptor{
		Version:        "abcdef0123456789",
		ProductVersion: "1.3.0",
		URL:            srv.URL + "/siid.tar.gz",
		SHA256Hash:     sha256hex(body),
	})
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if avail.Version != "1.3.0" {
		t.Fatalf("staged version %q, want 1.3.0", avail.Version)
	}

	entries, _ := os.ReadDir(cacheDir)
	if len(entries) != 1 {
		t.Fatalf("expected stale artifacts pruned, found %v", entries)
	}
}

func TestArchiveDriverDownloadRequiresURL(t *testing.T) {
	d := NewArchiveDriver(Options{CachePath: t.TempDir()})
	if _, err := d.Download(context.Background(), &api.UpdateDescriptor{Version: "1.0.0"}); err == nil {
		t.Fatal("expected error for descriptor without URL")
	}
}

func TestSideloadStagesLocalPackage(t *testing.T) {
	dir := t.TempDir()
	pkg := filepath.Join(dir, "siid-2.5.0.tar.gz")
	if err := os.WriteFile(pkg, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	d := NewArchiveDriver(Options{CachePath: dir})
	avail, err := d.Sideload(pkg)
	if err != nil {
		t.Fatalf("Sideload: %v", err)
	}
	if avail.PackagePath != pkg {
		t.Fatalf("package path %q, want %q", avail.PackagePath, pkg)
	}
	if avail.Version != "siid-2.5.0" {
		t.Fatalf("derived version %q", avail.Version)
	}

	if _, err := d.Sideload(filepath.Join(dir, "missing.tar.gz")); err == nil {
		t.Fatal("expected error for missing package")
	}
	if _, err := d.Sideload(dir); err == nil {
		t.Fatal("expected error for directory")
	}
}

func TestWriteUpdateFlagNamesInstaller(t *testing.T) {
	cacheDir := t.TempDir()
	d := NewSetupDriver(Options{Platform: "win32-x64", CachePath: cacheDir})

	flagPath, err := d.writeUpdateFlag(&Available{
		Version:     "1.4.0",
		PackagePath: filepath.Join(cacheDir, "SIIDSetup-1.4.0.exe"),
	})
	if err != nil {
		t.Fatalf("writeUpdateFlag: %v", err)
	}

	content, err := os.ReadFile(flagPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "SIIDSetup-1.4.0.exe" {
		t.Fatalf("flag names %q, want the installer file", content)
	}
}

func TestDetectPlatformShape(t *testing.T) {
	platform := DetectPlatform()
	if !strings.Contains(platform, "-") {
		t.Fatalf("platform %q is not os-arch shaped", platform)
	}
	if strings.HasPrefix(platform, "windows") {
		t.Fatalf("platform %q should use the win32 prefix", platform)
	}
	if strings.Contains(platform, "amd64") {
		t.Fatalf("platform %q should use the x64 arch name", platform)
	}
}
