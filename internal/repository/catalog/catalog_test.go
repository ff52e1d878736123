package catalog

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/chart-publisher/internal/domain/release"
)

const definitionDir = "helm-charts"

// writeChart creates <root>/<dir>/helm-charts/Chart.yaml with the given contents.
func writeChart(t *testing.T, root, dir, contents string) string {
	t.Helper()

	chartDir := filepath.Join(root, dir, definitionDir)
	require.NoError(t, os.MkdirAll(chartDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(chartDir, ManifestFilename), []byte(contents), 0o644))

	return filepath.Join(root, dir)
}

// TestScan_FiltersCandidates keeps application charts and skips libraries and unrelated directories.
func TestScan_FiltersCandidates(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	appDir := writeChart(t, root, "app", "apiVersion: v2\nname: app\nversion: 1.0.0\nappVersion: \"2.1\"\ndescription: An app\n")
	writeChart(t, root, "common", "apiVersion: v2\nname: common\nversion: 0.3.0\ntype: library\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("readme"), 0o644))

	c, err := Scan(context.Background(), root, definitionDir)
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
	require.Equal(t, []string{appDir}, c.Dirs())

	def, ok := c.Get(appDir)
	require.True(t, ok)
	require.Equal(t, release.PackageDefinition{
		Dir:         appDir,
		Name:        "app",
		Version:     "1.0.0",
		Kind:        release.KindApplication,
		APIVersion:  "v2",
		AppVersion:  "2.1",
		Description: "An app",
	}, def)

	require.Equal(t, map[string]string{"app": "1.0.0"}, c.Declared())
}

// TestScan_NameComesFromManifest ensures lookups use the manifest name, not the directory.
func TestScan_NameComesFromManifest(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writeChart(t, root, "service-dir", "name: service\nversion: 0.1.0\n")

	c, err := Scan(context.Background(), root, definitionDir)
	require.NoError(t, err)

	def, ok := c.Lookup("service")
	require.True(t, ok)
	require.Equal(t, dir, def.Dir)

	_, ok = c.Lookup("service-dir")
	require.False(t, ok)
}

// TestScan_FollowsSymlinks keeps package directories that are symlinks.
func TestScan_FollowsSymlinks(t *testing.T) {
	t.Parallel()

	if runtime.GOOS == "windows" {
		t.Skip("symlinks need extra privileges on windows")
	}

	elsewhere := t.TempDir()
	target := writeChart(t, elsewhere, "app", "name: app\nversion: 1.0.0\n")

	root := t.TempDir()
	link := filepath.Join(root, "app")
	require.NoError(t, os.Symlink(target, link))

	c, err := Scan(context.Background(), root, definitionDir)
	require.NoError(t, err)
	require.Equal(t, []string{link}, c.Dirs())
	require.Equal(t, map[string]string{"app": "1.0.0"}, c.Declared())
}

// TestScan_DuplicateNamesAreFatal refuses two directories declaring one chart.
func TestScan_DuplicateNamesAreFatal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeChart(t, root, "app", "name: app\nversion: 1.0.0\n")
	writeChart(t, root, "app-copy", "name: app\nversion: 2.0.0\n")

	_, err := Scan(context.Background(), root, definitionDir)
	require.ErrorIs(t, err, ErrManifest)
	require.Contains(t, err.Error(), `chart "app"`)
}

// TestScan_BrokenManifestIsFatal verifies there is no skip-on-error policy.
func TestScan_BrokenManifestIsFatal(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeChart(t, root, "good", "name: good\nversion: 1.0.0\n")
	writeChart(t, root, "broken", "name: [unterminated\n")

	_, err := Scan(context.Background(), root, definitionDir)
	require.ErrorIs(t, err, ErrManifest)

	// Definition directory without a manifest.
	root = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty", definitionDir), 0o755))

	_, err = Scan(context.Background(), root, definitionDir)
	require.ErrorIs(t, err, ErrManifest)

	// Manifest without a version.
	root = t.TempDir()
	writeChart(t, root, "noversion", "name: noversion\n")

	_, err = Scan(context.Background(), root, definitionDir)
	require.ErrorIs(t, err, ErrManifest)

	_, err = Scan(context.Background(), filepath.Join(root, "missing"), definitionDir)
	require.Error(t, err)
}

// TestSetVersion_RewritesOnlyVersion checks that comments and other keys survive the rewrite.
func TestSetVersion_RewritesOnlyVersion(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writeChart(t, root, "app", "# chart header\napiVersion: v2\nname: app\nversion: 1.0.0 # bumped by CI\nappVersion: \"2.1\"\nkeywords:\n  - web\n")

	c, err := Scan(context.Background(), root, definitionDir)
	require.NoError(t, err)

	def, err := c.SetVersion("app", "1.1.0")
	require.NoError(t, err)
	require.Equal(t, "1.1.0", def.Version)
	require.Equal(t, "2.1", def.AppVersion)

	contents, err := os.ReadFile(ManifestPath(dir, definitionDir))
	require.NoError(t, err)
	require.Contains(t, string(contents), "# chart header")
	require.Contains(t, string(contents), "bumped by CI")
	require.Contains(t, string(contents), "- web")

	reread, err := ReadManifest(dir, definitionDir)
	require.NoError(t, err)
	require.Equal(t, "1.1.0", reread.Version)

	stored, ok := c.Get(dir)
	require.True(t, ok)
	require.Equal(t, "1.1.0", stored.Version)

	_, err = c.SetVersion("unknown", "1.0.0")
	require.ErrorIs(t, err, ErrManifest)
}

// TestSetVersion_NoopWhenCurrent leaves the manifest file untouched.
func TestSetVersion_NoopWhenCurrent(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	const original = "name: app\nversion:   1.0.0\n"
	dir := writeChart(t, root, "app", original)

	c, err := Scan(context.Background(), root, definitionDir)
	require.NoError(t, err)

	_, err = c.SetVersion("app", "1.0.0")
	require.NoError(t, err)

	contents, err := os.ReadFile(ManifestPath(dir, definitionDir))
	require.NoError(t, err)
	require.Equal(t, original, string(contents))
}
