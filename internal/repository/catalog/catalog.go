package catalog

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/oshokin/chart-publisher/internal/domain/release"
	"github.com/oshokin/chart-publisher/internal/logger"
)

// Catalog is a snapshot of the releasable packages keyed by package directory.
type Catalog struct {
	definitionDir string
	packages      map[string]release.PackageDefinition
}

// Scan reads every package under root. A candidate with a broken manifest,
// or two releasable packages declaring the same name, fail the scan.
func Scan(ctx context.Context, root, definitionDir string) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read charts directory: %w", err)
	}

	c := &Catalog{
		definitionDir: definitionDir,
		packages:      make(map[string]release.PackageDefinition, len(entries)),
	}

	owners := make(map[string]string, len(entries))

	for _, entry := range entries {
		packageDir := filepath.Join(root, entry.Name())

		// Stat follows symlinked package directories.
		info, statErr := os.Stat(filepath.Join(packageDir, definitionDir))
		if statErr != nil || !info.IsDir() {
			continue
		}

		def, readErr := ReadManifest(packageDir, definitionDir)
		if readErr != nil {
			return nil, readErr
		}

		if !def.Releasable() {
			logger.DebugKV(ctx, "Skipping library chart", "chart", def.Name, "dir", packageDir)
			continue
		}

		if other, dup := owners[def.Name]; dup {
			return nil, fmt.Errorf("%w: chart %q is declared in both %s and %s", ErrManifest, def.Name, other, packageDir)
		}

		owners[def.Name] = packageDir
		c.packages[packageDir] = def
	}

	return c, nil
}

// Len returns the number of releasable packages.
func (c *Catalog) Len() int {
	return len(c.packages)
}

// Dirs returns the package directories in lexical order.
func (c *Catalog) Dirs() []string {
	return slices.Sorted(maps.Keys(c.packages))
}

// Get returns the definition stored for a package directory.
func (c *Catalog) Get(dir string) (release.PackageDefinition, bool) {
	def, ok := c.packages[dir]

	return def, ok
}

// Declared maps manifest names to declared versions.
func (c *Catalog) Declared() map[string]string {
	declared := make(map[string]string, len(c.packages))
	for _, def := range c.packages {
		declared[def.Name] = def.Version
	}

	return declared
}

// Lookup finds the package with the given manifest name.
func (c *Catalog) Lookup(name string) (release.PackageDefinition, bool) {
	for _, dir := range c.Dirs() {
		if def := c.packages[dir]; def.Name == name {
			return def, true
		}
	}

	return release.PackageDefinition{}, false
}

// SetVersion rewrites the manifest of the named package and returns the refreshed definition.
// Nothing is written when the declared version already matches.
func (c *Catalog) SetVersion(name, version string) (release.PackageDefinition, error) {
	def, ok := c.Lookup(name)
	if !ok {
		return release.PackageDefinition{}, fmt.Errorf("%w: package %q is not in the catalog", ErrManifest, name)
	}

	if def.Version == version {
		return def, nil
	}

	if err := WriteVersion(def.Dir, c.definitionDir, version); err != nil {
		return release.PackageDefinition{}, err
	}

	updated, err := ReadManifest(def.Dir, c.definitionDir)
	if err != nil {
		return release.PackageDefinition{}, err
	}

	c.packages[def.Dir] = updated

	return updated, nil
}

// DefinitionDir is the chart subdirectory name the catalog was scanned with.
func (c *Catalog) DefinitionDir() string {
	return c.definitionDir
}
