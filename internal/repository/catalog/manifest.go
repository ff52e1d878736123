package catalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/chart-publisher/internal/domain/release"
	"github.com/oshokin/chart-publisher/internal/storage"
)

// ManifestFilename is the chart manifest inside a definition directory.
const ManifestFilename = "Chart.yaml"

var (
	// ErrManifest is returned for missing or malformed manifests.
	ErrManifest = errors.New("chart manifest")
	// errVersionKeyMissing is returned when a manifest has no version key to rewrite.
	errVersionKeyMissing = errors.New("version key not found")
)

// manifest is the subset of Chart.yaml the publisher reads.
type manifest struct {
	APIVersion  string `yaml:"apiVersion"`
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	AppVersion  string `yaml:"appVersion"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
}

// ReadManifest loads the manifest of the package directory.
func ReadManifest(packageDir, definitionDir string) (release.PackageDefinition, error) {
	path := ManifestPath(packageDir, definitionDir)

	contents, err := os.ReadFile(path)
	if err != nil {
		return release.PackageDefinition{}, fmt.Errorf("%w %s: %w", ErrManifest, path, err)
	}

	var m manifest
	if err = yaml.Unmarshal(contents, &m); err != nil {
		return release.PackageDefinition{}, fmt.Errorf("%w %s: %w", ErrManifest, path, err)
	}

	if m.Name == "" || m.Version == "" {
		return release.PackageDefinition{}, fmt.Errorf("%w %s: name and version are required", ErrManifest, path)
	}

	return release.PackageDefinition{
		Dir:         packageDir,
		Name:        m.Name,
		Version:     m.Version,
		Kind:        release.ParseKind(m.Type),
		APIVersion:  m.APIVersion,
		AppVersion:  m.AppVersion,
		Description: m.Description,
	}, nil
}

// ManifestPath returns the manifest location of a package directory.
func ManifestPath(packageDir, definitionDir string) string {
	return filepath.Join(packageDir, definitionDir, ManifestFilename)
}

// WriteVersion rewrites the version key of the manifest in place.
// Key order, comments and unknown keys are kept.
func WriteVersion(packageDir, definitionDir, version string) error {
	path := ManifestPath(packageDir, definitionDir)

	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrManifest, path, err)
	}

	var doc yaml.Node
	if err = yaml.Unmarshal(contents, &doc); err != nil {
		return fmt.Errorf("%w %s: %w", ErrManifest, path, err)
	}

	if err = setScalar(&doc, "version", version); err != nil {
		return fmt.Errorf("%w %s: %w", ErrManifest, path, err)
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrManifest, path, err)
	}

	mode := storage.DefaultFileMode
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}

	return storage.WriteFile(path, data, mode)
}

// setScalar replaces the value of a top-level mapping key.
func setScalar(doc *yaml.Node, key, value string) error {
	root := doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}

	if root.Kind != yaml.MappingNode {
		return errVersionKeyMissing
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != key {
			continue
		}

		root.Content[i+1] = &yaml.Node{
			Kind:        yaml.ScalarNode,
			Tag:         "!!str",
			Value:       value,
			LineComment: root.Content[i+1].LineComment,
		}

		return nil
	}

	return errVersionKeyMissing
}
