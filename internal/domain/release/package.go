package release

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Kind is the chart type declared in the manifest.
type Kind string

const (
	// KindApplication is the default chart type and the only releasable one.
	KindApplication Kind = "application"
	// KindLibrary charts are never released on their own.
	KindLibrary Kind = "library"
)

// ParseKind maps the manifest "type" field onto a Kind. An empty value means application.
func ParseKind(raw string) Kind {
	if strings.TrimSpace(raw) == string(KindLibrary) {
		return KindLibrary
	}

	return KindApplication
}

// PackageDefinition is a read-only snapshot of a chart manifest.
type PackageDefinition struct {
	// Dir is the package directory under the charts root.
	Dir string
	// Name is the manifest name.
	Name string
	// Version is the declared chart version.
	Version string
	// Kind is the declared chart type.
	Kind Kind
	// APIVersion is the chart API version.
	APIVersion string
	// AppVersion is the version of the packaged application.
	AppVersion string
	// Description is the chart description.
	Description string
}

// Releasable reports whether the package can be released on its own.
func (d *PackageDefinition) Releasable() bool {
	return d.Kind != KindLibrary
}

// ArtifactName is the file name the packaging tool produces for the given version.
func ArtifactName(name, version, ext string) string {
	return fmt.Sprintf("%s-%s%s", name, version, ext)
}

// Plan maps package names to the version that has to be built and published.
type Plan map[string]string

// Names returns the planned package names in lexical order.
func (p Plan) Names() []string {
	return slices.Sorted(maps.Keys(p))
}

// BuiltArtifact is a packaged chart placed into the workspace.
type BuiltArtifact struct {
	// Name is the chart name.
	Name string
	// Version is the built version.
	Version string
	// Path is the artifact location inside the workspace.
	Path string
	// Definition is the manifest snapshot after the version rewrite.
	Definition PackageDefinition
}
