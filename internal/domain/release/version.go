package release

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// tagSeparator splits a release tag into package name and version.
const tagSeparator = "-"

var (
	// ErrMalformedTag is returned when a tag does not split into a name and a version.
	ErrMalformedTag = errors.New("malformed release tag")
	// ErrInvalidVersion is returned when the version part of a tag is not a strict semantic version.
	ErrInvalidVersion = errors.New("invalid version")
)

// Tag is a release tag split into its package name and version.
type Tag struct {
	// Name is the package name, everything before the last hyphen.
	Name string
	// Version is the strict semantic version after the last hyphen.
	Version *semver.Version
}

// ParseVersion validates a strict MAJOR.MINOR.PATCH[-pre][+build] version.
func ParseVersion(raw string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(raw)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidVersion, raw, err)
	}

	return v, nil
}

// ParseTag splits a tag of the form <name>-<version> on its last hyphen.
// Both parts must be non-empty and the version must be a strict semantic version.
func ParseTag(raw string) (Tag, error) {
	idx := strings.LastIndex(raw, tagSeparator)
	if idx <= 0 || idx == len(raw)-1 {
		return Tag{}, fmt.Errorf("%w: %q", ErrMalformedTag, raw)
	}

	v, err := ParseVersion(raw[idx+1:])
	if err != nil {
		return Tag{}, err
	}

	return Tag{
		Name:    raw[:idx],
		Version: v,
	}, nil
}

// VersionSet maps package names to every version known for them.
type VersionSet map[string][]*semver.Version

// NewVersionSet creates an empty set.
func NewVersionSet() VersionSet {
	return make(VersionSet)
}

// Add records a version for the package.
func (s VersionSet) Add(name string, v *semver.Version) {
	s[name] = append(s[name], v)
}

// Latest reduces the set to the greatest version of every package,
// rendered exactly as it appeared in the tag.
func (s VersionSet) Latest() map[string]string {
	latest := make(map[string]string, len(s))

	for name, versions := range s {
		var maxVersion *semver.Version

		for _, v := range versions {
			if maxVersion == nil || v.GreaterThan(maxVersion) {
				maxVersion = v
			}
		}

		if maxVersion != nil {
			latest[name] = maxVersion.Original()
		}
	}

	return latest
}
