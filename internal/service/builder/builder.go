package builder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/oshokin/chart-publisher/internal/domain/release"
	"github.com/oshokin/chart-publisher/internal/logger"
	"github.com/oshokin/chart-publisher/internal/repository/catalog"
)

const (
	// artifactMIME is the content type every packaged chart must have.
	artifactMIME = "application/gzip"

	// waitDelay bounds output draining after the packaging tool is killed.
	waitDelay = 5 * time.Second
)

var (
	// ErrBuildFailed is returned when the packaging tool does not produce an artifact.
	ErrBuildFailed = errors.New("build failed")
	// ErrBuildTimeout is returned when the packaging tool outlives its timeout.
	ErrBuildTimeout = fmt.Errorf("%w: timeout expired", ErrBuildFailed)
	// ErrPackageNotInCatalog is returned for a planned chart without a local definition.
	ErrPackageNotInCatalog = fmt.Errorf("%w: package is not in the catalog", catalog.ErrManifest)
)

// Catalog is the part of the package catalog the builder needs.
type Catalog interface {
	Lookup(name string) (release.PackageDefinition, bool)
	SetVersion(name, version string) (release.PackageDefinition, error)
	DefinitionDir() string
}

// Options configures the builder.
type Options struct {
	// Command is the packaging tool program and arguments; the definition directory is appended.
	Command []string
	// Timeout bounds one packaging tool run.
	Timeout time.Duration
	// ArchiveExt is the extension of produced artifacts.
	ArchiveExt string
	// Workspace is the directory artifacts are moved into.
	Workspace string
}

// Builder packages charts.
type Builder struct {
	catalog Catalog
	opts    Options
}

// New creates a builder.
func New(c Catalog, opts Options) *Builder {
	return &Builder{
		catalog: c,
		opts:    opts,
	}
}

// Build packages every planned chart in name order.
func (b *Builder) Build(ctx context.Context, plan release.Plan) ([]release.BuiltArtifact, error) {
	artifacts := make([]release.BuiltArtifact, 0, len(plan))

	for _, name := range plan.Names() {
		artifact, err := b.buildOne(logger.WithKV(ctx, "chart", name), name, plan[name])
		if err != nil {
			return artifacts, err
		}

		artifacts = append(artifacts, artifact)
	}

	return artifacts, nil
}

func (b *Builder) buildOne(ctx context.Context, name, version string) (release.BuiltArtifact, error) {
	if _, ok := b.catalog.Lookup(name); !ok {
		return release.BuiltArtifact{}, fmt.Errorf("%w: %s", ErrPackageNotInCatalog, name)
	}

	def, err := b.catalog.SetVersion(name, version)
	if err != nil {
		return release.BuiltArtifact{}, fmt.Errorf("set version of %s: %w", name, err)
	}

	logger.InfoKV(ctx, "Building chart", "version", version, "dir", def.Dir)

	if err = b.runPackager(ctx, def.Dir); err != nil {
		return release.BuiltArtifact{}, fmt.Errorf("package %s %s: %w", name, version, err)
	}

	fileName := release.ArtifactName(def.Name, def.Version, b.opts.ArchiveExt)
	target := filepath.Join(b.opts.Workspace, fileName)

	if err = os.Rename(filepath.Join(def.Dir, fileName), target); err != nil {
		return release.BuiltArtifact{}, fmt.Errorf("%w: move %s into workspace: %w", ErrBuildFailed, fileName, err)
	}

	if err = checkArtifact(target); err != nil {
		return release.BuiltArtifact{}, err
	}

	return release.BuiltArtifact{
		Name:       def.Name,
		Version:    def.Version,
		Path:       target,
		Definition: def,
	}, nil
}

// runPackager invokes the packaging tool in the package directory.
func (b *Builder) runPackager(ctx context.Context, dir string) error {
	if len(b.opts.Command) == 0 {
		return fmt.Errorf("%w: package command is empty", ErrBuildFailed)
	}

	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}

	args := append(append([]string(nil), b.opts.Command[1:]...), b.catalog.DefinitionDir()+string(filepath.Separator))

	var output bytes.Buffer

	//nolint:gosec // The command comes from the operator's configuration.
	cmd := exec.CommandContext(ctx, b.opts.Command[0], args...)
	cmd.Dir = dir
	cmd.Stdout = &output
	cmd.Stderr = &output
	cmd.WaitDelay = waitDelay

	err := cmd.Run()

	logger.DebugKV(ctx, "Packaging tool finished", "command", cmd.String(), "output", output.String())

	switch {
	case err == nil:
		return nil
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w after %s: %s", ErrBuildTimeout, b.opts.Timeout, output.String())
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("%w: exit status %d: %s", ErrBuildFailed, exitErr.ExitCode(), output.String())
		}

		return fmt.Errorf("%w: %w", ErrBuildFailed, err)
	}
}

// checkArtifact rejects files that are not gzip archives.
func checkArtifact(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return fmt.Errorf("%w: inspect %s: %w", ErrBuildFailed, path, err)
	}

	if !mt.Is(artifactMIME) {
		return fmt.Errorf("%w: %s is %s, not %s", ErrBuildFailed, filepath.Base(path), mt.String(), artifactMIME)
	}

	return nil
}
