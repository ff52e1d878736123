package merger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/oshokin/chart-publisher/internal/domain/release"
	"github.com/oshokin/chart-publisher/internal/logger"
	"github.com/oshokin/chart-publisher/internal/repository/index"
)

// blockSize is the read size used while hashing artifacts.
const blockSize = 4096

// Options configures the merger.
type Options struct {
	// URLBase is the public repository address download URLs are built from.
	URLBase string
	// IconURL is written into every new entry.
	IconURL string
}

// Merger builds index entries and merges them into an existing document.
type Merger struct {
	opts Options
	now  func() time.Time
}

// Option tunes a merger.
type Option func(*Merger)

// WithClock replaces the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Merger) {
		if now != nil {
			m.now = now
		}
	}
}

// New creates a merger.
func New(opts Options, options ...Option) *Merger {
	m := &Merger{
		opts: opts,
		now:  time.Now,
	}

	for _, option := range options {
		option(m)
	}

	return m
}

// Merge returns a new document holding every entry of existing plus one entry
// per built artifact. Entries with the same name are replaced wholesale;
// existing is never modified. A nil existing document starts a fresh index.
func (m *Merger) Merge(
	ctx context.Context,
	existing *release.IndexDocument,
	built []release.BuiltArtifact,
) (*release.IndexDocument, error) {
	merged := existing.Clone()
	if merged == nil {
		merged = release.NewIndexDocument()
	}

	now := m.now().UTC()

	for _, artifact := range built {
		entry, err := m.entry(artifact, now)
		if err != nil {
			return nil, err
		}

		if _, replaced := merged.Entries[entry.Name]; replaced {
			logger.DebugKV(ctx, "Replacing index entry", "chart", entry.Name, "version", entry.Version)
		}

		merged.Upsert(entry)
	}

	if merged.APIVersion == "" {
		merged.APIVersion = release.IndexAPIVersion
	}

	merged.Generated = now.Format(time.RFC3339Nano)

	return merged, nil
}

func (m *Merger) entry(artifact release.BuiltArtifact, now time.Time) (*release.IndexEntry, error) {
	sum, err := FileDigest(artifact.Path)
	if err != nil {
		return nil, err
	}

	downloadURL, err := index.URL(m.opts.URLBase, filepath.Base(artifact.Path))
	if err != nil {
		return nil, fmt.Errorf("build download url for %s: %w", artifact.Name, err)
	}

	def := artifact.Definition

	return &release.IndexEntry{
		APIVersion:  def.APIVersion,
		AppVersion:  def.AppVersion,
		Created:     now.Format(time.RFC3339),
		Description: def.Description,
		Digest:      sum,
		Icon:        m.opts.IconURL,
		Name:        artifact.Name,
		URLs:        []string{downloadURL},
		Version:     artifact.Version,
	}, nil
}

// FileDigest returns the hex encoded SHA-256 of the file, read in fixed-size blocks.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open artifact: %w", err)
	}

	defer f.Close()

	digester := digest.SHA256.Digester()

	// Hide WriterTo so the copy goes through the fixed buffer.
	if _, err = io.CopyBuffer(digester.Hash(), struct{ io.Reader }{f}, make([]byte, blockSize)); err != nil {
		return "", fmt.Errorf("read artifact %s: %w", path, err)
	}

	return digester.Digest().Encoded(), nil
}
