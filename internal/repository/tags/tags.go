package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/oshokin/chart-publisher/internal/domain/release"
	"github.com/oshokin/chart-publisher/internal/logger"
)

const (
	// DefaultRemoteName is the remote used when no repository URL is configured.
	DefaultRemoteName = "origin"

	// tagRefPrefix is stripped from full tag reference names.
	tagRefPrefix = "refs/tags/"
)

// ErrTransport is returned when tags cannot be listed from the remote.
var ErrTransport = errors.New("list remote tags")

// Lister returns the short names of every tag on a remote.
type Lister interface {
	ListTags(ctx context.Context) ([]string, error)
}

// GitLister lists tags with go-git, the equivalent of `git ls-remote --tags --refs`.
type GitLister struct {
	// URL is the remote repository. When empty, the DefaultRemoteName remote of
	// the repository containing RepoDir is used.
	URL string
	// RepoDir is any directory inside the local repository.
	RepoDir string
}

// ListTags implements Lister.
func (l *GitLister) ListTags(ctx context.Context) ([]string, error) {
	remote, err := l.remote()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	refs, err := remote.ListContext(ctx, &git.ListOptions{
		PeelingOption: git.IgnorePeeled,
	})
	// A repository without any refs has no releases yet.
	if errors.Is(err, transport.ErrEmptyRemoteRepository) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	result := make([]string, 0, len(refs))

	for _, ref := range refs {
		if ref.Name().IsTag() {
			result = append(result, ref.Name().Short())
		}
	}

	return result, nil
}

func (l *GitLister) remote() (*git.Remote, error) {
	if l.URL != "" {
		return git.NewRemote(memory.NewStorage(), &gitconfig.RemoteConfig{
			Name: DefaultRemoteName,
			URLs: []string{l.URL},
		}), nil
	}

	repo, err := git.PlainOpenWithOptions(l.RepoDir, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository at %s: %w", l.RepoDir, err)
	}

	remote, err := repo.Remote(DefaultRemoteName)
	if err != nil {
		return nil, fmt.Errorf("find remote %s: %w", DefaultRemoteName, err)
	}

	return remote, nil
}

// Repository turns remote tags into release versions.
type Repository struct {
	lister Lister
}

// NewRepository creates a repository backed by the lister.
func NewRepository(lister Lister) *Repository {
	return &Repository{lister: lister}
}

// LatestVersions returns the greatest version of every package found in the
// remote tags. Tags that are not <name>-<strict semver> are skipped and counted.
func (r *Repository) LatestVersions(ctx context.Context) (map[string]string, error) {
	names, err := r.lister.ListTags(ctx)
	if err != nil {
		if errors.Is(err, ErrTransport) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	set, discarded := Collect(names)
	if discarded > 0 {
		logger.InfoKV(ctx, "Discarded malformed release tags", "count", discarded, "total", len(names))
	}

	return set.Latest(), nil
}

// Collect parses tag names into a version set and reports how many were discarded.
func Collect(names []string) (release.VersionSet, int) {
	var (
		set       = release.NewVersionSet()
		discarded int
	)

	for _, name := range names {
		tag, err := release.ParseTag(strings.TrimPrefix(strings.TrimSpace(name), tagRefPrefix))
		if err != nil {
			discarded++
			continue
		}

		set.Add(tag.Name, tag.Version)
	}

	return set, discarded
}
