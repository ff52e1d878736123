package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/oshokin/chart-publisher/internal/config"
	"github.com/oshokin/chart-publisher/internal/logger"
	"github.com/oshokin/chart-publisher/internal/repository/catalog"
	"github.com/oshokin/chart-publisher/internal/repository/index"
	"github.com/oshokin/chart-publisher/internal/repository/tags"
	"github.com/oshokin/chart-publisher/internal/service/builder"
	"github.com/oshokin/chart-publisher/internal/service/merger"
	"github.com/oshokin/chart-publisher/internal/service/planner"
	"github.com/oshokin/chart-publisher/internal/version"
	"github.com/oshokin/chart-publisher/internal/workspace"
)

// Options contains inputs for the publisher entry point.
// Empty values fall back to the settings file and then to the defaults.
type Options struct {
	// ConfigPath is an optional settings file.
	ConfigPath string
	// ChartsDir is the directory whose subdirectories hold the charts.
	ChartsDir string
	// URLBase is the public base URL of the chart repository.
	URLBase string
	// Remote is the git repository whose tags mark releases.
	Remote string
	// Workspace is the build directory.
	Workspace string
	// LogLevel overrides the configured log level.
	LogLevel string
	// BuildTimeout bounds one packaging tool run.
	BuildTimeout time.Duration
}

// errUnknownLogLevel is returned for a log level ParseLogLevel does not know.
var errUnknownLogLevel = errors.New("unknown log level")

// Run resolves the settings and performs one publishing pass.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "chart-publisher")

	cfg, err := config.Resolve(opts.ConfigPath, &config.Config{
		ChartsDir:    opts.ChartsDir,
		URLBase:      opts.URLBase,
		Remote:       opts.Remote,
		Workspace:    opts.Workspace,
		LogLevel:     opts.LogLevel,
		BuildTimeout: opts.BuildTimeout,
	})
	if err != nil {
		return fmt.Errorf("resolve settings: %w", err)
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.LogLevel)
	}

	logger.SetLevel(level)
	logger.InfoKV(ctx, "Starting", version.Fields()...)

	p, err := New(cfg)
	if err != nil {
		return err
	}

	if err = p.Publish(ctx); err != nil {
		return fmt.Errorf("publish charts: %w", err)
	}

	return nil
}

// Publisher sequences lock, plan, build, merge and unlock.
type Publisher struct {
	cfg      *config.Config
	command  []string
	tags     *tags.Repository
	fetcher  index.Fetcher
	lockOpts []workspace.Option
	merger   []merger.Option
}

// Option tunes a publisher.
type Option func(*Publisher)

// WithTagLister replaces the git tag source.
func WithTagLister(lister tags.Lister) Option {
	return func(p *Publisher) {
		p.tags = tags.NewRepository(lister)
	}
}

// WithIndexFetcher replaces the remote index source.
func WithIndexFetcher(fetcher index.Fetcher) Option {
	return func(p *Publisher) {
		p.fetcher = fetcher
	}
}

// WithLockOptions passes options to every workspace lock acquisition.
func WithLockOptions(opts ...workspace.Option) Option {
	return func(p *Publisher) {
		p.lockOpts = append(p.lockOpts, opts...)
	}
}

// WithClock sets the time source of index timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.merger = append(p.merger, merger.WithClock(now))
	}
}

// New creates a publisher for validated settings.
func New(cfg *config.Config, opts ...Option) (*Publisher, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	command, err := cfg.PackageArgs()
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		cfg:     cfg,
		command: command,
		tags: tags.NewRepository(&tags.GitLister{
			URL:     cfg.Remote,
			RepoDir: cfg.ChartsDir,
		}),
		fetcher: index.NewHTTPFetcher(cfg.URLBase, index.WithTimeout(cfg.FetchTimeout)),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Publish performs one pass. A workspace held by another live process is
// not an error: the pass ends without side effects.
func (p *Publisher) Publish(ctx context.Context) (err error) {
	lockOpts := append([]workspace.Option{workspace.WithStaleAfter(p.cfg.StaleAfter)}, p.lockOpts...)

	lock, err := workspace.Acquire(ctx, p.cfg.Workspace, lockOpts...)
	if errors.Is(err, workspace.ErrLocked) {
		logger.WarnKV(ctx, "Can not lock the workspace, another process is running", "error", err)
		return nil
	}

	if err != nil {
		return fmt.Errorf("lock workspace: %w", err)
	}

	defer func() {
		releaseErr := lock.Release(ctx)

		switch {
		case releaseErr == nil:
		case errors.Is(releaseErr, workspace.ErrNotOwner):
			logger.WarnKV(ctx, "The workspace was reclaimed by another process", "error", releaseErr)
		default:
			err = multierror.Append(err, fmt.Errorf("unlock workspace: %w", releaseErr)).ErrorOrNil()
		}
	}()

	return p.publish(ctx, lock)
}

func (p *Publisher) publish(ctx context.Context, lock *workspace.Lock) error {
	latest, err := p.tags.LatestVersions(ctx)
	if err != nil {
		return err
	}

	charts, err := catalog.Scan(ctx, p.cfg.ChartsDir, p.cfg.DefinitionDir)
	if err != nil {
		return fmt.Errorf("scan charts: %w", err)
	}

	declared := charts.Declared()
	logger.InfoKV(ctx, "Found charts", "charts", describe(declared))

	existing, err := p.fetcher.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch index: %w", err)
	}

	plan := planner.Plan(latest, declared, existing != nil)
	if len(plan) == 0 {
		logger.Info(ctx, "Nothing to build")
		return nil
	}

	logger.InfoKV(ctx, "Charts to build", "charts", describe(plan), "bootstrap", existing == nil)

	built, err := builder.New(charts, builder.Options{
		Command:    p.command,
		Timeout:    p.cfg.BuildTimeout,
		ArchiveExt: p.cfg.ArchiveExt,
		Workspace:  lock.Dir(),
	}).Build(ctx, plan)
	if err != nil {
		return err
	}

	merged, err := merger.New(merger.Options{
		URLBase: p.cfg.URLBase,
		IconURL: p.cfg.IconURL,
	}, p.merger...).Merge(ctx, existing, built)
	if err != nil {
		return fmt.Errorf("merge index: %w", err)
	}

	path, err := index.Save(lock.Dir(), merged)
	if err != nil {
		return fmt.Errorf("save index: %w", err)
	}

	logger.InfoKV(ctx, "Index written", "path", path, "charts", len(built), "entries", len(merged.Entries))

	return nil
}

// describe renders name:version pairs in name order.
func describe[M ~map[string]string](versions M) []string {
	result := make([]string, 0, len(versions))
	for name, v := range versions {
		result = append(result, name+":"+v)
	}

	slices.Sort(result)

	return result
}
