package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of a publishing run.
type Config struct {
	// ChartsDir is the directory whose subdirectories hold the charts.
	ChartsDir string `yaml:"charts_dir"`
	// URLBase is the public base URL of the chart repository.
	URLBase string `yaml:"url_base"`
	// Remote is the git repository URL whose tags mark releases.
	// Empty means the "origin" remote of the repository containing ChartsDir.
	Remote string `yaml:"remote"`
	// Workspace is the exclusively locked build directory.
	Workspace string `yaml:"workspace"`
	// StaleAfter is the age after which a workspace lock is considered abandoned.
	StaleAfter time.Duration `yaml:"stale_after"`
	// IconURL is written into every new index entry.
	IconURL string `yaml:"icon_url"`
	// PackageCommand is the packaging tool command line; the definition directory is appended.
	PackageCommand string `yaml:"package_command"`
	// DefinitionDir is the chart subdirectory of every package directory.
	DefinitionDir string `yaml:"definition_dir"`
	// ArchiveExt is the extension of artifacts produced by the packaging tool.
	ArchiveExt string `yaml:"archive_ext"`
	// BuildTimeout bounds one packaging tool invocation.
	BuildTimeout time.Duration `yaml:"build_timeout"`
	// FetchTimeout bounds the remote index download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

const (
	// DefaultWorkspace is the build directory relative to the working directory.
	DefaultWorkspace = ".build"

	// DefaultStaleAfter is the workspace lock staleness threshold.
	DefaultStaleAfter = 120 * time.Second

	// DefaultIconURL is the icon of every published chart.
	DefaultIconURL = "https://raw.githubusercontent.com/jenkins-x/jenkins-x-platform/d273e09/images/go.png"

	// DefaultPackageCommand packages a chart and updates its dependencies first.
	DefaultPackageCommand = "helm package -u"

	// DefaultDefinitionDir is the chart subdirectory inside each package directory.
	DefaultDefinitionDir = "helm-charts"

	// DefaultArchiveExt is the extension of packaged charts.
	DefaultArchiveExt = ".tgz"

	// DefaultBuildTimeout bounds a single packaging tool run.
	DefaultBuildTimeout = 10 * time.Minute

	// DefaultFetchTimeout bounds the remote index download.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultLogLevel is used when nothing else is configured.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the permission of settings files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errChartsDirRequired is returned when the charts directory is missing.
	errChartsDirRequired = errors.New("charts directory must be provided")
	// errURLBaseRequired is returned when the repository base URL is missing.
	errURLBaseRequired = errors.New("chart repository base URL must be provided")
	// errInvalidDuration is returned for non-positive durations.
	errInvalidDuration = errors.New("duration must be positive")
	// errWorkspaceRequired is returned when the workspace is empty.
	errWorkspaceRequired = errors.New("workspace must be provided")
	// errUnsafeWorkspace is returned for a workspace whose wipe would remove the charts.
	errUnsafeWorkspace = errors.New("workspace must not be a filesystem root or contain the charts directory")
	// errPackageCommandRequired is returned when the packaging command is empty.
	errPackageCommandRequired = errors.New("package command must be provided")
)

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Workspace:      DefaultWorkspace,
		StaleAfter:     DefaultStaleAfter,
		IconURL:        DefaultIconURL,
		PackageCommand: DefaultPackageCommand,
		DefinitionDir:  DefaultDefinitionDir,
		ArchiveExt:     DefaultArchiveExt,
		BuildTimeout:   DefaultBuildTimeout,
		FetchTimeout:   DefaultFetchTimeout,
		LogLevel:       DefaultLogLevel,
	}
}

// Load reads settings from the provided path without applying defaults.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return &cfg, nil
}

// Resolve merges the layers: values set in overrides win, then the settings
// file at path (skipped when path is empty), then Default. The result is validated.
func Resolve(path string, overrides *Config) (*Config, error) {
	resolved := new(Config)
	if overrides != nil {
		*resolved = *overrides
	}

	if path != "" {
		fromFile, err := Load(path)
		if err != nil {
			return nil, err
		}

		if err = mergo.Merge(resolved, fromFile); err != nil {
			return nil, fmt.Errorf("merge settings file: %w", err)
		}
	}

	if err := mergo.Merge(resolved, Default()); err != nil {
		return nil, fmt.Errorf("merge default settings: %w", err)
	}

	if err := Validate(resolved); err != nil {
		return nil, err
	}

	return resolved, nil
}

// Save writes settings to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate checks required fields and formats.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.ChartsDir == "" {
		return errChartsDirRequired
	}

	if cfg.URLBase == "" {
		return errURLBaseRequired
	}

	if _, err := url.ParseRequestURI(cfg.URLBase); err != nil {
		return fmt.Errorf("invalid chart repository base URL: %w", err)
	}

	if err := validateWorkspace(cfg.Workspace, cfg.ChartsDir); err != nil {
		return err
	}

	durations := map[string]time.Duration{
		"stale_after":   cfg.StaleAfter,
		"build_timeout": cfg.BuildTimeout,
		"fetch_timeout": cfg.FetchTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s: %w", name, errInvalidDuration)
		}
	}

	if _, err := cfg.PackageArgs(); err != nil {
		return err
	}

	return nil
}

// validateWorkspace rejects workspaces that are wiped together with the charts.
func validateWorkspace(workspace, chartsDir string) error {
	if strings.TrimSpace(workspace) == "" {
		return errWorkspaceRequired
	}

	ws, err := filepath.Abs(workspace)
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	charts, err := filepath.Abs(chartsDir)
	if err != nil {
		return fmt.Errorf("resolve charts directory: %w", err)
	}

	if filepath.Dir(ws) == ws {
		return fmt.Errorf("%w: %s", errUnsafeWorkspace, workspace)
	}

	rel, err := filepath.Rel(ws, charts)
	if err != nil {
		// Different volumes cannot contain each other.
		return nil //nolint:nilerr // Unrelated paths are safe.
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}

	return fmt.Errorf("%w: %s holds %s", errUnsafeWorkspace, workspace, chartsDir)
}

// PackageArgs splits PackageCommand into program and arguments.
func (c *Config) PackageArgs() ([]string, error) {
	args, err := shlex.Split(c.PackageCommand)
	if err != nil {
		return nil, fmt.Errorf("parse package command: %w", err)
	}

	if len(args) == 0 {
		return nil, errPackageCommandRequired
	}

	return args, nil
}
