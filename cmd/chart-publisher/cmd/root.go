package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/chart-publisher/internal/service/publisher"
	"github.com/oshokin/chart-publisher/internal/version"
)

var (
	// configPath to the optional configuration YAML file.
	configPath string
	// remote is the git repository whose tags mark releases.
	remote string
	// workspaceDir is the locked build directory.
	workspaceDir string
	// logLevel overrides the configured log level.
	logLevel string
	// buildTimeout bounds one packaging tool run.
	buildTimeout time.Duration

	// rootCmd represents the base command for publishing charts.
	rootCmd = &cobra.Command{
		Use:   "chart-publisher [charts-dir] [url-base]",
		Short: "Build tagged Helm charts and merge them into the repository index",
		Long: "Compares the chart versions declared under charts-dir with the latest release tags, " +
			"packages every chart that needs a release into the workspace and writes the index " +
			"merged with the one published at url-base.",
		Args:         cobra.ExactArgs(2),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &publisher.Options{
				ConfigPath:   configPath,
				ChartsDir:    args[0],
				URLBase:      args[1],
				Remote:       remote,
				Workspace:    workspaceDir,
				LogLevel:     logLevel,
				BuildTimeout: buildTimeout,
			}

			return publisher.Run(ctx, options)
		},
	}
)

// Execute runs the chart-publisher CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "path to configuration file")
	flags.StringVarP(&remote, "remote", "r", "", "git repository URL with release tags (default: origin of the charts repository)")
	flags.StringVarP(&workspaceDir, "workspace", "w", "", "build directory (default: .build)")
	flags.StringVarP(&logLevel, "log-level", "l", "", "log level: debug, info, warn or error")
	flags.DurationVar(&buildTimeout, "build-timeout", 0, "timeout of one packaging tool run (default: 10m)")
}
