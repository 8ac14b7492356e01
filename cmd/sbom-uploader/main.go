package main

import (
	"context"
	"os"

	"github.com/nethserver/nh-sbom/internal/clients/dependencytrack"
	githubclient "github.com/nethserver/nh-sbom/internal/clients/github"
	"github.com/nethserver/nh-sbom/internal/config"
	"github.com/nethserver/nh-sbom/internal/logging"
	"github.com/nethserver/nh-sbom/internal/repolist"
	"github.com/nethserver/nh-sbom/internal/uploader"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sbom-uploader --repos-file <path>",
		Short: "Upload the latest release SBOMs of each repository to Dependency-Track",
		Long: `Upload the latest release SBOMs of each repository to Dependency-Track.

DEPENDECY_TRACK_TOKEN and GITHUB_TOKEN must be set. The Dependency-Track key
needs BOM_UPLOAD, PORTFOLIO_MANAGEMENT, PROJECT_CREATION_UPLOAD and
VIEW_PORTFOLIO.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.NoArgs(cmd, args); err != nil {
				return printError(cmd, err)
			}
			return nil
		},
		RunE: run,
	}
	cmd.SetFlagErrorFunc(printError)
	registerFlags(cmd.Flags())
	return cmd
}

func registerFlags(flags *pflag.FlagSet) {
	flags.String("repos-file", "", "Repositories JSON file")
	flags.String("dependency-track-api-url", config.DefaultDependencyTrackURL, "Dependency Track API URL, e.g. http://dt.example.com:8081/api/v1")
	flags.String("log-level", "WARNING", "Logging level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
}

// printError reports errors raised before the logger exists. Everything
// after that is logged where it happens.
func printError(cmd *cobra.Command, err error) error {
	cmd.PrintErrln("Error:", err)
	return err
}

func run(cmd *cobra.Command, _ []string) error {
	v := config.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return printError(cmd, err)
	}
	logger := logging.Init(v.GetString("log-level"))

	cfg, err := config.LoadUploader(v)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	client, err := githubclient.New(ctx, cfg.GitHub.Token, githubclient.Options{
		MaxRetries: cfg.GitHub.MaxRetries,
		BaseURL:    cfg.GitHub.APIURL,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create github client", "err", err)
		return err
	}
	tracker := dependencytrack.New(cfg.DependencyTrackURL, cfg.DependencyTrackKey, cfg.PageSize, nil)

	fs := afero.NewOsFs()
	categories, err := repolist.Read(fs, cfg.ReposFile)
	if err != nil {
		logger.Error("failed to read repositories file", "err", err)
		return err
	}

	summary := uploader.New(client, tracker, fs, logger, uploader.Options{}).Run(ctx, categories)
	logger.Info("upload complete",
		"repositories", summary.Repositories,
		"synced", summary.Synced,
		"up_to_date", summary.UpToDate,
		"uploaded", summary.Uploaded,
		"errors", summary.Err.Len(),
	)
	return nil
}
