package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/nethserver/nh-sbom/internal/advisory"
	"github.com/nethserver/nh-sbom/internal/baseos"
	"github.com/nethserver/nh-sbom/internal/clients/endoflife"
	githubclient "github.com/nethserver/nh-sbom/internal/clients/github"
	"github.com/nethserver/nh-sbom/internal/config"
	"github.com/nethserver/nh-sbom/internal/eol"
	"github.com/nethserver/nh-sbom/internal/logging"
	"github.com/nethserver/nh-sbom/internal/orchestrator"
	"github.com/nethserver/nh-sbom/internal/report"

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
		Use:   "eol-finder <repositories.json> | <trivy_report.json> <repo_owner> <repo_name>",
		Short: "File advisories for end-of-life components found in release SBOMs",
		Long: `With one argument, check the latest release SBOMs of every repository in the
repositories file against endoflife.date and file a draft security advisory
for each EOL component not reported yet.

With three arguments, read a trivy image report and open an issue on
repo_owner/repo_name when the image's base OS has reached end of support.

GITHUB_TOKEN must be set.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 && len(args) != 3 {
				return printError(cmd, fmt.Errorf("expected 1 or 3 arguments, got %d", len(args)))
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
	flags.String("log-level", "info", "Logging level (DEBUG, INFO, WARNING, ERROR, CRITICAL)")
	flags.String("report-csv", "", "Write the EOL findings of the run to this CSV file")
}

// printError reports errors raised before the logger exists. Everything
// after that is logged where it happens.
func printError(cmd *cobra.Command, err error) error {
	cmd.PrintErrln("Error:", err)
	return err
}

func run(cmd *cobra.Command, args []string) error {
	v := config.New()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return printError(cmd, err)
	}
	logger := logging.Init(v.GetString("log-level"))
	if path := v.GetString("report-csv"); path != "" {
		v.Set("report_csv", path)
	}

	cfg, err := config.LoadEOLFinder(v)
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

	fs := afero.NewOsFs()
	if len(args) == 3 {
		return runBaseOS(ctx, logger, fs, client, args[0], args[1], args[2])
	}

	cache, err := eol.NewCache(cfg.CacheSize)
	if err != nil {
		logger.Error("invalid eol cache size", "size", cfg.CacheSize, "err", err)
		return err
	}
	oracle := eol.New(endoflife.New(cfg.EndOfLifeURL, nil), cache, logger)
	policy := advisory.FailOpen
	if cfg.FailClosed {
		policy = advisory.FailClosed
	}
	publisher := advisory.NewPublisher(client, cfg.AdvisoryOwner, cfg.AdvisoryRepo, policy, logger)
	runner := orchestrator.NewRunner(cfg, fs, client, oracle, publisher, report.NewExporter(fs), logger)

	err = runner.Run(ctx, args[0])
	hits, misses := cache.Stats()
	logger.Debug("eol cache", "hits", hits, "misses", misses)
	if err != nil {
		logger.Error("eol check failed", "err", err)
	}
	return err
}

func runBaseOS(ctx context.Context, logger *slog.Logger, fs afero.Fs, client *githubclient.Client, reportPath, owner, repo string) error {
	r, err := baseos.ReadReport(fs, reportPath)
	if err != nil {
		logger.Error("failed to read trivy report", "err", err)
		return err
	}
	if _, err := baseos.Check(ctx, client, r, owner, repo, logger); err != nil {
		logger.Error("failed to create issue", "repo", owner+"/"+repo, "err", err)
		return err
	}
	return nil
}
