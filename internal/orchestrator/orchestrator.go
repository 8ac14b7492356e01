package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nethserver/nh-sbom/internal/advisory"
	githubclient "github.com/nethserver/nh-sbom/internal/clients/github"
	"github.com/nethserver/nh-sbom/internal/config"
	"github.com/nethserver/nh-sbom/internal/eol"
	"github.com/nethserver/nh-sbom/internal/repolist"
	"github.com/nethserver/nh-sbom/internal/report"
	"github.com/nethserver/nh-sbom/internal/sbom"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/hashicorp/go-multierror"
	"github.com/scylladb/go-set/strset"
	"github.com/spf13/afero"
)

var ErrRunFailed = errors.New("eol check completed with failures")

type ReleaseSource interface {
	LatestRelease(ctx context.Context, owner, repo string) (*gogithub.RepositoryRelease, error)
	MatchingAssets(ctx context.Context, release *gogithub.RepositoryRelease, match func(name string) bool) []githubclient.Asset
}

type Runner struct {
	cfg       config.EOLFinder
	fs        afero.Fs
	releases  ReleaseSource
	oracle    *eol.Oracle
	publisher *advisory.Publisher
	exporter  *report.Exporter
	logger    *slog.Logger
}

type runState struct {
	catalog  *strset.Set
	repos    []repolist.Ref
	findings []report.Row
	failures Failures
}

func NewRunner(cfg config.EOLFinder, fs afero.Fs, releases ReleaseSource, oracle *eol.Oracle, publisher *advisory.Publisher, exporter *report.Exporter, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		fs:        fs,
		releases:  releases,
		oracle:    oracle,
		publisher: publisher,
		exporter:  exporter,
		logger:    logger,
	}
}

// Run checks every repository listed in reposFile. It returns an error
// wrapping ErrRunFailed when any advisory could not be filed.
func (r *Runner) Run(ctx context.Context, reposFile string) error {
	state := &runState{}

	if err := r.bootstrap(ctx, state); err != nil {
		return err
	}
	if err := r.loadRepos(reposFile, state); err != nil {
		return err
	}
	for _, repo := range state.repos {
		r.checkRepository(ctx, state, repo)
	}
	if err := r.exportReport(state); err != nil {
		state.failures.Record("export findings report", err)
	}
	return r.finalize(state)
}

func (r *Runner) bootstrap(ctx context.Context, state *runState) error {
	catalog, err := r.oracle.Catalog(ctx)
	if err != nil {
		return err
	}
	state.catalog = catalog
	return nil
}

func (r *Runner) loadRepos(reposFile string, state *runState) error {
	repos, err := repolist.Load(r.fs, reposFile, r.logger)
	if err != nil {
		return err
	}
	state.repos = repos
	r.logger.Info("loaded repositories", "count", len(repos))
	return nil
}

func (r *Runner) checkRepository(ctx context.Context, state *runState, repo repolist.Ref) {
	if repo.Owner == "" || repo.Name == "" {
		return
	}
	started := time.Now()
	r.logger.Info("checking repository", "repo", repo.FullName(), "category", repo.Category)

	release, err := r.releases.LatestRelease(ctx, repo.Owner, repo.Name)
	if err != nil {
		r.logger.Warn("failed to fetch latest release", "repo", repo.FullName(), "err", err)
		return
	}

	files := r.releases.MatchingAssets(ctx, release, func(name string) bool {
		return strings.HasSuffix(name, r.cfg.SBOMSuffix)
	})
	if len(files) == 0 {
		r.logger.Warn("no SBOM files found in the latest release", "repo", repo.FullName(), "tag", release.GetTagName())
		return
	}

	for _, file := range files {
		for _, comp := range sbom.Extract(file.Content, state.catalog, r.logger) {
			r.checkComponent(ctx, state, repo, file.Name, comp)
		}
	}
	r.logger.Debug("repository checked", "repo", repo.FullName(), "elapsed", time.Since(started))
}

func (r *Runner) checkComponent(ctx context.Context, state *runState, repo repolist.Ref, sbomName string, comp sbom.Component) {
	cycles, err := r.oracle.CycleMetadata(ctx, comp.Name)
	if err != nil {
		r.logger.Warn("failed to fetch eol metadata", "component", comp.Name, "err", err)
		return
	}
	if !r.oracle.IsEndOfLife(cycles, comp.Cycle) {
		return
	}

	finding := advisory.Finding{
		Repository: repo.FullName(),
		SBOM:       sbomName,
		Component:  comp.Name,
		Version:    comp.Version,
	}
	r.logger.Info("component is EOL", "repo", finding.Repository, "sbom", sbomName, "component", comp.Name, "version", comp.Version)

	res := r.publisher.Publish(ctx, finding)
	switch res.Outcome {
	case advisory.Failed:
		state.failures.Record(fmt.Sprintf("advisory for %s %s-%s", finding.Repository, comp.Name, comp.Version), res.Err)
	case advisory.SkippedUnknown:
		state.failures.Record(fmt.Sprintf("advisory for %s %s-%s", finding.Repository, comp.Name, comp.Version), errors.New("duplicate status unknown"))
	}
	state.findings = append(state.findings, report.Row{
		Repository:  finding.Repository,
		SBOM:        sbomName,
		Component:   comp.Name,
		Version:     comp.Version,
		Cycle:       comp.Cycle,
		Fingerprint: res.Fingerprint,
		Outcome:     res.Outcome.String(),
	})
}

func (r *Runner) exportReport(state *runState) error {
	if r.cfg.ReportCSVPath == "" || r.exporter == nil {
		return nil
	}
	if err := r.exporter.ExportCSV(r.cfg.ReportCSVPath, state.findings); err != nil {
		return fmt.Errorf("failed to export csv report: %w", err)
	}
	r.logger.Info("findings report written", "path", r.cfg.ReportCSVPath, "rows", len(state.findings))
	return nil
}

func (r *Runner) finalize(state *runState) error {
	r.logger.Info("run complete", "repositories", len(state.repos), "eol_findings", len(state.findings), "failures", state.failures.Len())
	if state.failures.HasFailures() {
		return fmt.Errorf("%w: %w", ErrRunFailed, state.failures.Err())
	}
	return nil
}

// Failures collects the errors of a run. Any single failure fails the run.
type Failures struct {
	err *multierror.Error
}

func (f *Failures) Record(msg string, err error) {
	f.err = multierror.Append(f.err, fmt.Errorf("%s: %w", msg, err))
}

func (f *Failures) HasFailures() bool {
	return f.err.ErrorOrNil() != nil
}

func (f *Failures) Len() int {
	return f.err.Len()
}

func (f *Failures) Err() error {
	return f.err.ErrorOrNil()
}
