// Package uploader mirrors the latest release SBOMs of a set of GitHub
// repositories into Dependency-Track.
//
// The project tree is category -> repository -> asset. Category and
// repository projects aggregate their direct children; asset projects hold
// the uploaded BOMs. Repository project versions track the release tag, and
// a repository whose project is already at the latest tag is not uploaded
// again.
package uploader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nethserver/nh-sbom/internal/clients/dependencytrack"
	"github.com/nethserver/nh-sbom/internal/repolist"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

type GitHubAPI interface {
	LatestRelease(ctx context.Context, owner, repo string) (*gogithub.RepositoryRelease, error)
	DownloadAsset(ctx context.Context, downloadURL string, w io.Writer) error
}

type TrackerAPI interface {
	FindProject(ctx context.Context, name string) (*dependencytrack.Project, error)
	CreateProject(ctx context.Context, payload dependencytrack.ProjectRequest) (*dependencytrack.Project, error)
	UpdateProjectVersion(ctx context.Context, uuid, version string) error
	UploadBOM(ctx context.Context, projectUUID, filename string, bom io.Reader) (string, error)
}

type Options struct {
	// TempDir receives downloaded assets. Defaults to the OS temp dir.
	TempDir    string
	SBOMSuffix string
}

type Uploader struct {
	github  GitHubAPI
	tracker TrackerAPI
	fs      afero.Fs
	opts    Options
	logger  *slog.Logger
}

// Summary counts what a run did. Errors are logged as they happen and
// collected in Err; they never stop the run.
type Summary struct {
	Repositories int
	Synced       int
	UpToDate     int
	Uploaded     int
	Err          *multierror.Error
}

func New(github GitHubAPI, tracker TrackerAPI, fs afero.Fs, logger *slog.Logger, opts Options) *Uploader {
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	if opts.SBOMSuffix == "" {
		opts.SBOMSuffix = ".cdx.json"
	}
	return &Uploader{github: github, tracker: tracker, fs: fs, opts: opts, logger: logger}
}

// Run makes sure every category has a top level project, then syncs each of
// its repositories.
func (u *Uploader) Run(ctx context.Context, categories []repolist.Category) Summary {
	var s Summary
	for _, c := range categories {
		if _, _, err := u.FindOrCreateProject(ctx, c.Name, "", "", true); err != nil {
			u.logger.Error("failed to ensure category project", "project", c.Name, "err", err)
			s.Err = multierror.Append(s.Err, err)
		}
		for _, repoURL := range c.URLs {
			s.Repositories++
			res, err := u.SyncRepositoryProject(ctx, c.Name, repoURL)
			if err != nil {
				u.logger.Error("failed to sync repository", "repo", repoURL, "err", err)
				s.Err = multierror.Append(s.Err, err)
			}
			switch {
			case res.UpToDate:
				s.UpToDate++
			case res.Synced:
				s.Synced++
			}
			s.Uploaded += res.Uploaded
		}
	}
	return s
}

// FindOrCreateProject looks up a project by exact name and creates it under
// parentUUID when missing. It returns the project's UUID and its version as
// stored before this call.
func (u *Uploader) FindOrCreateProject(ctx context.Context, name, parentUUID, version string, hasChildren bool) (uuid, priorVersion string, err error) {
	existing, err := u.tracker.FindProject(ctx, name)
	if err != nil {
		return "", "", err
	}
	if existing != nil {
		return existing.UUID, existing.Version, nil
	}

	created, err := u.tracker.CreateProject(ctx, newProjectRequest(name, parentUUID, version, hasChildren))
	if err != nil {
		return "", "", err
	}
	u.logger.Debug("project created", "project", name, "uuid", created.UUID, "parent", parentUUID)
	return created.UUID, "", nil
}

func newProjectRequest(name, parentUUID, version string, hasChildren bool) dependencytrack.ProjectRequest {
	req := dependencytrack.ProjectRequest{
		Name:        name,
		AccessTeams: []any{},
		Tags:        []dependencytrack.Tag{{Name: name}},
		Active:      true,
	}
	if version != "" {
		req.Version = &version
	}
	if hasChildren {
		logic := dependencytrack.CollectionAggregateDirectChildren
		req.CollectionLogic = &logic
	}
	if parentUUID != "" {
		req.Parent = &dependencytrack.ParentRef{UUID: parentUUID}
	}
	return req
}

type SyncResult struct {
	Skipped  bool
	UpToDate bool
	Synced   bool
	Uploaded int
}

// SyncRepositoryProject brings the project of one repository in line with
// its latest release. Non GitHub URLs and repositories without releases are
// skipped.
func (u *Uploader) SyncRepositoryProject(ctx context.Context, parentProject, repoURL string) (SyncResult, error) {
	owner, repoName, ok := ParseGitHubURL(repoURL)
	if !ok {
		return SyncResult{Skipped: true}, nil
	}
	logger := u.logger.With("repo", owner+"/"+repoName)

	release, err := u.github.LatestRelease(ctx, owner, repoName)
	if err != nil || release.GetTagName() == "" {
		logger.Warn("no releases found for repository", "err", err)
		return SyncResult{Skipped: true}, nil
	}
	version := release.GetTagName()
	logger.Info("processing repository", "version", version)

	existing, err := u.tracker.FindProject(ctx, repoName)
	if err != nil {
		return SyncResult{}, err
	}

	var projectUUID string
	switch {
	case existing == nil:
		parentUUID := ""
		parent, err := u.tracker.FindProject(ctx, parentProject)
		if err != nil {
			return SyncResult{}, err
		}
		if parent != nil {
			parentUUID = parent.UUID
		}
		created, err := u.tracker.CreateProject(ctx, newProjectRequest(repoName, parentUUID, version, true))
		if err != nil {
			return SyncResult{}, err
		}
		projectUUID = created.UUID
	case existing.Version != version:
		logger.Info("updating project version", "from", existing.Version, "to", version)
		if err := u.tracker.UpdateProjectVersion(ctx, existing.UUID, version); err != nil {
			logger.Warn("failed to update project version", "err", err)
		}
		projectUUID = existing.UUID
	default:
		logger.Info("project version is already up to date", "version", version)
		return SyncResult{UpToDate: true}, nil
	}

	res := SyncResult{Synced: true}
	var errs *multierror.Error
	for _, asset := range release.Assets {
		if asset == nil || !strings.HasSuffix(asset.GetName(), u.opts.SBOMSuffix) {
			continue
		}
		logger.Info("processing asset", "asset", asset.GetName())
		if err := u.ProcessAsset(ctx, asset, repoName, projectUUID); err != nil {
			logger.Error("failed to process asset", "asset", asset.GetName(), "err", err)
			errs = multierror.Append(errs, err)
			continue
		}
		res.Uploaded++
	}
	return res, errs.ErrorOrNil()
}

// ProcessAsset downloads one SBOM asset to a temporary file and uploads it to
// its own project under parentUUID. The temporary file is always removed.
func (u *Uploader) ProcessAsset(ctx context.Context, asset *gogithub.ReleaseAsset, repoName, parentUUID string) error {
	assetName := asset.GetName()
	f, err := afero.TempFile(u.fs, u.opts.TempDir, "*-"+assetName)
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", assetName, err)
	}
	defer func() {
		f.Close()
		if err := u.fs.Remove(f.Name()); err != nil {
			u.logger.Warn("failed to remove temp file", "path", f.Name(), "err", err)
		}
	}()

	if err := u.github.DownloadAsset(ctx, asset.GetBrowserDownloadURL(), f); err != nil {
		return fmt.Errorf("download %s: %w", assetName, err)
	}

	projectName := RepoProjectName(assetName, repoName)
	version := VersionFromAsset(assetName)
	u.logger.Debug("asset project", "asset", assetName, "project", projectName, "version", version, "parent", parentUUID)

	projectUUID, _, err := u.FindOrCreateProject(ctx, projectName, parentUUID, version, false)
	if err != nil {
		return err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	token, err := u.tracker.UploadBOM(ctx, projectUUID, assetName, f)
	if err != nil {
		return fmt.Errorf("upload %s to %s: %w", assetName, projectName, err)
	}
	u.logger.Debug("uploaded SBOM", "asset", assetName, "project", projectName, "token", token)
	return nil
}
