// Package advisory files draft repository security advisories for EOL
// findings, at most once per finding.
//
// Each advisory summary starts with a fingerprint of the finding. Before
// creating an advisory the existing ones are scanned for that prefix, so no
// local state is needed to stay idempotent across runs.
package advisory

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	githubclient "github.com/nethserver/nh-sbom/internal/clients/github"

	gogithub "github.com/google/go-github/v82/github"
)

const (
	DefaultSeverity = "low"
	Ecosystem       = "other"
)

type API interface {
	SecurityAdvisories(ctx context.Context, owner, repo string) ([]*gogithub.SecurityAdvisory, error)
	CreateSecurityAdvisory(ctx context.Context, owner, repo string, body githubclient.AdvisoryRequest) (*gogithub.SecurityAdvisory, error)
}

type Outcome int

const (
	Published Outcome = iota
	AlreadyExists
	Failed
	// SkippedUnknown means the existing advisories could not be listed and
	// the publisher is configured to fail closed.
	SkippedUnknown
)

func (o Outcome) String() string {
	switch o {
	case Published:
		return "published"
	case AlreadyExists:
		return "already-exists"
	case Failed:
		return "failed"
	case SkippedUnknown:
		return "skipped-unknown"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

type DuplicateStatus int

const (
	NotDuplicate DuplicateStatus = iota
	Duplicate
	DuplicateUnknown
)

type Policy int

const (
	// FailOpen creates the advisory when the duplicate check cannot run.
	// An outage of the listing endpoint can then produce duplicates.
	FailOpen Policy = iota
	FailClosed
)

type Result struct {
	Outcome     Outcome
	Fingerprint string
	Duplicate   DuplicateStatus
	Advisory    *gogithub.SecurityAdvisory
	Err         error
}

type Finding struct {
	Repository string
	SBOM       string
	Component  string
	Version    string
}

// Fingerprint hashes the four fields in order; equal inputs always give the
// same hex string.
func Fingerprint(repository, sbom, component, version string) string {
	sum := md5.Sum([]byte(repository + ":" + sbom + ":" + component + ":" + version))
	return hex.EncodeToString(sum[:])
}

func (f Finding) Fingerprint() string {
	return Fingerprint(f.Repository, f.SBOM, f.Component, f.Version)
}

func (f Finding) Summary(fingerprint string) string {
	return fmt.Sprintf("%s: EOL for %s, %s-%s", fingerprint, f.Repository, f.Component, f.Version)
}

func (f Finding) Description(fingerprint string) string {
	return fmt.Sprintf("Advisory ID: **%s**\nThe component **%s-%s** is EOL.\nSBOM: **%s** inside **%s**.",
		fingerprint, f.Component, f.Version, f.SBOM, f.Repository)
}

type Publisher struct {
	api    API
	owner  string
	repo   string
	policy Policy
	logger *slog.Logger
}

// NewPublisher targets the advisories of owner/repo.
func NewPublisher(api API, owner, repo string, policy Policy, logger *slog.Logger) *Publisher {
	return &Publisher{api: api, owner: owner, repo: repo, policy: policy, logger: logger}
}

func (p *Publisher) ExistingAdvisories(ctx context.Context) ([]*gogithub.SecurityAdvisory, error) {
	return p.api.SecurityAdvisories(ctx, p.owner, p.repo)
}

func (p *Publisher) CheckDuplicate(ctx context.Context, fingerprint string) DuplicateStatus {
	existing, err := p.ExistingAdvisories(ctx)
	if err != nil {
		p.logger.Error("failed to retrieve existing advisories", "repo", p.owner+"/"+p.repo, "err", err)
		return DuplicateUnknown
	}
	for _, a := range existing {
		if strings.HasPrefix(a.GetSummary(), fingerprint) {
			return Duplicate
		}
	}
	return NotDuplicate
}

func (p *Publisher) PublishIfAbsent(ctx context.Context, fingerprint, summary, description, severity string, pkg githubclient.AdvisoryVulnerability) Result {
	res := Result{Fingerprint: fingerprint}
	res.Duplicate = p.CheckDuplicate(ctx, fingerprint)
	switch res.Duplicate {
	case Duplicate:
		p.logger.Info("advisory already exists, skipping creation", "fingerprint", fingerprint)
		res.Outcome = AlreadyExists
		return res
	case DuplicateUnknown:
		if p.policy == FailClosed {
			p.logger.Warn("duplicate status unknown, not creating advisory", "fingerprint", fingerprint)
			res.Outcome = SkippedUnknown
			return res
		}
		p.logger.Warn("duplicate status unknown, creating advisory anyway", "fingerprint", fingerprint)
	}

	created, err := p.api.CreateSecurityAdvisory(ctx, p.owner, p.repo, githubclient.AdvisoryRequest{
		Summary:         summary,
		Description:     description,
		Severity:        severity,
		Vulnerabilities: []githubclient.AdvisoryVulnerability{pkg},
	})
	if err != nil {
		p.logger.Error("failed to create draft security advisory", "fingerprint", fingerprint, "err", err)
		res.Outcome = Failed
		res.Err = err
		return res
	}
	res.Outcome = Published
	res.Advisory = created
	return res
}

// Publish files the advisory for f unless one already exists.
func (p *Publisher) Publish(ctx context.Context, f Finding) Result {
	fp := f.Fingerprint()
	res := p.PublishIfAbsent(ctx, fp, f.Summary(fp), f.Description(fp), DefaultSeverity, githubclient.AdvisoryVulnerability{
		Package:                githubclient.AdvisoryPackage{Name: f.Component, Ecosystem: Ecosystem},
		VulnerableVersionRange: f.Version,
	})
	if res.Outcome == Published {
		p.logger.Info("draft security advisory created", "repo", f.Repository, "component", f.Component, "version", f.Version, "ghsa", res.Advisory.GetGHSAID())
	}
	return res
}
