// Package baseos files an issue when a trivy image report says the image's
// base distribution is past its end of support.
package baseos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/spf13/afero"
)

var ErrNoOSMetadata = errors.New("report has no Metadata.OS section")

type OS struct {
	Family string `json:"Family"`
	Name   string `json:"Name"`
	EOSL   bool   `json:"EOSL"`
}

// Report is the subset of a trivy JSON report used here.
type Report struct {
	ArtifactName string `json:"ArtifactName"`
	Metadata     struct {
		OS *OS `json:"OS"`
	} `json:"Metadata"`
}

func ReadReport(fs afero.Fs, path string) (Report, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return Report{}, fmt.Errorf("read trivy report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return Report{}, fmt.Errorf("parse trivy report %s: %w", path, err)
	}
	if r.Metadata.OS == nil {
		return Report{}, fmt.Errorf("%s: %w", path, ErrNoOSMetadata)
	}
	return r, nil
}

func (r Report) Distro() string {
	return r.Metadata.OS.Family + " " + r.Metadata.OS.Name
}

func (r Report) IssueTitle() string {
	return fmt.Sprintf("EOL base OS detected in %s: %s", r.ArtifactName, r.Distro())
}

func (r Report) IssueBody() string {
	return fmt.Sprintf("The image **%s** is based on **%s**, which has reached its end of support life (EOSL).\n\n"+
		"Update the base image to a supported release of %s.", r.ArtifactName, r.Distro(), r.Metadata.OS.Family)
}

type IssueAPI interface {
	CreateIssue(ctx context.Context, owner, repo, title, body string) (*gogithub.Issue, error)
}

// Check files an issue on owner/repo when the report's OS is EOSL. It
// reports whether an issue was created.
func Check(ctx context.Context, api IssueAPI, r Report, owner, repo string, logger *slog.Logger) (bool, error) {
	if !r.Metadata.OS.EOSL {
		logger.Info("base OS is supported", "artifact", r.ArtifactName, "os", r.Distro())
		return false, nil
	}
	issue, err := api.CreateIssue(ctx, owner, repo, r.IssueTitle(), r.IssueBody())
	if err != nil {
		return false, err
	}
	logger.Info("issue created for EOL base OS", "artifact", r.ArtifactName, "os", r.Distro(), "issue", issue.GetHTMLURL())
	return true, nil
}
