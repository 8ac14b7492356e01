package advisory

import (
	"context"
	"errors"
	"testing"

	githubclient "github.com/nethserver/nh-sbom/internal/clients/github"
	"github.com/nethserver/nh-sbom/internal/logging"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	existing  []*gogithub.SecurityAdvisory
	listErr   error
	createErr error
	created   []githubclient.AdvisoryRequest
}

func (f *fakeAPI) SecurityAdvisories(context.Context, string, string) ([]*gogithub.SecurityAdvisory, error) {
	return f.existing, f.listErr
}

func (f *fakeAPI) CreateSecurityAdvisory(_ context.Context, _, _ string, body githubclient.AdvisoryRequest) (*gogithub.SecurityAdvisory, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, body)
	summary := body.Summary
	f.existing = append(f.existing, &gogithub.SecurityAdvisory{Summary: &summary})
	return &gogithub.SecurityAdvisory{Summary: &summary}, nil
}

var finding = Finding{
	Repository: "NethServer/ns8-core",
	SBOM:       "sbom.cdx.json",
	Component:  "python",
	Version:    "3.7.1",
}

func TestFingerprint(t *testing.T) {
	fp := Fingerprint("NethServer/ns8-core", "sbom.cdx.json", "python", "3.7.1")
	assert.Len(t, fp, 32)
	assert.Equal(t, fp, finding.Fingerprint())
	assert.Equal(t, fp, Fingerprint("NethServer/ns8-core", "sbom.cdx.json", "python", "3.7.1"))

	assert.NotEqual(t, fp, Fingerprint("NethServer/ns8-core", "sbom.cdx.json", "python", "3.7.2"))
	assert.NotEqual(t, fp, Fingerprint("NethServer/ns8-mail", "sbom.cdx.json", "python", "3.7.1"))
	assert.NotEqual(t, fp, Fingerprint("NethServer/ns8-core", "ui.cdx.json", "python", "3.7.1"))
	assert.NotEqual(t, fp, Fingerprint("NethServer/ns8-core", "sbom.cdx.json", "nodejs", "3.7.1"))
	// order sensitive
	assert.NotEqual(t, Fingerprint("a", "b", "c", "d"), Fingerprint("b", "a", "c", "d"))
}

func TestFindingContent(t *testing.T) {
	fp := finding.Fingerprint()
	assert.Equal(t, fp+": EOL for NethServer/ns8-core, python-3.7.1", finding.Summary(fp))
	assert.Equal(t, "Advisory ID: **"+fp+"**\nThe component **python-3.7.1** is EOL.\nSBOM: **sbom.cdx.json** inside **NethServer/ns8-core**.", finding.Description(fp))
}

func TestPublishCreatesOnce(t *testing.T) {
	api := &fakeAPI{}
	p := NewPublisher(api, "NethServer", "nh-sbom", FailOpen, logging.Discard())

	res := p.Publish(context.Background(), finding)
	require.Equal(t, Published, res.Outcome)
	assert.Equal(t, NotDuplicate, res.Duplicate)
	require.Len(t, api.created, 1)
	body := api.created[0]
	assert.True(t, len(body.Summary) > 32 && body.Summary[:32] == finding.Fingerprint())
	assert.Equal(t, "low", body.Severity)
	assert.Equal(t, []githubclient.AdvisoryVulnerability{{
		Package:                githubclient.AdvisoryPackage{Name: "python", Ecosystem: "other"},
		VulnerableVersionRange: "3.7.1",
	}}, body.Vulnerabilities)

	res = p.Publish(context.Background(), finding)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assert.Len(t, api.created, 1)
}

func TestPublishSkipsExisting(t *testing.T) {
	summary := finding.Fingerprint() + ": EOL for something"
	other := "0123: unrelated"
	api := &fakeAPI{existing: []*gogithub.SecurityAdvisory{{Summary: &other}, {}, {Summary: &summary}}}
	p := NewPublisher(api, "o", "r", FailOpen, logging.Discard())

	res := p.Publish(context.Background(), finding)
	assert.Equal(t, AlreadyExists, res.Outcome)
	assert.Empty(t, api.created)
}

func TestPublishCreateFailure(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("422")}
	p := NewPublisher(api, "o", "r", FailOpen, logging.Discard())

	res := p.Publish(context.Background(), finding)
	assert.Equal(t, Failed, res.Outcome)
	assert.Error(t, res.Err)
}

func TestDuplicateUnknownPolicy(t *testing.T) {
	t.Run("fail open creates", func(t *testing.T) {
		api := &fakeAPI{listErr: errors.New("503")}
		res := NewPublisher(api, "o", "r", FailOpen, logging.Discard()).Publish(context.Background(), finding)
		assert.Equal(t, Published, res.Outcome)
		assert.Equal(t, DuplicateUnknown, res.Duplicate)
		assert.Len(t, api.created, 1)
	})

	t.Run("fail closed skips", func(t *testing.T) {
		api := &fakeAPI{listErr: errors.New("503")}
		res := NewPublisher(api, "o", "r", FailClosed, logging.Discard()).Publish(context.Background(), finding)
		assert.Equal(t, SkippedUnknown, res.Outcome)
		assert.Empty(t, api.created)
	})
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "published", Published.String())
	assert.Equal(t, "already-exists", AlreadyExists.String())
	assert.Equal(t, "failed", Failed.String())
	assert.Equal(t, "skipped-unknown", SkippedUnknown.String())
}
