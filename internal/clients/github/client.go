package githubclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nethserver/nh-sbom/internal/clients/rest"

	gogithub "github.com/google/go-github/v82/github"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
)

type retryRoundTripper struct {
	transport  http.RoundTripper
	maxRetries int
	baseDelay  time.Duration
	logger     *slog.Logger
}

type Options struct {
	// MaxRetries applies to 5xx responses and transport errors. Zero means a
	// single attempt.
	MaxRetries int
	BaseDelay  time.Duration
	// BaseURL overrides the REST endpoint, e.g. for GitHub Enterprise.
	BaseURL string
	// Downloader fetches release assets. Defaults to a cleanhttp client.
	Downloader *http.Client
	Logger     *slog.Logger
}

func (r *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		resp, err = r.transport.RoundTrip(req)
		if err != nil {
			if attempt < r.maxRetries {
				if sleepErr := sleepWithContext(req.Context(), retryDelay(r.baseDelay, attempt)); sleepErr != nil {
					return nil, sleepErr
				}
				continue
			}
			return nil, err
		}

		if isRateLimitResponse(resp) {
			// go-github turns this into a RateLimitError; waiting here would stall the run.
			return resp, nil
		}

		canReplay := req.Body == nil || req.GetBody != nil
		if retryableStatus(resp) && canReplay && attempt < r.maxRetries {
			resp.Body.Close()
			delay := retryDelay(r.baseDelay, attempt)
			r.logger.Debug("retrying request", "attempt", attempt+1, "max", r.maxRetries, "delay", delay, "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode)
			if sleepErr := sleepWithContext(req.Context(), delay); sleepErr != nil {
				return nil, sleepErr
			}
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				req.Body = body
			}
			continue
		}

		return resp, nil
	}

	return resp, err
}

type Client struct {
	raw        *gogithub.Client
	downloader *http.Client
	logger     *slog.Logger
}

func New(ctx context.Context, token string, opts Options) (*Client, error) {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 1 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Downloader == nil {
		opts.Downloader = cleanhttp.DefaultPooledClient()
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, cleanhttp.DefaultPooledClient())
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(ctx, ts)
	if opts.MaxRetries > 0 {
		httpClient = &http.Client{
			Transport: &retryRoundTripper{
				transport:  httpClient.Transport,
				maxRetries: opts.MaxRetries,
				baseDelay:  opts.BaseDelay,
				logger:     opts.Logger,
			},
			Timeout: httpClient.Timeout,
		}
	}

	raw := gogithub.NewClient(httpClient)
	if opts.BaseURL != "" {
		base := opts.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url %q: %w", opts.BaseURL, err)
		}
		raw.BaseURL = u
	}

	return &Client{
		raw:        raw,
		downloader: opts.Downloader,
		logger:     opts.Logger,
	}, nil
}

// LatestRelease returns the latest published release of owner/repo.
func (c *Client) LatestRelease(ctx context.Context, owner, repo string) (*gogithub.RepositoryRelease, error) {
	release, _, err := c.raw.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("latest release %s/%s: %w", owner, repo, err)
	}
	return release, nil
}

// DownloadAsset streams the asset at downloadURL into w.
func (c *Client) DownloadAsset(ctx context.Context, downloadURL string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/octet-stream")
	resp, err := rest.Do(c.downloader, req, http.StatusOK)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

type Asset struct {
	Name    string
	Content []byte
}

// MatchingAssets selects the release assets whose name satisfies match and
// downloads them in release order. Failed downloads are logged and omitted.
func (c *Client) MatchingAssets(ctx context.Context, release *gogithub.RepositoryRelease, match func(name string) bool) []Asset {
	out := make([]Asset, 0)
	for _, asset := range release.Assets {
		if asset == nil || !match(asset.GetName()) {
			continue
		}
		var buf bytes.Buffer
		if err := c.DownloadAsset(ctx, asset.GetBrowserDownloadURL(), &buf); err != nil {
			c.logger.Warn("failed to download asset", "asset", asset.GetName(), "err", err)
			continue
		}
		out = append(out, Asset{Name: asset.GetName(), Content: buf.Bytes()})
	}
	return out
}

// SecurityAdvisories lists every repository security advisory of owner/repo,
// following cursor pagination.
func (c *Client) SecurityAdvisories(ctx context.Context, owner, repo string) ([]*gogithub.SecurityAdvisory, error) {
	all := make([]*gogithub.SecurityAdvisory, 0)
	after := ""
	for {
		opts := &gogithub.ListRepositorySecurityAdvisoriesOptions{
			ListCursorOptions: gogithub.ListCursorOptions{PerPage: 100, After: after},
		}
		advisories, resp, err := c.raw.SecurityAdvisories.ListRepositorySecurityAdvisories(ctx, owner, repo, opts)
		if err != nil {
			return nil, fmt.Errorf("list security advisories %s/%s (after=%q): %w", owner, repo, after, err)
		}
		all = append(all, advisories...)
		if resp.After == "" || len(advisories) == 0 {
			break
		}
		after = resp.After
	}
	return all, nil
}

type AdvisoryPackage struct {
	Name      string `json:"name"`
	Ecosystem string `json:"ecosystem"`
}

type AdvisoryVulnerability struct {
	Package                AdvisoryPackage `json:"package"`
	VulnerableVersionRange string          `json:"vulnerable_version_range,omitempty"`
}

type AdvisoryRequest struct {
	Summary         string                  `json:"summary"`
	Description     string                  `json:"description"`
	Severity        string                  `json:"severity,omitempty"`
	Vulnerabilities []AdvisoryVulnerability `json:"vulnerabilities"`
}

// CreateSecurityAdvisory files a draft repository advisory. Only a 201
// response counts as created.
func (c *Client) CreateSecurityAdvisory(ctx context.Context, owner, repo string, body AdvisoryRequest) (*gogithub.SecurityAdvisory, error) {
	req, err := c.raw.NewRequest(http.MethodPost, fmt.Sprintf("repos/%v/%v/security-advisories", owner, repo), body)
	if err != nil {
		return nil, err
	}
	advisory := new(gogithub.SecurityAdvisory)
	resp, err := c.raw.Do(ctx, req, advisory)
	if err != nil {
		return nil, fmt.Errorf("create security advisory %s/%s: %w", owner, repo, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create security advisory %s/%s: unexpected status %d", owner, repo, resp.StatusCode)
	}
	return advisory, nil
}

func (c *Client) CreateIssue(ctx context.Context, owner, repo, title, body string) (*gogithub.Issue, error) {
	issue, resp, err := c.raw.Issues.Create(ctx, owner, repo, &gogithub.IssueRequest{
		Title: &title,
		Body:  &body,
	})
	if err != nil {
		return nil, fmt.Errorf("create issue %s/%s: %w", owner, repo, err)
	}
	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create issue %s/%s: unexpected status %d", owner, repo, resp.StatusCode)
	}
	return issue, nil
}

func retryableStatus(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode >= 500
}

func isRateLimitResponse(resp *http.Response) bool {
	if resp == nil {
		return false
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode != http.StatusForbidden {
		return false
	}
	if resp.Header.Get("Retry-After") != "" {
		return true
	}
	return resp.Header.Get("X-RateLimit-Remaining") == "0"
}

func retryDelay(baseDelay time.Duration, attempt int) time.Duration {
	return baseDelay * time.Duration(1<<attempt)
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
