// Package dependencytrack is a minimal client for the Dependency-Track REST
// API: project lookup, creation, version updates and BOM upload.
package dependencytrack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/nethserver/nh-sbom/internal/clients/rest"

	"github.com/hashicorp/go-cleanhttp"
)

// ErrNoToken is returned when a BOM upload response carries no processing token.
var ErrNoToken = errors.New("bom upload response has no token")

const CollectionAggregateDirectChildren = "AGGREGATE_DIRECT_CHILDREN"

type Tag struct {
	Name string `json:"name"`
}

type ParentRef struct {
	UUID string `json:"uuid"`
}

type Project struct {
	UUID            string     `json:"uuid"`
	Name            string     `json:"name"`
	Version         string     `json:"version,omitempty"`
	Parent          *ParentRef `json:"parent,omitempty"`
	CollectionLogic string     `json:"collectionLogic,omitempty"`
	Tags            []Tag      `json:"tags,omitempty"`
	Active          bool       `json:"active"`
}

type ProjectRequest struct {
	Name            string     `json:"name"`
	Version         *string    `json:"version"`
	Parent          *ParentRef `json:"parent,omitempty"`
	AccessTeams     []any      `json:"accessTeams"`
	CollectionLogic *string    `json:"collectionLogic"`
	CollectionTag   *string    `json:"collectionTag"`
	Tags            []Tag      `json:"tags"`
	Active          bool       `json:"active"`
	IsLatest        bool       `json:"isLatest"`
}

type Client struct {
	baseURL  string
	apiKey   string
	pageSize int
	http     *http.Client
}

func New(baseURL, apiKey string, pageSize int, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		pageSize: pageSize,
		http:     httpClient,
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Api-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Projects returns the first page of the portfolio. The page size is meant
// to cover the whole portfolio in one call.
func (c *Client) Projects(ctx context.Context) ([]Project, error) {
	q := url.Values{}
	q.Set("pageNumber", "1")
	q.Set("pageSize", strconv.Itoa(c.pageSize))
	req, err := c.newRequest(ctx, http.MethodGet, "/project?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var projects []Project
	if _, err := rest.DoJSON(c.http, req, &projects); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// FindProject returns the project named exactly name, or nil when there is none.
func (c *Client) FindProject(ctx context.Context, name string) (*Project, error) {
	projects, err := c.Projects(ctx)
	if err != nil {
		return nil, err
	}
	for i := range projects {
		if projects[i].Name == name {
			return &projects[i], nil
		}
	}
	return nil, nil
}

func (c *Client) CreateProject(ctx context.Context, payload ProjectRequest) (*Project, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPut, "/project", payload)
	if err != nil {
		return nil, err
	}
	var project Project
	if _, err := rest.DoJSON(c.http, req, &project, http.StatusOK, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("create project %s: %w", payload.Name, err)
	}
	return &project, nil
}

// UpdateProjectVersion patches the version of a project. 304 means the
// project already had that version.
func (c *Client) UpdateProjectVersion(ctx context.Context, uuid, version string) error {
	req, err := c.newJSONRequest(ctx, http.MethodPatch, "/project/"+url.PathEscape(uuid), map[string]string{
		"uuid":    uuid,
		"version": version,
	})
	if err != nil {
		return err
	}
	if _, err := rest.DoJSON(c.http, req, nil, http.StatusOK, http.StatusNotModified); err != nil {
		return fmt.Errorf("update project %s version: %w", uuid, err)
	}
	return nil
}

// UploadBOM posts a BOM for the project as multipart/form-data and returns
// the processing token.
func (c *Client) UploadBOM(ctx context.Context, projectUUID, filename string, bom io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("project", projectUUID); err != nil {
		return "", err
	}
	part, err := mw.CreatePart(fileHeader("bom", filename, "application/json"))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, bom); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/bom", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out struct {
		Token string `json:"token"`
	}
	if _, err := rest.DoJSON(c.http, req, &out); err != nil {
		return "", fmt.Errorf("upload bom %s: %w", filename, err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("upload bom %s: %w", filename, ErrNoToken)
	}
	return out.Token, nil
}

func fileHeader(field, filename, contentType string) textproto.MIMEHeader {
	quote := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return textproto.MIMEHeader{
		"Content-Disposition": {fmt.Sprintf(`form-data; name="%s"; filename="%s"`, quote.Replace(field), quote.Replace(filename))},
		"Content-Type":        {contentType},
	}
}
