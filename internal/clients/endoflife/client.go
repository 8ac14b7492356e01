// Package endoflife is a client for the endoflife.date v0 API.
package endoflife

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/nethserver/nh-sbom/internal/clients/rest"

	"github.com/hashicorp/go-cleanhttp"
)

var ErrNotFound = errors.New("product not found")

// EOL is the "eol" field of a cycle, which is either a YYYY-MM-DD date or a
// boolean.
type EOL struct {
	Date string
	Bool bool
	// IsDate reports whether the upstream value was a string.
	IsDate bool
}

func (e *EOL) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*e = EOL{}
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = EOL{Date: s, IsDate: true}
		return nil
	default:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("eol: expected date or boolean, got %s", data)
		}
		*e = EOL{Bool: b}
		return nil
	}
}

func (e EOL) MarshalJSON() ([]byte, error) {
	if e.IsDate {
		return json.Marshal(e.Date)
	}
	return json.Marshal(e.Bool)
}

// cycleName tolerates cycles published as bare numbers.
type cycleName string

func (c *cycleName) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = cycleName(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = cycleName(n.String())
	return nil
}

type Cycle struct {
	Cycle       string `json:"-"`
	EOL         EOL    `json:"eol"`
	ReleaseDate string `json:"releaseDate,omitempty"`
	Latest      string `json:"latest,omitempty"`
}

func (c *Cycle) UnmarshalJSON(data []byte) error {
	type plain Cycle
	aux := struct {
		*plain
		Cycle  cycleName `json:"cycle"`
		Latest any       `json:"latest"`
	}{plain: (*plain)(c)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	c.Cycle = string(aux.Cycle)
	if aux.Latest != nil {
		c.Latest = fmt.Sprint(aux.Latest)
	}
	return nil
}

type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = cleanhttp.DefaultPooledClient()
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// Products returns every product identifier tracked by the service.
func (c *Client) Products(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/all.json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	var products []string
	if _, err := rest.DoJSON(c.http, req, &products); err != nil {
		return nil, fmt.Errorf("fetch product list: %w", err)
	}
	return products, nil
}

func (c *Client) Cycles(ctx context.Context, product string) ([]Cycle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(product)+".json", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	var cycles []Cycle
	if _, err := rest.DoJSON(c.http, req, &cycles); err != nil {
		var statusErr *rest.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s: %w", product, ErrNotFound)
		}
		return nil, fmt.Errorf("fetch cycles for %s: %w", product, err)
	}
	return cycles, nil
}
