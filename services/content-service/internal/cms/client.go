// Package cms reads marketing content from the Sanity HTTP query API.
package cms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	ErrNotFound = errors.New("cms: document not found")
	ErrDisabled = errors.New("cms: project not configured")
)

const (
	servicesQuery = `*[_type == "service"] | order(order asc){_id, title, "slug": slug.current, summary, description, icon, order}`
	packagesQuery = `*[_type == "package"] | order(order asc){_id, name, "slug": slug.current, price, currency, features, highlighted, order}`
	legalQuery    = `*[_type == "legalPage" && slug.current == $slug][0]{_id, title, "slug": slug.current, body, _updatedAt}`
)

type Config struct {
	ProjectID  string
	Dataset    string
	APIVersion string
	Token      string
	BaseURL    string
	Timeout    time.Duration
}

type Service struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Icon        string `json:"icon,omitempty"`
	Order       int    `json:"order"`
}

type Package struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Features    []string `json:"features"`
	Highlighted bool     `json:"highlighted"`
	Order       int      `json:"order"`
}

// LegalPage keeps the portable text body as raw JSON for the site to render.
type LegalPage struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt string          `json:"updated_at"`
}

type Client struct {
	http    *resty.Client
	dataset string
	version string
}

// New returns a client for the configured project. BaseURL overrides the CDN host.
func New(cfg Config) *Client {
	if cfg.Dataset == "" {
		cfg.Dataset = "production"
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2023-10-01"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" && cfg.ProjectID != "" {
		base = "https://" + cfg.ProjectID + ".apicdn.sanity.io"
	}

	c := &Client{dataset: cfg.Dataset, version: cfg.APIVersion}
	if base == "" {
		return c
	}
	c.http = resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		c.http.SetAuthToken(cfg.Token)
	}
	return c
}

func (c *Client) Enabled() bool {
	return c != nil && c.http != nil
}

type queryResponse struct {
	Result json.RawMessage `json:"result"`
}

// Query runs a GROQ query. Params are encoded as JSON per the Sanity API.
func (c *Client) Query(ctx context.Context, groq string, params map[string]any, out any) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", groq)
	for name, value := range params {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cms: encode param %s: %w", name, err)
		}
		req.SetQueryParam("$"+name, string(raw))
	}

	var body queryResponse
	resp, err := req.SetResult(&body).Get(fmt.Sprintf("/v%s/data/query/%s", c.version, c.dataset))
	if err != nil {
		return fmt.Errorf("cms: query: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("cms: query: status %d", resp.StatusCode())
	}
	if len(body.Result) == 0 || string(body.Result) == "null" {
		return ErrNotFound
	}
	if err := json.Unmarshal(body.Result, out); err != nil {
		return fmt.Errorf("cms: decode result: %w", err)
	}
	return nil
}

type serviceDoc struct {
	ID          string `json:"_id"`
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
	Order       int    `json:"order"`
}

func (c *Client) Services(ctx context.Context) ([]Service, error) {
	var docs []serviceDoc
	if err := c.Query(ctx, servicesQuery, nil, &docs); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Service{}, nil
		}
		return nil, err
	}
	out := make([]Service, 0, len(docs))
	for _, d := range docs {
		out = append(out, Service(d))
	}
	return out, nil
}

type packageDoc struct {
	ID          string   `json:"_id"`
	Name        string   `json:"name"`
	Slug        string   `json:"slug"`
	Price       float64  `json:"price"`
	Currency    string   `json:"currency"`
	Features    []string `json:"features"`
	Highlighted bool     `json:"highlighted"`
	Order       int      `json:"order"`
}

func (c *Client) Packages(ctx context.Context) ([]Package, error) {
	var docs []packageDoc
	if err := c.Query(ctx, packagesQuery, nil, &docs); err != nil {
		if errors.Is(err, ErrNotFound) {
			return []Package{}, nil
		}
		return nil, err
	}
	out := make([]Package, 0, len(docs))
	for _, d := range docs {
		p := Package(d)
		if p.Features == nil {
			p.Features = []string{}
		}
		out = append(out, p)
	}
	return out, nil
}

type legalDoc struct {
	ID        string          `json:"_id"`
	Title     string          `json:"title"`
	Slug      string          `json:"slug"`
	Body      json.RawMessage `json:"body"`
	UpdatedAt string          `json:"_updatedAt"`
}

func (c *Client) LegalPage(ctx context.Context, slug string) (LegalPage, error) {
	var doc legalDoc
	if err := c.Query(ctx, legalQuery, map[string]any{"slug": slug}, &doc); err != nil {
		return LegalPage{}, err
	}
	return LegalPage(doc), nil
}
