// Package github is a thin GitHub REST v3 client covering repository
// search, repository metadata and README retrieval.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the public GitHub API endpoint.
const DefaultBaseURL = "https://api.github.com"

// Repo is the subset of repository metadata the pipeline uses.
type Repo struct {
	FullName    string   `json:"full_name"`
	Name        string   `json:"name"`
	Owner       string   `json:"owner"`
	Description string   `json:"description,omitempty"`
	Stars       int      `json:"stars"`
	Language    string   `json:"language,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	URL         string   `json:"url"`
}

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	// RPS bounds outgoing requests; zero means unlimited.
	RPS     float64
	Timeout time.Duration
}

// Client talks to the GitHub REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
	}
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("github api: status %d: %s", e.StatusCode, e.Body)
}

type apiRepo struct {
	FullName        string   `json:"full_name"`
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	StargazersCount int      `json:"stargazers_count"`
	Language        string   `json:"language"`
	Topics          []string `json:"topics"`
	HTMLURL         string   `json:"html_url"`
	Owner           struct {
		Login string `json:"login"`
	} `json:"owner"`
}

func (r apiRepo) toRepo() Repo {
	return Repo{
		FullName:    r.FullName,
		Name:        r.Name,
		Owner:       r.Owner.Login,
		Description: r.Description,
		Stars:       r.StargazersCount,
		Language:    r.Language,
		Topics:      r.Topics,
		URL:         r.HTMLURL,
	}
}

// Search runs a repository search and returns up to limit results in the
// provider's relevance order.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]Repo, error) {
	if limit <= 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("per_page", strconv.Itoa(limit))

	var body struct {
		Items []apiRepo `json:"items"`
	}
	if err := c.getJSON(ctx, "/search/repositories?"+q.Encode(), &body); err != nil {
		return nil, err
	}

	repos := make([]Repo, 0, len(body.Items))
	for _, it := range body.Items {
		if len(repos) == limit {
			break
		}
		repos = append(repos, it.toRepo())
	}
	return repos, nil
}

// GetRepo fetches metadata for owner/repo.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	var body apiRepo
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo)
	if err := c.getJSON(ctx, path, &body); err != nil {
		return nil, err
	}
	r := body.toRepo()
	return &r, nil
}

// README returns the raw README markdown of owner/repo, or "" when the
// repository has none.
func (c *Client) README(ctx context.Context, owner, repo string) (string, error) {
	path := "/repos/" + url.PathEscape(owner) + "/" + url.PathEscape(repo) + "/readme"
	resp, err := c.do(ctx, path, "application/vnd.github.raw+json")
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", nil
		}
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read readme: %w", err)
	}
	return string(data), nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.do(ctx, path, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode github response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, path, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build github request: %w", err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(msg)}
	}
	return resp, nil
}
