package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 20 * time.Second
	maxPageBytes       = 10 << 20
	userAgent          = "trove/1.0 (+https://github.com/hpungsan/trove)"
)

// TranscriptSource returns the spoken-text transcript of a video.
type TranscriptSource interface {
	Transcript(ctx context.Context, videoURL string) (string, error)
}

// TranscriptClient calls a transcription sidecar exposing
// GET <base>/transcript?url=<video> -> {"text": "..."}.
type TranscriptClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewTranscriptClient creates a sidecar client.
func NewTranscriptClient(baseURL string) *TranscriptClient {
	return &TranscriptClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: 2 * time.Minute},
	}
}

// Transcript implements TranscriptSource.
func (c *TranscriptClient) Transcript(ctx context.Context, videoURL string) (string, error) {
	endpoint := c.BaseURL + "/transcript?url=" + url.QueryEscape(videoURL)
	var body struct {
		Text string `json:"text"`
	}
	if err := getJSON(ctx, c.HTTP, endpoint, &body); err != nil {
		return "", fmt.Errorf("transcript: %w", err)
	}
	return strings.TrimSpace(body.Text), nil
}

// Embed is an oEmbed response.
type Embed struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
	HTML       string `json:"html"`
}

// EmbedSource returns public embed metadata for a URL.
type EmbedSource interface {
	Embed(ctx context.Context, pageURL string) (*Embed, error)
}

// DefaultOEmbedEndpoints maps hosts to their public oEmbed endpoints.
var DefaultOEmbedEndpoints = map[string]string{
	"youtube.com": "https://www.youtube.com/oembed",
	"youtu.be":    "https://www.youtube.com/oembed",
	"vimeo.com":   "https://vimeo.com/api/oembed.json",
	"tiktok.com":  "https://www.tiktok.com/oembed",
	"x.com":       "https://publish.twitter.com/oembed",
	"twitter.com": "https://publish.twitter.com/oembed",
	"bsky.app":    "https://embed.bsky.app/oembed",
}

// OEmbedClient fetches oEmbed metadata from per-host endpoints.
type OEmbedClient struct {
	Endpoints map[string]string
	HTTP      *http.Client
}

// NewOEmbedClient creates a client with the default endpoint table.
func NewOEmbedClient() *OEmbedClient {
	return &OEmbedClient{
		Endpoints: DefaultOEmbedEndpoints,
		HTTP:      &http.Client{Timeout: defaultHTTPTimeout},
	}
}

// Embed implements EmbedSource.
func (c *OEmbedClient) Embed(ctx context.Context, pageURL string) (*Embed, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	host := strings.TrimPrefix(strings.TrimPrefix(strings.ToLower(u.Hostname()), "www."), "m.")
	endpoint, ok := c.Endpoints[host]
	if !ok {
		return nil, fmt.Errorf("no oembed endpoint for %s", host)
	}

	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("format", "json")
	var e Embed
	if err := getJSON(ctx, c.HTTP, endpoint+"?"+q.Encode(), &e); err != nil {
		return nil, fmt.Errorf("oembed: %w", err)
	}
	return &e, nil
}

// Page is a fetched document.
type Page struct {
	URL         string
	FinalURL    string
	ContentType string
	Body        []byte
}

// PageFetcher fetches documents, following redirects.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (*Page, error)
}

// HTTPFetcher is a PageFetcher on net/http.
type HTTPFetcher struct {
	HTTP *http.Client
}

// NewHTTPFetcher creates a fetcher with a bounded timeout.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{HTTP: &http.Client{Timeout: defaultHTTPTimeout}}
}

// Fetch implements PageFetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, pageURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")

	resp, err := f.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	final := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// the final URL is still useful for gated detection
		return &Page{URL: pageURL, FinalURL: final, ContentType: resp.Header.Get("Content-Type")},
			fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pageURL, err)
	}
	return &Page{
		URL:         pageURL,
		FinalURL:    final,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

func getJSON(ctx context.Context, client *http.Client, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out)
}
