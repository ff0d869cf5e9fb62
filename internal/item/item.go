package item

import "strings"

// Status is the lifecycle state of an item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusProcessed, StatusFailed:
		return true
	}
	return false
}

// Entities is the set of third-party references extracted from an item.
type Entities struct {
	Repos      []string `json:"repos,omitempty"`
	Tools      []string `json:"tools,omitempty"`
	Techniques  []string `json:"techniques,omitempty"`
}

// IsEmpty reports whether no entities were found.
func (e Entities) IsEmpty() bool {
	return len(e.Repos) == 0 && len(e.Tools) == 0 && len(e.Techniques) == 0
}

// WithRepos returns a copy with urls appended, skipping any already present.
func (e Entities) WithRepos(urls ...string) Entities {
	out := e.clone()
	out.Repos = appendUnique(out.Repos, urls, NormalizeRepoURL)
	return out
}

// WithTools returns a copy with names appended, deduplicated case-insensitively.
func (e Entities) WithTools(names ...string) Entities {
	out := e.clone()
	out.Tools = appendUnique(out.Tools, names, Normalize)
	return out
}

// WithTechniques is WithTools for techniques.
func (e Entities) WithTechniques(names ...string) Entities {
	out := e.clone()
	out.Techniques = appendUnique(out.Techniques, names, Normalize)
	return out
}

func (e Entities) clone() Entities {
	return Entities{
		Repos:      append([]string(nil), e.Repos...),
		Tools:      append([]string(nil), e.Tools...),
		Techniques: append([]string(nil), e.Techniques...),
	}
}

// appendUnique appends the values of add whose key is non-empty and not yet
// present in dst.
func appendUnique(dst, add []string, key func(string) string) []string {
	seen := make(map[string]bool, len(dst))
	for _, v := range dst {
		seen[key(v)] = true
	}
	for _, v := range add {
		k := key(v)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		dst = append(dst, strings.TrimSpace(v))
	}
	return dst
}

// Classification is the structured record produced by the classification stage.
type Classification struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Domain      string   `json:"domain"`
	ContentKind string   `json:"content_kind"`
	Tags        []string `json:"tags,omitempty"`
	// Techniques are persisted with the item's entities, not its columns.
	Techniques  []string `json:"techniques,omitempty"`
}

// Item is one captured URL and its processing state.
type Item struct {
	// ID is a ULID that uniquely identifies this item
	ID string `json:"id"`

	// UserID owns the item; every query is scoped by it
	UserID string `json:"user_id"`

	SourceURL  string     `json:"source_url"`
	SourceKind SourceKind `json:"source_kind"`
	Status     Status     `json:"status"`

	// ErrorMessage is set when Status is failed
	ErrorMessage *string `json:"error_message,omitempty"`

	// Transcript is the extracted text the classifier worked from
	Transcript *string `json:"transcript,omitempty"`

	// Classification fields (nil until classified)
	Title       *string  `json:"title,omitempty"`
	Summary     *string  `json:"summary,omitempty"`
	Domain      *string  `json:"domain,omitempty"`
	ContentKind *string  `json:"content_kind,omitempty"`
	Tags        []string `json:"tags,omitempty"`

	Entities Entities `json:"entities"`

	// ExtractionCost covers content extraction and first-pass resolution
	ExtractionCost *float64 `json:"extraction_cost,omitempty"`
	// ClassificationCost covers classification and second-pass resolution
	ClassificationCost *float64 `json:"classification_cost,omitempty"`

	// ChatID is the interactive chat the capture came from, if any
	ChatID *int64 `json:"chat_id,omitempty"`

	// Gated marks an item whose content requires an external login
	Gated bool `json:"gated,omitempty"`

	// CapturedAt is the Unix timestamp of capture
	CapturedAt int64 `json:"captured_at"`
	// ProcessedAt is the Unix timestamp of successful processing
	ProcessedAt *int64 `json:"processed_at,omitempty"`
}

// Text returns the value of an optional string field, or "".
func Text(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// RepoMetadata is what the code-repository extractor learns about a repo.
type RepoMetadata struct {
	FullName    string   `json:"full_name"`
	Description string   `json:"description,omitempty"`
	Stars       int      `json:"stars"`
	Language    string   `json:"language,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	URL         string   `json:"url"`
	// README is the plain-text README, possibly truncated
	README string `json:"readme,omitempty"`
}
