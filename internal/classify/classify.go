// Package classify turns extracted content into a structured record.
package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/logger"
)

const (
	maxTags         = 8
	maxTechniques   = 5
	maxSourceChars  = 16000
	maxReadmeChars  = 6000
	maxOutputTokens = 800
)

// Input is every content source the classifier can work from.
type Input struct {
	SourceKind item.SourceKind
	SourceURL  string
	Transcript *string
	Metadata   *item.RepoMetadata
	PageText   *string
}

// HasContent reports whether at least one content source is present.
func (in Input) HasContent() bool {
	return nonBlank(in.Transcript) || in.Metadata != nil || nonBlank(in.PageText)
}

// Config wires a Classifier.
type Config struct {
	Completer  llm.Completer
	Provider   string
	Price      cost.PriceTable
	Vocabulary *Vocabulary
	Logger     logger.Logger
}

// Classifier produces classifications with a single completion.
type Classifier struct {
	completer llm.Completer
	provider  string
	price     cost.PriceTable
	vocab     *Vocabulary
	log       logger.Logger
}

// New creates a Classifier. The vocabulary is required.
func New(cfg Config) (*Classifier, error) {
	if cfg.Vocabulary == nil {
		return nil, fmt.Errorf("classifier requires a domain vocabulary")
	}
	if cfg.Provider == "" {
		cfg.Provider = cost.ProviderClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Classifier{
		completer: cfg.Completer,
		provider:  cfg.Provider,
		price:     cfg.Price,
		vocab:     cfg.Vocabulary,
		log:       cfg.Logger,
	}, nil
}

type output struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Domain      string   `json:"domain"`
	ContentKind string   `json:"content_kind"`
	Tags        []string `json:"tags"`
	Techniques  []string `json:"techniques"`
}

func (o *output) Validate() error {
	if strings.TrimSpace(o.Title) == "" {
		return fmt.Errorf("title is empty")
	}
	if strings.TrimSpace(o.Summary) == "" {
		return fmt.Errorf("summary is empty")
	}
	return nil
}

// Classify returns the classification for in, or nil when there is nothing
// to classify or the model output was rejected. Only completion transport
// errors are returned.
func (c *Classifier) Classify(ctx context.Context, in Input) (*item.Classification, cost.Ledger, error) {
	var ledger cost.Ledger
	if !in.HasContent() {
		return nil, ledger, nil
	}

	resp, err := c.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(c.systemPrompt()),
			llm.User(buildPrompt(in)),
		},
		Temperature: 0.2,
		MaxTokens:   maxOutputTokens,
	})
	if err != nil {
		return nil, ledger, fmt.Errorf("classification completion: %w", err)
	}
	ledger = ledger.Charge(c.provider, c.price, resp.Usage)

	out, err := llm.DecodeJSON[output]("classify", resp.Text)
	if err != nil {
		c.log.Warn("classification output rejected",
			logger.String("source_url", in.SourceURL),
			logger.Error(err),
		)
		return nil, ledger, nil
	}

	return &item.Classification{
		Title:       strings.TrimSpace(out.Title),
		Summary:     strings.TrimSpace(out.Summary),
		Domain:      c.vocab.Coerce(out.Domain),
		ContentKind: coerceContentKind(out.ContentKind),
		Tags:        cleanTags(out.Tags),
		Techniques:  cleanTechniques(out.Techniques),
	}, ledger, nil
}

func (c *Classifier) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You classify saved links for a personal knowledge base.\n")
	b.WriteString("Use only the supplied content. Do not invent details that are not in it.\n\n")
	b.WriteString("Respond with JSON only:\n")
	b.WriteString(`{"title": "...", "summary": "...", "domain": "...", "content_kind": "...", "tags": ["..."], "techniques": ["..."]}`)
	b.WriteString("\n\n- title: short and descriptive, under 80 characters\n")
	b.WriteString("- summary: two or three sentences on what the content offers\n")
	fmt.Fprintf(&b, "- domain: one of %s\n", strings.Join(c.vocab.Domains(), ", "))
	fmt.Fprintf(&b, "- content_kind: one of %s\n", strings.Join(ContentKinds, ", "))
	fmt.Fprintf(&b, "- tags: up to %d lowercase keywords\n", maxTags)
	fmt.Fprintf(&b, "- techniques: up to %d named methods or practices the content teaches, empty if none\n", maxTechniques)
	return b.String()
}

func buildPrompt(in Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source kind: %s\n", in.SourceKind)
	if in.SourceURL != "" {
		fmt.Fprintf(&b, "URL: %s\n", in.SourceURL)
	}
	if m := in.Metadata; m != nil {
		b.WriteString("\nRepository:\n")
		fmt.Fprintf(&b, "name: %s\nstars: %d\n", m.FullName, m.Stars)
		if m.Description != "" {
			fmt.Fprintf(&b, "description: %s\n", m.Description)
		}
		if m.Language != "" {
			fmt.Fprintf(&b, "language: %s\n", m.Language)
		}
		if len(m.Topics) > 0 {
			fmt.Fprintf(&b, "topics: %s\n", strings.Join(m.Topics, ", "))
		}
		if m.README != "" {
			fmt.Fprintf(&b, "readme:\n%s\n", truncate(m.README, maxReadmeChars))
		}
	}
	if nonBlank(in.Transcript) {
		fmt.Fprintf(&b, "\nTranscript:\n%s\n", truncate(*in.Transcript, maxSourceChars))
	}
	if nonBlank(in.PageText) {
		fmt.Fprintf(&b, "\nPage text:\n%s\n", truncate(*in.PageText, maxSourceChars))
	}
	return b.String()
}

func cleanTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = item.Normalize(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
		if len(out) == maxTags {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// cleanTechniques keeps the model's casing and dedupes case-insensitively.
func cleanTechniques(names []string) []string {
	seen := make(map[string]bool, len(names))
	var out []string
	for _, n := range names {
		key := item.Normalize(n)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, strings.Join(strings.Fields(n), " "))
		if len(out) == maxTechniques {
			break
		}
	}
	return out
}

func nonBlank(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "")
}
