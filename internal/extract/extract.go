// Package extract implements the per-source-kind content extractors.
//
// Every extractor produces the same Output shape. Explicit GitHub URLs in
// the extracted text are taken as-is; only when there are none does an
// extractor ask the resolution engine to discover repositories.
package extract

import (
	"context"
	"fmt"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/github"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/logger"
	"github.com/hpungsan/trove/internal/resolve"
)

// MaxReposPerItem caps the repositories one extractor records.
const MaxReposPerItem = 3

// Input identifies the item being extracted.
type Input struct {
	ItemID     string
	UserID     string
	SourceURL  string
	SourceKind item.SourceKind
}

// Output is the uniform result of every extractor.
type Output struct {
	Transcript *string            `json:"transcript,omitempty"`
	Metadata   *item.RepoMetadata `json:"metadata,omitempty"`
	PageText   *string            `json:"page_text,omitempty"`
	Entities   item.Entities      `json:"entities"`
	Cost       cost.Ledger        `json:"cost"`
	// Degraded marks a transcript built from thin fallback metadata
	Degraded bool   `json:"degraded,omitempty"`
	Gated    *Gated `json:"gated,omitempty"`
}

// Text returns whatever extracted text is available, transcript first.
func (o *Output) Text() string {
	if o == nil {
		return ""
	}
	if o.Transcript != nil {
		return *o.Transcript
	}
	return item.Text(o.PageText)
}

// Extractor extracts content for one source kind.
type Extractor interface {
	Extract(ctx context.Context, in Input) (*Output, error)
}

// Resolver discovers repositories in free text.
type Resolver interface {
	ResolveLimit(ctx context.Context, text string, existing []string, limit int) (*resolve.Result, error)
}

// RepoSource fetches repository metadata from the code host.
type RepoSource interface {
	GetRepo(ctx context.Context, owner, repo string) (*github.Repo, error)
	README(ctx context.Context, owner, repo string) (string, error)
}

// Registry dispatches to the extractor registered for a source kind.
type Registry struct {
	extractors map[item.SourceKind]Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[item.SourceKind]Extractor)}
}

// Register binds an extractor to a source kind, replacing any previous one.
func (r *Registry) Register(kind item.SourceKind, e Extractor) {
	r.extractors[kind] = e
}

// Extract runs the extractor for in.SourceKind.
func (r *Registry) Extract(ctx context.Context, in Input) (*Output, error) {
	e, ok := r.extractors[in.SourceKind]
	if !ok {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("no extractor for source kind %q", in.SourceKind))
	}
	return e.Extract(ctx, in)
}

// Dependencies are the collaborators the standard extractors share.
type Dependencies struct {
	Repos       RepoSource
	Transcripts TranscriptSource
	Embeds      EmbedSource
	Social      SocialSource
	Pages       PageFetcher
	Resolver    Resolver
	Logger      logger.Logger
}

// NewDefaultRegistry registers an extractor for every known source kind.
func NewDefaultRegistry(d Dependencies) *Registry {
	if d.Logger == nil {
		d.Logger = logger.NewNop()
	}
	r := NewRegistry()
	r.Register(item.SourceCodeRepo, &CodeRepoExtractor{Repos: d.Repos, Logger: d.Logger})
	r.Register(item.SourceVideoShort, &VideoExtractor{
		Kind: item.SourceVideoShort, Transcripts: d.Transcripts, Embeds: d.Embeds, Resolver: d.Resolver, Logger: d.Logger,
	})
	r.Register(item.SourceVideoLong, &VideoExtractor{
		Kind: item.SourceVideoLong, Transcripts: d.Transcripts, Embeds: d.Embeds, Resolver: d.Resolver, Logger: d.Logger,
	})
	r.Register(item.SourceSocialPost, &SocialExtractor{
		Social: d.Social, Embeds: d.Embeds, Pages: d.Pages, Resolver: d.Resolver, Logger: d.Logger,
	})
	r.Register(item.SourceArticle, &ArticleExtractor{Pages: d.Pages, Resolver: d.Resolver, Logger: d.Logger})
	return r
}

// discoverRepos takes explicit repository URLs from text, falling back to
// the resolver when there are none and resolution is allowed.
func discoverRepos(ctx context.Context, resolver Resolver, text string, allowResolve bool) (item.Entities, cost.Ledger, error) {
	var (
		entities item.Entities
		ledger   cost.Ledger
	)
	explicit := github.FindRepoURLs(text)
	if len(explicit) > 0 {
		if len(explicit) > MaxReposPerItem {
			explicit = explicit[:MaxReposPerItem]
		}
		return entities.WithRepos(explicit...), ledger, nil
	}
	if !allowResolve || resolver == nil {
		return entities, ledger, nil
	}

	res, err := resolver.ResolveLimit(ctx, text, nil, MaxReposPerItem)
	if res != nil {
		ledger = ledger.Merge(res.Cost)
	}
	if err != nil {
		return entities, ledger, err
	}
	return entities.WithRepos(res.URLs()...).WithTools(res.Tools()...), ledger, nil
}

func strPtr(s string) *string { return &s }
