// Package resolve finds third-party code repositories named in free text.
//
// Resolution runs in two stages: one completion extracts candidate names,
// then each candidate is searched on the code host and a second completion
// arbitrates the resulting pool. A pool the arbiter rejects contributes
// nothing; the engine never guesses.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/github"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/logger"
)

const (
	// MaxCandidates caps the names taken from one extraction call.
	MaxCandidates = 5
	// MaxPool caps the search hits arbitrated per candidate.
	MaxPool = 5
	// MaxResolved caps the repositories returned by one pass.
	MaxResolved = 5

	maxTextChars = 12000
)

// Searcher is the code-host search the engine queries.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]github.Repo, error)
}

// Candidate is a tool or library name surfaced by the extraction call.
type Candidate struct {
	Name    string `json:"name"`
	Context string `json:"context"`
}

// Match is a repository the arbiter accepted for a candidate.
type Match struct {
	Candidate Candidate   `json:"candidate"`
	Repo      github.Repo `json:"repo"`
	URL       string      `json:"url"`
}

// Result is the outcome of one resolution pass.
type Result struct {
	Matches []Match     `json:"matches"`
	Cost    cost.Ledger `json:"cost"`
}

// URLs returns the accepted repository URLs in acceptance order.
func (r *Result) URLs() []string {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		urls = append(urls, m.URL)
	}
	return urls
}

// Tools returns the candidate names behind the accepted matches.
func (r *Result) Tools() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		if n := strings.TrimSpace(m.Candidate.Name); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Config wires an Engine.
type Config struct {
	Completer llm.Completer
	Searcher  Searcher
	// Provider and Price attribute completion cost in the ledger.
	Provider string
	Price    cost.PriceTable
	Logger   logger.Logger
}

// Engine resolves repository references.
type Engine struct {
	completer llm.Completer
	searcher  Searcher
	provider  string
	price     cost.PriceTable
	log       logger.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg Config) *Engine {
	if cfg.Provider == "" {
		cfg.Provider = cost.ProviderClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Engine{
		completer: cfg.Completer,
		searcher:  cfg.Searcher,
		provider:  cfg.Provider,
		price:     cfg.Price,
		log:       cfg.Logger,
	}
}

// Resolve returns new, confidently matched repositories mentioned in text.
// Repositories already in existing are never returned. Only context
// cancellation is reported as an error; every other failure degrades to
// fewer matches.
func (e *Engine) Resolve(ctx context.Context, text string, existing []string) (*Result, error) {
	return e.resolve(ctx, text, existing, MaxResolved)
}

// ResolveSummary is the second pass over a classified title and summary.
func (e *Engine) ResolveSummary(ctx context.Context, title, summary string, existing []string) (*Result, error) {
	text := strings.TrimSpace(strings.TrimSpace(title) + "\n\n" + strings.TrimSpace(summary))
	return e.resolve(ctx, text, existing, MaxResolved)
}

// ResolveLimit is Resolve with a tighter cap on accepted repositories.
func (e *Engine) ResolveLimit(ctx context.Context, text string, existing []string, limit int) (*Result, error) {
	if limit <= 0 || limit > MaxResolved {
		limit = MaxResolved
	}
	return e.resolve(ctx, text, existing, limit)
}

func (e *Engine) resolve(ctx context.Context, text string, existing []string, limit int) (*Result, error) {
	result := &Result{}
	text = strings.TrimSpace(text)
	if text == "" {
		return result, nil
	}

	candidates, err := e.extractCandidates(ctx, text, result)
	if err != nil {
		return result, err
	}

	known := make(map[string]bool, len(existing))
	knownNames := make(map[string]bool, 2*len(existing))
	for _, u := range existing {
		key := item.NormalizeRepoURL(u)
		if key == "" {
			continue
		}
		known[key] = true
		if owner, name, ok := item.SplitRepoPath(strings.TrimPrefix(key, "github.com")); ok {
			knownNames[item.Normalize(owner)] = true
			knownNames[item.Normalize(name)] = true
		}
	}

	for _, cand := range candidates {
		if len(result.Matches) >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if knownNames[item.Normalize(cand.Name)] {
			continue
		}

		pool := withoutKnown(e.buildPool(ctx, cand), known)
		if len(pool) == 0 {
			continue
		}
		repo, ok, err := e.arbitrate(ctx, text, cand, pool, result)
		if err != nil {
			return result, err
		}
		if !ok {
			continue
		}

		u := repoURL(repo)
		key := item.NormalizeRepoURL(u)
		if key == "" || known[key] {
			continue
		}
		known[key] = true
		result.Matches = append(result.Matches, Match{Candidate: cand, Repo: repo, URL: u})
	}
	return result, nil
}

type candidateList struct {
	Candidates []Candidate `json:"candidates"`
}

func (e *Engine) extractCandidates(ctx context.Context, text string, result *Result) ([]Candidate, error) {
	if len(text) > maxTextChars {
		text = strings.ToValidUTF8(text[:maxTextChars], "")
	}
	resp, err := e.complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(candidatePrompt),
			llm.User(text),
		},
		Temperature: 0,
		MaxTokens:   600,
	}, result)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.log.Warn("candidate extraction failed", logger.Error(err))
		return nil, nil
	}

	list, err := llm.DecodeJSON[candidateList]("resolve.candidates", resp.Text)
	if err != nil {
		e.log.Warn("candidate extraction output rejected", logger.Error(err))
		return nil, nil
	}

	seen := make(map[string]bool)
	out := make([]Candidate, 0, MaxCandidates)
	for _, c := range list.Candidates {
		c.Name = strings.TrimSpace(c.Name)
		c.Context = strings.TrimSpace(c.Context)
		norm := item.Normalize(c.Name)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, c)
		if len(out) == MaxCandidates {
			break
		}
	}
	return out, nil
}

// queries returns the search formulations for a candidate, most precise first.
func queries(c Candidate) []string {
	qs := []string{fmt.Sprintf("%q in:name", c.Name)}
	if c.Context != "" {
		qs = append(qs, c.Name+" "+c.Context)
	}
	return append(qs, c.Name)
}

// buildPool searches each formulation until MaxPool distinct repositories
// are collected, then orders them by stars, keeping provider order on ties.
func (e *Engine) buildPool(ctx context.Context, c Candidate) []github.Repo {
	seen := make(map[string]bool)
	pool := make([]github.Repo, 0, MaxPool)
	for _, q := range queries(c) {
		if len(pool) >= MaxPool || ctx.Err() != nil {
			break
		}
		hits, err := e.searcher.Search(ctx, q, MaxPool)
		if err != nil {
			e.log.Warn("repository search failed",
				logger.String("candidate", c.Name),
				logger.String("query", q),
				logger.Error(err),
			)
			continue
		}
		for _, h := range hits {
			key := strings.ToLower(h.FullName)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			pool = append(pool, h)
			if len(pool) == MaxPool {
				break
			}
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Stars > pool[j].Stars })
	return pool
}

// arbitrate asks the model to confirm a single hit or pick one of many.
func (e *Engine) arbitrate(ctx context.Context, text string, c Candidate, pool []github.Repo, result *Result) (github.Repo, bool, error) {
	var prompt string
	if len(pool) == 1 {
		prompt = validatePrompt(text, c, pool[0])
	} else {
		prompt = pickPrompt(text, c, pool)
	}

	resp, err := e.complete(ctx, llm.Request{
		Messages:    []llm.Message{llm.User(prompt)},
		Temperature: 0,
		MaxTokens:   10,
	}, result)
	if err != nil {
		if ctx.Err() != nil {
			return github.Repo{}, false, ctx.Err()
		}
		e.log.Warn("arbiter call failed", logger.String("candidate", c.Name), logger.Error(err))
		return github.Repo{}, false, nil
	}

	if len(pool) == 1 {
		if parseYes(resp.Text) {
			return pool[0], true, nil
		}
		return github.Repo{}, false, nil
	}
	idx, ok := ParseIndex(resp.Text, len(pool))
	if !ok {
		return github.Repo{}, false, nil
	}
	return pool[idx-1], true, nil
}

func (e *Engine) complete(ctx context.Context, req llm.Request, result *Result) (*llm.Response, error) {
	resp, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	result.Cost = result.Cost.Charge(e.provider, e.price, resp.Usage)
	return resp, nil
}

// ParseIndex reads the arbiter's 1-based choice. "0", anything
// non-numeric and anything out of range mean no match.
func ParseIndex(text string, n int) (int, bool) {
	s := strings.Trim(strings.TrimSpace(text), "\"'`.[]() \n")
	if fields := strings.Fields(s); len(fields) > 0 {
		s = fields[0]
	}
	idx, err := strconv.Atoi(s)
	if err != nil || idx < 1 || idx > n {
		return 0, false
	}
	return idx, true
}

func parseYes(text string) bool {
	s := strings.ToLower(strings.Trim(strings.TrimSpace(text), "\"'`.!"))
	return s == "yes" || strings.HasPrefix(s, "yes ") || strings.HasPrefix(s, "yes,")
}

// repoURL prefers the API's html_url and falls back to the full name.
// withoutKnown drops repositories already in known from pool.
func withoutKnown(pool []github.Repo, known map[string]bool) []github.Repo {
	kept := pool[:0]
	for _, r := range pool {
		if !known[item.NormalizeRepoURL(repoURL(r))] {
			kept = append(kept, r)
		}
	}
	return kept
}

func repoURL(r github.Repo) string {
	if item.NormalizeRepoURL(r.URL) != "" {
		return r.URL
	}
	if owner, name, ok := strings.Cut(r.FullName, "/"); ok {
		return item.CanonicalRepoURL(owner, name)
	}
	return ""
}
