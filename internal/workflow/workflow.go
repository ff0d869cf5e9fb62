// Package workflow runs the item processing pipeline.
//
// A run is a fixed sequence of named steps. Each step's result is memoized
// in a StepCache under (run id, step name) so a retried or redelivered run
// returns earlier results instead of re-executing metered calls or writes.
// The whole run is retried with exponential backoff; once the attempt bound
// is exhausted a terminal handler marks the item failed.
package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hpungsan/trove/internal/classify"
	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/extract"
	"github.com/hpungsan/trove/internal/filing"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/logger"
	"github.com/hpungsan/trove/internal/notify"
	"github.com/hpungsan/trove/internal/resolve"
)

// Step names, in execution order.
const (
	StepMarkProcessing = "mark-processing"
	StepFetchItem      = "fetch-item"
	StepExtractContent = "extract-content"
	StepSaveGated      = "save-gated"
	StepClassify       = "classify"
	StepResolveSummary = "resolve-summary"
	StepSaveResults    = "save-results"
	StepAssign         = "assign-containers"
	StepEmbedding      = "generate-embedding"
	StepInterests      = "extract-interests"
	StepNotify         = "notify-user"
)

const (
	defaultMaxAttempts  = 3
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
)

// stateSteps write item status. The terminal handler forgets them so a
// later run of the same event can move the item out of failed again.
var stateSteps = []string{StepMarkProcessing, StepSaveGated, StepSaveResults, StepNotify}

// Event is a capture event. Delivery is at least once.
type Event struct {
	ItemID     string          `json:"item_id"`
	SourceKind item.SourceKind `json:"source_kind"`
	SourceURL  string          `json:"source_url"`
	UserID     string          `json:"user_id"`
	ChatID     *int64          `json:"chat_id,omitempty"`
	// RunID keys memoized steps; empty means the item id
	RunID string `json:"run_id,omitempty"`
}

// EventFor builds the capture event for a stored item.
func EventFor(it *item.Item) Event {
	return Event{
		ItemID:     it.ID,
		SourceKind: it.SourceKind,
		SourceURL:  it.SourceURL,
		UserID:     it.UserID,
		ChatID:     it.ChatID,
	}
}

func (e Event) runID() string {
	if e.RunID != "" {
		return e.RunID
	}
	return e.ItemID
}

// Extractor produces content for an item.
type Extractor interface {
	Extract(ctx context.Context, in extract.Input) (*extract.Output, error)
}

// Classifier produces an item's classification.
type Classifier interface {
	Classify(ctx context.Context, in classify.Input) (*item.Classification, cost.Ledger, error)
}

// SummaryResolver runs the second resolution pass over classified text.
type SummaryResolver interface {
	ResolveSummary(ctx context.Context, title, summary string, existing []string) (*resolve.Result, error)
}

// Filer suggests and applies container assignments.
type Filer interface {
	Suggest(ctx context.Context, it filing.ItemSummary, containers []item.Container, anchors []string) (*filing.Assignment, cost.Ledger, error)
	Apply(ctx context.Context, userID, itemID string, a *filing.Assignment) ([]string, error)
	Anchors(ctx context.Context, userID string) ([]string, error)
}

// InterestExtractor records topic interests for a classified item.
type InterestExtractor interface {
	Extract(ctx context.Context, userID string, c *item.Classification) ([]string, cost.Ledger, error)
}

// Notifier queues a chat message without blocking.
type Notifier interface {
	Notify(ctx context.Context, chatID int64, text string)
}

// Config wires an Orchestrator. Embedder, Interests and Notifier are optional.
type Config struct {
	DB         *sql.DB
	Cache      StepCache
	Extractor  Extractor
	Classifier Classifier
	Resolver   SummaryResolver
	Filer      Filer
	Embedder   llm.Embedder
	Interests  InterestExtractor
	Notifier   Notifier
	Metrics    *Metrics
	Logger     logger.Logger

	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// Orchestrator executes workflow runs.
type Orchestrator struct {
	db         *sql.DB
	cache      StepCache
	extractor  Extractor
	classifier Classifier
	resolver   SummaryResolver
	filer      Filer
	embedder   llm.Embedder
	interests  InterestExtractor
	notifier   Notifier
	metrics    *Metrics
	log        logger.Logger

	maxAttempts  int
	initialDelay time.Duration
	maxDelay     time.Duration
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	switch {
	case cfg.DB == nil:
		return nil, fmt.Errorf("workflow requires a database")
	case cfg.Cache == nil:
		return nil, fmt.Errorf("workflow requires a step cache")
	case cfg.Extractor == nil || cfg.Classifier == nil || cfg.Filer == nil:
		return nil, fmt.Errorf("workflow requires an extractor, classifier and filer")
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = defaultMaxDelay
	}
	return &Orchestrator{
		db:           cfg.DB,
		cache:        cfg.Cache,
		extractor:    cfg.Extractor,
		classifier:   cfg.Classifier,
		resolver:     cfg.Resolver,
		filer:        cfg.Filer,
		embedder:     cfg.Embedder,
		interests:    cfg.Interests,
		notifier:     cfg.Notifier,
		metrics:      cfg.Metrics,
		log:          cfg.Logger,
		maxAttempts:  cfg.MaxAttempts,
		initialDelay: cfg.InitialDelay,
		maxDelay:     cfg.MaxDelay,
	}, nil
}

// Outcome is how a run finished.
type Outcome struct {
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Run executes ev with retries. After the last failed attempt the item is
// marked failed and the returned outcome carries the error; the error return
// is only set when ctx ends the run early.
func (o *Orchestrator) Run(ctx context.Context, ev Event) (*Outcome, error) {
	o.metrics.ActiveRuns.Inc()
	defer o.metrics.ActiveRuns.Dec()

	log := o.log.With(logger.String("item_id", ev.ItemID), logger.String("run_id", ev.runID()))
	delay := o.initialDelay
	var lastErr error

	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		status, err := o.runOnce(ctx, ev, log)
		if err == nil {
			o.metrics.RunsTotal.WithLabelValues(status).Inc()
			o.metrics.Attempts.Observe(float64(attempt))
			return &Outcome{Status: status, Attempts: attempt}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if errors.IsHard(err) {
			log.Warn("workflow attempt hit a pipeline failure", logger.Int("attempt", attempt), logger.Error(err))
		} else {
			log.Warn("workflow attempt failed", logger.Int("attempt", attempt), logger.Error(err))
		}

		if attempt < o.maxAttempts {
			backoff := time.Duration(float64(delay) * math.Pow(2, float64(attempt-1)))
			if backoff > o.maxDelay {
				backoff = o.maxDelay
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	o.onFailure(ctx, ev, lastErr, log)
	o.metrics.RunsTotal.WithLabelValues(OutcomeFailed).Inc()
	o.metrics.Attempts.Observe(float64(o.maxAttempts))
	return &Outcome{Status: OutcomeFailed, Attempts: o.maxAttempts, Error: lastErr.Error()}, nil
}

// onFailure is the terminal handler. It runs once per exhausted run and
// never fails: its own errors are logged.
func (o *Orchestrator) onFailure(ctx context.Context, ev Event, cause error, log logger.Logger) {
	ctx = context.WithoutCancel(ctx)

	if err := db.MarkFailed(ctx, o.db, ev.UserID, ev.ItemID, failureMessage(cause)); err != nil {
		log.Error("failed to mark item failed", logger.Error(err))
	}
	for _, step := range stateSteps {
		if err := o.cache.Delete(ctx, ev.runID(), step); err != nil {
			log.Warn("failed to forget step result", logger.String("step", step), logger.Error(err))
		}
	}
	if ev.ChatID != nil && o.notifier != nil {
		o.notifier.Notify(ctx, *ev.ChatID, notify.FailureNotice)
	}
	log.Error("workflow failed", logger.Error(cause))
}

func failureMessage(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	if r := []rune(msg); len(r) > 500 {
		msg = string(r[:500])
	}
	return msg
}

type extracted struct {
	Output *extract.Output `json:"output"`
}

type classified struct {
	Classification *item.Classification `json:"classification"`
	Cost           cost.Ledger          `json:"cost"`
}

type summaryRepos struct {
	Repos []string    `json:"repos"`
	Tools []string    `json:"tools,omitempty"`
	Cost  cost.Ledger `json:"cost"`
}

type saved struct {
	ExtractionCost     float64 `json:"extraction_cost"`
	ClassificationCost float64 `json:"classification_cost"`
}

type filed struct {
	ContainerIDs []string    `json:"container_ids"`
	Names        []string    `json:"names,omitempty"`
	NoAssignment bool        `json:"no_assignment"`
	Cost         cost.Ledger `json:"cost"`
}

type sideEffect struct {
	Skipped bool        `json:"skipped"`
	Detail  []string    `json:"detail,omitempty"`
	Cost    cost.Ledger `json:"cost"`
}

type done struct{}

// runOnce executes one attempt and returns the run outcome status.
func (o *Orchestrator) runOnce(ctx context.Context, ev Event, log logger.Logger) (string, error) {
	runID := ev.runID()

	if _, err := runStep(ctx, o, runID, StepMarkProcessing, func(ctx context.Context) (done, error) {
		return done{}, db.MarkProcessing(ctx, o.db, ev.UserID, ev.ItemID)
	}); err != nil {
		return "", err
	}

	it, err := runStep(ctx, o, runID, StepFetchItem, func(ctx context.Context) (*item.Item, error) {
		return db.GetItem(ctx, o.db, ev.UserID, ev.ItemID)
	})
	if err != nil {
		return "", err
	}

	ex, err := runStep(ctx, o, runID, StepExtractContent, func(ctx context.Context) (extracted, error) {
		out, err := o.extractor.Extract(ctx, extract.Input{
			ItemID:     it.ID,
			UserID:     it.UserID,
			SourceURL:  it.SourceURL,
			SourceKind: it.SourceKind,
		})
		if err != nil {
			return extracted{}, err
		}
		o.recordCost(out.Cost)
		return extracted{Output: out}, nil
	})
	if err != nil {
		return "", err
	}
	out := ex.Output
	if out == nil {
		out = &extract.Output{}
	}

	if out.Gated != nil {
		return o.finishGated(ctx, ev, out, log)
	}

	cl, err := runStep(ctx, o, runID, StepClassify, func(ctx context.Context) (classified, error) {
		c, ledger, err := o.classifier.Classify(ctx, classify.Input{
			SourceKind: it.SourceKind,
			SourceURL:  it.SourceURL,
			Transcript: out.Transcript,
			Metadata:   out.Metadata,
			PageText:   out.PageText,
		})
		o.recordCost(ledger)
		if err != nil {
			return classified{}, err
		}
		return classified{Classification: c, Cost: ledger}, nil
	})
	if err != nil {
		return "", err
	}
	if cl.Classification == nil {
		log.Info("classification returned nothing")
	}

	sr, err := runStep(ctx, o, runID, StepResolveSummary, func(ctx context.Context) (summaryRepos, error) {
		c := cl.Classification
		if c == nil || o.resolver == nil || out.Degraded {
			return summaryRepos{}, nil
		}
		res, err := o.resolver.ResolveSummary(ctx, c.Title, c.Summary, out.Entities.Repos)
		if err != nil {
			return summaryRepos{}, err
		}
		o.recordCost(res.Cost)
		return summaryRepos{Repos: res.URLs(), Tools: res.Tools(), Cost: res.Cost}, nil
	})
	if err != nil {
		return "", err
	}

	entities := out.Entities.WithRepos(sr.Repos...).WithTools(sr.Tools...)
	if cl.Classification != nil {
		entities = entities.WithTechniques(cl.Classification.Techniques...)
	}
	transcript := out.Transcript
	if transcript == nil {
		transcript = out.PageText
	}

	costs, err := runStep(ctx, o, runID, StepSaveResults, func(ctx context.Context) (saved, error) {
		s := saved{
			ExtractionCost:     out.Cost.Total(),
			ClassificationCost: cl.Cost.Merge(sr.Cost).Total(),
		}
		return s, db.SaveResults(ctx, o.db, ev.UserID, ev.ItemID, db.Results{
			Transcript:         transcript,
			Classification:     cl.Classification,
			Entities:           entities,
			ExtractionCost:     s.ExtractionCost,
			ClassificationCost: s.ClassificationCost,
		})
	})
	if err != nil {
		return "", err
	}

	fi, err := runStep(ctx, o, runID, StepAssign, func(ctx context.Context) (filed, error) {
		return o.assign(ctx, ev, cl.Classification)
	})
	if err != nil {
		return "", err
	}

	if _, err := runStep(ctx, o, runID, StepEmbedding, func(ctx context.Context) (sideEffect, error) {
		return o.embed(ctx, ev, cl.Classification, log), nil
	}); err != nil {
		return "", err
	}

	if _, err := runStep(ctx, o, runID, StepInterests, func(ctx context.Context) (sideEffect, error) {
		return o.extractInterests(ctx, ev, cl.Classification, log), nil
	}); err != nil {
		return "", err
	}

	if ev.ChatID != nil {
		if _, err := runStep(ctx, o, runID, StepNotify, func(ctx context.Context) (done, error) {
			processed := *it
			processed.Entities = entities
			if c := cl.Classification; c != nil {
				processed.Title, processed.Summary = &c.Title, &c.Summary
			}
			o.notify(ctx, *ev.ChatID, notify.ProcessedMessage(&processed, fi.Names))
			return done{}, nil
		}); err != nil {
			return "", err
		}
	}

	log.Info("item processed",
		logger.Float64("extraction_cost", costs.ExtractionCost),
		logger.Float64("classification_cost", costs.ClassificationCost),
		logger.Int("repos", len(entities.Repos)),
		logger.Int("containers", len(fi.ContainerIDs)),
	)
	return OutcomeProcessed, nil
}

// finishGated is the early exit for login-gated content.
func (o *Orchestrator) finishGated(ctx context.Context, ev Event, out *extract.Output, log logger.Logger) (string, error) {
	runID := ev.runID()
	title := out.Gated.Title()

	if _, err := runStep(ctx, o, runID, StepSaveGated, func(ctx context.Context) (done, error) {
		transcript := out.Transcript
		if transcript == nil {
			transcript = out.PageText
		}
		return done{}, db.SaveGated(ctx, o.db, ev.UserID, ev.ItemID, title, transcript, out.Cost.Total())
	}); err != nil {
		return "", err
	}

	if ev.ChatID != nil {
		if _, err := runStep(ctx, o, runID, StepNotify, func(ctx context.Context) (done, error) {
			o.notify(ctx, *ev.ChatID, notify.GatedMessage(title))
			return done{}, nil
		}); err != nil {
			return "", err
		}
	}

	log.Info("gated item saved", logger.String("title", title), logger.String("gated_url", out.Gated.URL))
	return OutcomeGated, nil
}

// assign files a classified item. Items without a classification are not filed.
func (o *Orchestrator) assign(ctx context.Context, ev Event, c *item.Classification) (filed, error) {
	if c == nil {
		return filed{NoAssignment: true}, nil
	}
	containers, err := db.ListContainers(ctx, o.db, ev.UserID)
	if err != nil {
		return filed{}, err
	}
	anchors, err := o.filer.Anchors(ctx, ev.UserID)
	if err != nil {
		return filed{}, err
	}

	a, ledger, err := o.filer.Suggest(ctx, filing.ItemSummary{
		ID:      ev.ItemID,
		Title:   c.Title,
		Summary: c.Summary,
		Domain:  c.Domain,
		Tags:    c.Tags,
	}, containers, anchors)
	o.recordCost(ledger)
	if err != nil {
		return filed{}, err
	}
	if a.NoAssignment {
		return filed{NoAssignment: true, Cost: ledger}, nil
	}

	ids, err := o.filer.Apply(ctx, ev.UserID, ev.ItemID, a)
	if err != nil {
		return filed{}, err
	}
	result := filed{ContainerIDs: ids, NoAssignment: len(ids) == 0, Cost: ledger}
	for _, id := range ids {
		if cont, err := db.GetContainer(ctx, o.db, ev.UserID, id); err == nil {
			result.Names = append(result.Names, cont.Name)
		}
	}
	return result, nil
}

// embed stores the item's embedding. Failures are logged and skipped.
func (o *Orchestrator) embed(ctx context.Context, ev Event, c *item.Classification, log logger.Logger) sideEffect {
	if o.embedder == nil || c == nil || strings.TrimSpace(c.Title) == "" {
		return sideEffect{Skipped: true}
	}
	vector, err := o.embedder.Embed(ctx, embeddingText(c))
	if err == nil {
		err = db.SaveEmbedding(ctx, o.db, ev.UserID, ev.ItemID, o.embedder.Model(), vector)
	}
	if err != nil {
		log.Warn("embedding skipped", logger.Error(err))
		return sideEffect{Skipped: true}
	}
	return sideEffect{Detail: []string{o.embedder.Model()}}
}

func embeddingText(c *item.Classification) string {
	parts := []string{c.Title, c.Summary}
	if len(c.Tags) > 0 {
		parts = append(parts, strings.Join(c.Tags, ", "))
	}
	return strings.Join(parts, "\n\n")
}

// extractInterests records topic interests. Failures are logged and skipped.
func (o *Orchestrator) extractInterests(ctx context.Context, ev Event, c *item.Classification, log logger.Logger) sideEffect {
	if o.interests == nil || c == nil || strings.TrimSpace(c.Title) == "" {
		return sideEffect{Skipped: true}
	}
	topics, ledger, err := o.interests.Extract(ctx, ev.UserID, c)
	o.recordCost(ledger)
	if err != nil {
		log.Warn("interest extraction skipped", logger.Error(err))
		return sideEffect{Skipped: true, Cost: ledger}
	}
	return sideEffect{Detail: topics, Cost: ledger}
}

func (o *Orchestrator) notify(ctx context.Context, chatID int64, text string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ctx, chatID, text)
}

func (o *Orchestrator) recordCost(l cost.Ledger) {
	for _, p := range l.Providers() {
		o.metrics.CostTotal.WithLabelValues(p).Add(l.ByProvider[p])
	}
}

func logStep(runID, step string) []logger.Field {
	return []logger.Field{logger.String("run_id", runID), logger.String("step", step)}
}
