package workflow

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/trove/internal/classify"
	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/extract"
	"github.com/hpungsan/trove/internal/filing"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/notify"
	"github.com/hpungsan/trove/internal/resolve"
)

const repoURL = "https://github.com/ollama/ollama"

// fakeExtractor fails its first `failures` calls, then returns build().
type fakeExtractor struct {
	mu       sync.Mutex
	failures int
	always   bool
	build    func() *extract.Output
	calls    int
}

func (f *fakeExtractor) Extract(_ context.Context, in extract.Input) (*extract.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.always || f.calls <= f.failures {
		return nil, errors.NewMetadataUnavailable(in.SourceURL, context.DeadlineExceeded)
	}
	return f.build(), nil
}

func repoOutput() *extract.Output {
	transcript := "Ollama gets you up and running with large language models locally."
	return &extract.Output{
		Transcript: &transcript,
		Metadata:   &item.RepoMetadata{FullName: "ollama/ollama", Stars: 100000, URL: repoURL},
		Entities:   item.Entities{}.WithRepos(repoURL),
		Cost:       cost.Ledger{}.Add(cost.ProviderClassifier, 0.003),
	}
}

type fakeClassifier struct {
	mu    sync.Mutex
	c     *item.Classification
	calls int
}

func (f *fakeClassifier) Classify(context.Context, classify.Input) (*item.Classification, cost.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	ledger := cost.Ledger{}.Add(cost.ProviderClassifier, 0.002)
	if f.c == nil {
		return nil, ledger, nil
	}
	c := *f.c
	return &c, ledger, nil
}

func ollamaClassification() *item.Classification {
	return &item.Classification{
		Title:       "Ollama",
		Summary:     "Run large language models on your own machine.",
		Domain:      "ai-ml",
		ContentKind: "tool",
		Tags:        []string{"llm", "local"},
	}
}

type fakeResolver struct {
	mu    sync.Mutex
	urls  []string
	calls int
}

func (f *fakeResolver) ResolveSummary(_ context.Context, _, _ string, existing []string) (*resolve.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	res := &resolve.Result{Cost: cost.Ledger{}.Add(cost.ProviderClassifier, 0.001)}
	for _, u := range f.urls {
		if !item.ContainsRepo(existing, u) {
			name := u[strings.LastIndex(u, "/")+1:]
			res.Matches = append(res.Matches, resolve.Match{Candidate: resolve.Candidate{Name: name}, URL: u})
		}
	}
	return res, nil
}

// filingCompleter answers every filing prompt with text, or runs hook first.
type filingCompleter struct {
	mu    sync.Mutex
	text  string
	hook  func() error
	calls int
}

func (f *filingCompleter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.hook != nil {
		if err := f.hook(); err != nil {
			return nil, err
		}
	}
	return &llm.Response{Text: f.text, Usage: cost.Usage{InputTokens: 1000, OutputTokens: 50}}, nil
}

const createLocalLLMs = `{"existing_ids": [], "create": [{"name": "Local LLMs", "description": "Models that run on my own hardware"}]}`

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEmbedder) Model() string { return "test-embed" }

type fakeInterests struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeInterests) Extract(context.Context, string, *item.Classification) ([]string, cost.Ledger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return []string{"local llms"}, cost.Ledger{}, nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingNotifier) Send(_ context.Context, _ int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingNotifier) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

// harness bundles an orchestrator with its fakes over a real database.
type harness struct {
	db         *sql.DB
	cache      *db.StepStore
	extractor  *fakeExtractor
	classifier *fakeClassifier
	resolver   *fakeResolver
	filing     *filingCompleter
	embedder   *fakeEmbedder
	interests  *fakeInterests
	recorder   *recordingNotifier
	dispatch   *notify.BestEffort
	orch       *Orchestrator
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func newHarness(t *testing.T, database *sql.DB) *harness {
	t.Helper()
	h := &harness{
		db:         database,
		cache:      db.NewStepStore(database),
		extractor:  &fakeExtractor{build: repoOutput},
		classifier: &fakeClassifier{c: ollamaClassification()},
		resolver:   &fakeResolver{urls: []string{"https://github.com/ggerganov/llama.cpp"}},
		filing:     &filingCompleter{text: createLocalLLMs},
		embedder:   &fakeEmbedder{},
		interests:  &fakeInterests{},
		recorder:   &recordingNotifier{},
	}
	h.dispatch = notify.NewBestEffort(h.recorder, time.Second, nil)
	t.Cleanup(h.dispatch.Wait)
	h.rebuild(t, 3)
	return h
}

// rebuild replaces the orchestrator, as a process restart would.
func (h *harness) rebuild(t *testing.T, maxAttempts int) {
	t.Helper()
	orch, err := New(Config{
		DB:         h.db,
		Cache:      h.cache,
		Extractor:  h.extractor,
		Classifier: h.classifier,
		Resolver:   h.resolver,
		Filer: filing.NewService(filing.Config{
			DB:        h.db,
			Completer: h.filing,
			Price:     cost.PriceTable{InputPerMillion: 0.30, OutputPerMillion: 2.50},
		}),
		Embedder:     h.embedder,
		Interests:    h.interests,
		Notifier:     h.dispatch,
		MaxAttempts:  maxAttempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	})
	require.NoError(t, err)
	h.orch = orch
}

func insertPending(t *testing.T, database *sql.DB, id, rawURL string, chatID *int64) Event {
	t.Helper()
	it := &item.Item{
		ID:         id,
		UserID:     "u1",
		SourceURL:  rawURL,
		SourceKind: item.DetectSourceKind(rawURL),
		Status:     item.StatusPending,
		ChatID:     chatID,
		CapturedAt: time.Now().Unix(),
	}
	require.NoError(t, db.InsertItem(context.Background(), database, it))
	return EventFor(it)
}

func chat(id int64) *int64 { return &id }
