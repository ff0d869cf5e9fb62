package workflow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/extract"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/notify"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func TestRun_ProcessesItem(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	ev := insertPending(t, database, "01ITEM0001", repoURL, chat(42))

	outcome, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Equal(t, 1, outcome.Attempts)

	it, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusProcessed, it.Status)
	require.NotNil(t, it.ProcessedAt)
	assert.Nil(t, it.ErrorMessage)
	assert.Equal(t, "Ollama", item.Text(it.Title))
	assert.Equal(t, "ai-ml", item.Text(it.Domain))
	assert.NotNil(t, it.Transcript)
	assert.Equal(t, []string{repoURL, "https://github.com/ggerganov/llama.cpp"}, it.Entities.Repos)
	require.NotNil(t, it.ExtractionCost)
	require.NotNil(t, it.ClassificationCost)
	assert.InDelta(t, 0.003, *it.ExtractionCost, 1e-9)
	assert.InDelta(t, 0.003, *it.ClassificationCost, 1e-9)

	containers, err := db.ContainersForItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	require.Len(t, containers, 1)
	assert.Equal(t, "Local LLMs", containers[0].Name)

	vector, err := db.GetEmbedding(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Len(t, vector, 3)
	assert.Equal(t, 1, h.interests.calls)

	h.dispatch.Wait()
	msgs := h.recorder.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Saved: Ollama")
	assert.Contains(t, msgs[0], "Filed in: Local LLMs")
}

func TestRun_RedeliveryIsIdempotent(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	ev := insertPending(t, database, "01ITEM0001", repoURL, chat(42))

	_, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	first, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)

	outcome, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)

	assert.Equal(t, 1, h.extractor.calls)
	assert.Equal(t, 1, h.classifier.calls)
	assert.Equal(t, 1, h.resolver.calls)
	assert.Equal(t, 1, h.filing.calls)
	assert.Equal(t, 1, h.embedder.calls)
	assert.Equal(t, 1, h.interests.calls)

	second, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, *first.ExtractionCost, *second.ExtractionCost)
	assert.Equal(t, *first.ClassificationCost, *second.ClassificationCost)

	containers, err := db.ListContainers(ctx, database, "u1")
	require.NoError(t, err)
	require.Len(t, containers, 1)
	rows, err := db.CountContainerItems(ctx, database, containers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, 1, containers[0].ItemCount)

	h.dispatch.Wait()
	assert.Len(t, h.recorder.messages(), 1, "redelivery must not notify twice")
}

func TestRun_MemoizedStepsSurviveRestart(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ev := insertPending(t, database, "01ITEM0001", repoURL, nil)

	// Metadata fetch fails twice, then the process dies while filing.
	h.extractor.failures = 2
	ctx, cancel := context.WithCancel(context.Background())
	h.filing.hook = func() error {
		cancel()
		return context.Canceled
	}

	_, err := h.orch.Run(ctx, ev)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, h.extractor.calls)
	assert.Equal(t, 1, h.classifier.calls)

	steps, err := h.cache.Steps(context.Background(), ev.ItemID)
	require.NoError(t, err)
	assert.Contains(t, steps, StepClassify)
	assert.NotContains(t, steps, StepAssign)

	h.filing.hook = nil
	h.rebuild(t, 3)
	outcome, err := h.orch.Run(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)

	assert.Equal(t, 3, h.extractor.calls, "extraction must not re-run after restart")
	assert.Equal(t, 1, h.classifier.calls, "classification must not be charged twice")
	assert.Equal(t, 1, h.resolver.calls)

	it, err := db.GetItem(context.Background(), database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.InDelta(t, 0.003, *it.ClassificationCost, 1e-9)
}

func TestRun_TerminalFailure(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	ev := insertPending(t, database, "01ITEM0001", repoURL, chat(7))
	h.extractor.always = true

	outcome, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Status)
	assert.Equal(t, 3, outcome.Attempts)
	assert.Equal(t, 3, h.extractor.calls)
	assert.Zero(t, h.classifier.calls)

	it, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusFailed, it.Status)
	require.NotNil(t, it.ErrorMessage)
	assert.Contains(t, *it.ErrorMessage, string(errors.ErrMetadataUnavailable))

	h.dispatch.Wait()
	assert.Equal(t, []string{notify.FailureNotice}, h.recorder.messages())

	// A later delivery that succeeds moves the item out of failed.
	h.extractor.always = false
	outcome, err = h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	it, err = db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusProcessed, it.Status)
	assert.Nil(t, it.ErrorMessage)
}

func TestRun_GatedEarlyExit(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	ev := insertPending(t, database, "01ITEM0001", "https://x.com/alice/status/1", chat(9))
	h.extractor.build = func() *extract.Output {
		text := "Check this out https://x.co/abc"
		return &extract.Output{
			Transcript: &text,
			Gated:      &extract.Gated{Author: "alice", Kind: "instagram post", URL: "https://www.instagram.com/p/abc/"},
		}
	}

	outcome, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGated, outcome.Status)

	it, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusProcessed, it.Status)
	assert.True(t, it.Gated)
	assert.Equal(t, "@alice shared: instagram post (login required)", item.Text(it.Title))
	assert.NotNil(t, it.ProcessedAt)

	assert.Zero(t, h.classifier.calls)
	assert.Zero(t, h.filing.calls)
	assert.Zero(t, h.embedder.calls)
	assert.Zero(t, h.interests.calls)

	containers, err := db.ContainersForItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Empty(t, containers)
	_, err = db.GetEmbedding(ctx, database, "u1", ev.ItemID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	h.dispatch.Wait()
	msgs := h.recorder.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "needs a login")
}

func TestRun_NoClassificationStillProcessed(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	ev := insertPending(t, database, "01ITEM0001", "https://example.com/post", nil)
	h.classifier.c = nil
	h.extractor.build = func() *extract.Output { return &extract.Output{} }

	outcome, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)

	it, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusProcessed, it.Status)
	assert.Nil(t, it.Title)
	assert.NotNil(t, it.ProcessedAt)

	assert.Zero(t, h.resolver.calls)
	assert.Zero(t, h.filing.calls)
	assert.Zero(t, h.embedder.calls)
	assert.Zero(t, h.interests.calls)
}

func TestRun_NotifySkippedWithoutChat(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ev := insertPending(t, database, "01ITEM0001", repoURL, nil)

	_, err := h.orch.Run(context.Background(), ev)
	require.NoError(t, err)

	steps, err := h.cache.Steps(context.Background(), ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, []string{
		StepMarkProcessing, StepFetchItem, StepExtractContent, StepClassify, StepResolveSummary,
		StepSaveResults, StepAssign, StepEmbedding, StepInterests,
	}, steps)

	h.dispatch.Wait()
	assert.Empty(t, h.recorder.messages())
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ev := insertPending(t, database, "01ITEM0001", repoURL, chat(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.orch.Run(ctx, ev)
	require.ErrorIs(t, err, context.Canceled)

	it, err := db.GetItem(context.Background(), database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, item.StatusPending, it.Status, "cancellation must not run the terminal handler")
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestStepKey(t *testing.T) {
	assert.Equal(t, "trove:step:01ITEM0001:classify", StepKey("01ITEM0001", StepClassify))
}

func TestRun_PersistsToolsAndTechniques(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	h.extractor.build = func() *extract.Output {
		out := repoOutput()
		out.Entities = out.Entities.WithTools("Ollama")
		return out
	}
	c := ollamaClassification()
	c.Techniques = []string{"Model quantization"}
	h.classifier.c = c
	ev := insertPending(t, database, "01ITEM0001", repoURL, nil)

	_, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)

	it, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Equal(t, []string{repoURL, "https://github.com/ggerganov/llama.cpp"}, it.Entities.Repos)
	assert.Equal(t, []string{"Ollama", "llama.cpp"}, it.Entities.Tools)
	assert.Equal(t, []string{"Model quantization"}, it.Entities.Techniques)
}

func TestRun_DegradedTranscriptSkipsSummaryResolution(t *testing.T) {
	database := openDB(t)
	h := newHarness(t, database)
	ctx := context.Background()
	h.extractor.build = func() *extract.Output {
		transcript := "Cool AI tool (by somecreator)"
		return &extract.Output{Transcript: &transcript, Degraded: true}
	}
	ev := insertPending(t, database, "01ITEM0001", "https://www.tiktok.com/@somecreator/video/123", nil)

	outcome, err := h.orch.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome.Status)
	assert.Zero(t, h.resolver.calls)

	it, err := db.GetItem(ctx, database, "u1", ev.ItemID)
	require.NoError(t, err)
	assert.Empty(t, it.Entities.Repos)
}
