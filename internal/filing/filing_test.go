package filing

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
)

type fixedCompleter struct {
	text  string
	err   error
	calls int
}

func (f *fixedCompleter) Complete(context.Context, llm.Request) (*llm.Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Response{Text: f.text, Usage: cost.Usage{InputTokens: 2000, OutputTokens: 100}}, nil
}

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	database, err := db.Init(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func insertItem(t *testing.T, database *sql.DB, id, userID string) {
	t.Helper()
	require.NoError(t, db.InsertItem(context.Background(), database, &item.Item{
		ID:         id,
		UserID:     userID,
		SourceURL:  "https://example.com/" + id,
		SourceKind: item.SourceArticle,
		Status:     item.StatusProcessing,
		CapturedAt: 1000,
	}))
}

func insertContainer(t *testing.T, database *sql.DB, id, userID, name string) item.Container {
	t.Helper()
	c := item.Container{ID: id, UserID: userID, Name: name, NameNorm: item.Normalize(name), CreatedAt: 1000}
	require.NoError(t, db.InsertContainer(context.Background(), database, &c))
	return c
}

func newService(database *sql.DB, c llm.Completer) *Service {
	return NewService(Config{
		DB:        database,
		Completer: c,
		Price:     cost.PriceTable{InputPerMillion: 0.30, OutputPerMillion: 2.50},
	})
}

var summary = ItemSummary{ID: "01ITEM0001", Title: "Ollama", Summary: "Run models locally", Domain: "ai-ml"}

func TestSuggest_UnknownIDIsNoAssignment(t *testing.T) {
	containers := []item.Container{{ID: "01CONT0001", Name: "Reading"}}
	c := &fixedCompleter{text: `{"existing_ids": ["unknown-id"], "create": []}`}

	a, ledger, err := newService(nil, c).Suggest(context.Background(), summary, containers, nil)
	require.NoError(t, err)
	assert.True(t, a.NoAssignment)
	assert.Empty(t, a.ExistingIDs)
	assert.Empty(t, a.Create)
	assert.Greater(t, ledger.For(cost.ProviderClassifier), 0.0)
}

func TestSuggest_MalformedOutputIsNoAssignment(t *testing.T) {
	c := &fixedCompleter{text: `I would file this under Reading.`}

	a, _, err := newService(nil, c).Suggest(context.Background(), summary, nil, nil)
	require.NoError(t, err)
	assert.True(t, a.NoAssignment)
}

func TestSuggest_TransportErrorReturned(t *testing.T) {
	c := &fixedCompleter{err: fmt.Errorf("connection reset")}

	a, _, err := newService(nil, c).Suggest(context.Background(), summary, nil, nil)
	require.Error(t, err)
	assert.Nil(t, a)
}

func TestValidate(t *testing.T) {
	containers := []item.Container{
		{ID: "c1", Name: "Local LLMs"},
		{ID: "c2", Name: "Home Lab"},
	}

	tests := []struct {
		name        string
		existing    []string
		create      []NewContainer
		wantIDs     []string
		wantCreate  []string
		wantNoneSet bool
	}{
		{
			name:     "known ids kept once",
			existing: []string{"c1", " c1 ", "c2"},
			wantIDs:  []string{"c1", "c2"},
		},
		{
			name:        "blank names and descriptions dropped",
			create:      []NewContainer{{Name: "  ", Description: "x"}, {Name: "Rust", Description: "   "}},
			wantNoneSet: true,
		},
		{
			name:    "create matching existing name reuses it",
			create:  []NewContainer{{Name: "local  llms", Description: "models on my box"}},
			wantIDs: []string{"c1"},
		},
		{
			name: "duplicate creates collapse and are capped",
			create: []NewContainer{
				{Name: "Rust", Description: "systems language"},
				{Name: "rust", Description: "again"},
				{Name: "Zig", Description: "another one"},
				{Name: "Nix", Description: "one too many"},
			},
			wantCreate: []string{"Rust", "Zig"},
		},
		{
			name:        "all empty",
			wantNoneSet: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Validate(tt.existing, tt.create, containers)
			assert.Equal(t, tt.wantNoneSet, a.NoAssignment)
			assert.Equal(t, tt.wantIDs, a.ExistingIDs)
			var names []string
			for _, nc := range a.Create {
				names = append(names, nc.Name)
			}
			assert.Equal(t, tt.wantCreate, names)
		})
	}
}

func TestApply_CreatesAndIsIdempotent(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	insertItem(t, database, "01ITEM0001", "u1")
	reading := insertContainer(t, database, "01CONT0001", "u1", "Reading")

	svc := newService(database, nil)
	a := &Assignment{
		ExistingIDs: []string{reading.ID},
		Create:      []NewContainer{{Name: "Local LLMs", Description: "Models that run on my hardware"}},
	}

	ids, err := svc.Apply(ctx, "u1", "01ITEM0001", a)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, reading.ID, ids[0])

	again, err := svc.Apply(ctx, "u1", "01ITEM0001", a)
	require.NoError(t, err)
	assert.Equal(t, ids, again, "second apply must reuse the created container")

	all, err := db.ListContainers(ctx, database, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	for _, id := range ids {
		c, err := db.GetContainer(ctx, database, "u1", id)
		require.NoError(t, err)
		rows, err := db.CountContainerItems(ctx, database, id)
		require.NoError(t, err)
		assert.Equal(t, 1, rows)
		assert.Equal(t, rows, c.ItemCount)
	}
}

func TestApply_ScopedByUser(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	insertItem(t, database, "01ITEM0001", "u1")
	other := insertContainer(t, database, "01CONT0009", "u2", "Reading")

	ids, err := newService(database, nil).Apply(ctx, "u1", "01ITEM0001", &Assignment{ExistingIDs: []string{other.ID}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	rows, err := db.CountContainerItems(ctx, database, other.ID)
	require.NoError(t, err)
	assert.Zero(t, rows)
}

func TestApply_NoAssignmentWritesNothing(t *testing.T) {
	database := setupDB(t)
	ids, err := newService(database, nil).Apply(context.Background(), "u1", "01ITEM0001", &Assignment{NoAssignment: true})
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestAnchors_LargestContainers(t *testing.T) {
	database := setupDB(t)
	ctx := context.Background()
	insertItem(t, database, "01ITEM0001", "u1")
	insertItem(t, database, "01ITEM0002", "u1")
	big := insertContainer(t, database, "01CONT0001", "u1", "Agents")
	small := insertContainer(t, database, "01CONT0002", "u1", "Editors")
	insertContainer(t, database, "01CONT0003", "u1", "Empty")

	for _, pair := range [][2]string{{big.ID, "01ITEM0001"}, {big.ID, "01ITEM0002"}, {small.ID, "01ITEM0001"}} {
		_, err := db.AddContainerItem(ctx, database, pair[0], pair[1])
		require.NoError(t, err)
	}

	anchors, err := newService(database, nil).Anchors(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Agents", "Editors"}, anchors)
}
