package extract

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/github"
	"github.com/hpungsan/trove/internal/item"
)

func TestRegistry_Dispatch(t *testing.T) {
	r := NewDefaultRegistry(Dependencies{
		Pages: &fakePages{pages: map[string]*Page{
			"https://example.com/post": {ContentType: "text/html", Body: []byte(articleHTML)},
		}},
	})

	out, err := r.Extract(context.Background(), Input{SourceURL: "https://example.com/post", SourceKind: item.SourceArticle})
	require.NoError(t, err)
	require.NotNil(t, out.PageText)

	_, err = r.Extract(context.Background(), Input{SourceURL: "x", SourceKind: "podcast"})
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}

func TestDiscoverRepos_ExplicitSkipsResolver(t *testing.T) {
	res := &fakeResolver{urls: []string{"https://github.com/never/used"}}
	text := "see github.com/a/one github.com/b/two github.com/c/three github.com/d/four"

	entities, ledger, err := discoverRepos(context.Background(), res, text, true)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://github.com/a/one",
		"https://github.com/b/two",
		"https://github.com/c/three",
	}, entities.Repos)
	assert.True(t, ledger.IsZero())
	assert.Zero(t, res.calls)
}

func TestDiscoverRepos_FallsBackToResolver(t *testing.T) {
	res := &fakeResolver{urls: []string{
		"https://github.com/a/one", "https://github.com/b/two",
		"https://github.com/c/three", "https://github.com/d/four",
	}}

	entities, ledger, err := discoverRepos(context.Background(), res, "no links here", true)
	require.NoError(t, err)
	assert.Len(t, entities.Repos, MaxReposPerItem)
	assert.InDelta(t, 0.01, ledger.Total(), 1e-9)

	_, _, err = discoverRepos(context.Background(), res, "no links here", false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.calls, "resolution disallowed")
}

func TestCodeRepoExtractor(t *testing.T) {
	repos := &fakeRepos{
		repo: &github.Repo{
			FullName: "acme/widget", Owner: "acme", Name: "widget",
			Stars: 120, Description: "Widgets", URL: "https://github.com/acme/widget",
		},
		readme: "# Widget\n\nBuilt on [gadget](https://github.com/acme/gadget).",
	}
	e := &CodeRepoExtractor{Repos: repos}

	out, err := e.Extract(context.Background(), Input{SourceURL: "https://github.com/acme/widget", SourceKind: item.SourceCodeRepo})
	require.NoError(t, err)
	require.NotNil(t, out.Metadata)
	assert.Equal(t, "acme/widget", out.Metadata.FullName)
	assert.Contains(t, out.Metadata.README, "Built on gadget")
	assert.Equal(t, []string{"https://github.com/acme/widget", "https://github.com/acme/gadget"}, out.Entities.Repos)
}

func TestCodeRepoExtractor_MetadataFailureIsHard(t *testing.T) {
	e := &CodeRepoExtractor{Repos: &fakeRepos{err: fmt.Errorf("status 502")}}
	_, err := e.Extract(context.Background(), Input{SourceURL: "https://github.com/acme/widget", SourceKind: item.SourceCodeRepo})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMetadataUnavailable))
	assert.True(t, errors.IsHard(err))

	_, err = e.Extract(context.Background(), Input{SourceURL: "https://github.com/acme", SourceKind: item.SourceCodeRepo})
	assert.True(t, errors.Is(err, errors.ErrMetadataUnavailable))
}

func TestCodeRepoExtractor_ReadmeFailureIsSoft(t *testing.T) {
	e := &CodeRepoExtractor{Repos: &fakeRepos{
		repo:      &github.Repo{FullName: "acme/widget", URL: "https://github.com/acme/widget"},
		readmeErr: fmt.Errorf("status 500"),
	}}
	out, err := e.Extract(context.Background(), Input{SourceURL: "https://github.com/acme/widget", SourceKind: item.SourceCodeRepo})
	require.NoError(t, err)
	assert.Empty(t, out.Metadata.README)
}

func TestVideoExtractor_Transcript(t *testing.T) {
	res := &fakeResolver{urls: []string{"https://github.com/ollama/ollama"}}
	e := &VideoExtractor{
		Kind:        item.SourceVideoShort,
		Transcripts: &fakeTranscripts{text: "today I set up oh llama"},
		Resolver:    res,
	}

	out, err := e.Extract(context.Background(), Input{SourceURL: "https://tiktok.com/@a/video/1", SourceKind: item.SourceVideoShort})
	require.NoError(t, err)
	assert.Equal(t, "today I set up oh llama", item.Text(out.Transcript))
	assert.False(t, out.Degraded)
	assert.Equal(t, []string{"https://github.com/ollama/ollama"}, out.Entities.Repos)
	assert.Equal(t, []string{"ollama"}, out.Entities.Tools)
	assert.Equal(t, 1, res.calls)
}

func TestVideoExtractor_DegradedFallbackNeverResolves(t *testing.T) {
	res := &fakeResolver{urls: []string{"https://github.com/hallucinated/repo"}}
	e := &VideoExtractor{
		Kind:        item.SourceVideoLong,
		Transcripts: &fakeTranscripts{err: fmt.Errorf("no captions")},
		Embeds:      &fakeEmbeds{embed: &Embed{Title: "My homelab tour", AuthorName: "Jane"}},
		Resolver:    res,
	}

	out, err := e.Extract(context.Background(), Input{SourceURL: "https://youtube.com/watch?v=1", SourceKind: item.SourceVideoLong})
	require.NoError(t, err)
	assert.True(t, out.Degraded)
	assert.Equal(t, "My homelab tour (by Jane)", item.Text(out.Transcript))
	assert.Empty(t, out.Entities.Repos)
	assert.Zero(t, res.calls)
}

func TestVideoExtractor_NothingIsHard(t *testing.T) {
	e := &VideoExtractor{
		Kind:        item.SourceVideoShort,
		Transcripts: &fakeTranscripts{},
		Embeds:      &fakeEmbeds{err: fmt.Errorf("404")},
	}
	_, err := e.Extract(context.Background(), Input{SourceURL: "https://tiktok.com/@a/video/1", SourceKind: item.SourceVideoShort})
	assert.True(t, errors.Is(err, errors.ErrExtractionEmpty))
}

func TestGatedKind(t *testing.T) {
	cases := map[string]string{
		"https://www.instagram.com/p/Cxyz/":              "instagram post",
		"https://instagram.com/reel/abc":                 "instagram reel",
		"https://www.linkedin.com/posts/jane_activity-1": "linkedin post",
		"https://m.facebook.com/story.php?id=1":          "facebook post",
	}
	for u, want := range cases {
		got, ok := GatedKind(u)
		assert.True(t, ok, u)
		assert.Equal(t, want, got, u)
	}

	for _, u := range []string{"https://example.com/blog", "https://www.instagram.com/", "not a url"} {
		_, ok := GatedKind(u)
		assert.False(t, ok, u)
	}
}

func TestGatedTitle(t *testing.T) {
	g := &Gated{Author: "@alice", Kind: "instagram post"}
	assert.Equal(t, "@alice shared: instagram post (login required)", g.Title())
	assert.Equal(t, "@unknown shared: x (login required)", (&Gated{Kind: "x"}).Title())
}
