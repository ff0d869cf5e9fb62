package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/github"
	"github.com/hpungsan/trove/internal/resolve"
)

type fakeResolver struct {
	urls  []string
	calls int
	texts []string
}

func (f *fakeResolver) ResolveLimit(_ context.Context, text string, _ []string, limit int) (*resolve.Result, error) {
	f.calls++
	f.texts = append(f.texts, text)
	res := &resolve.Result{Cost: cost.Ledger{}.Add(cost.ProviderClassifier, 0.01)}
	for i, u := range f.urls {
		if i == limit {
			break
		}
		name := u[strings.LastIndex(u, "/")+1:]
		res.Matches = append(res.Matches, resolve.Match{Candidate: resolve.Candidate{Name: name}, URL: u})
	}
	return res, nil
}

type fakeRepos struct {
	repo      *github.Repo
	readme    string
	err       error
	readmeErr error
}

func (f *fakeRepos) GetRepo(_ context.Context, owner, name string) (*github.Repo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.repo, nil
}

func (f *fakeRepos) README(context.Context, string, string) (string, error) {
	return f.readme, f.readmeErr
}

type fakeTranscripts struct {
	text string
	err  error
}

func (f *fakeTranscripts) Transcript(context.Context, string) (string, error) {
	return f.text, f.err
}

type fakeEmbeds struct {
	embed *Embed
	err   error
}

func (f *fakeEmbeds) Embed(context.Context, string) (*Embed, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.embed == nil {
		return nil, fmt.Errorf("no embed")
	}
	return f.embed, nil
}

type fakeSocial struct {
	post *SocialPost
	err  error
}

func (f *fakeSocial) Post(context.Context, string) (*SocialPost, cost.Ledger, error) {
	ledger := cost.Ledger{}.Add(cost.ProviderSocial, 0.02)
	if f.err != nil {
		return nil, ledger, f.err
	}
	return f.post, ledger, nil
}

// fakePages serves pages by URL; redirects map a URL to its final URL.
type fakePages struct {
	pages     map[string]*Page
	redirects map[string]string
	fetched   []string
}

func (f *fakePages) Fetch(_ context.Context, u string) (*Page, error) {
	f.fetched = append(f.fetched, u)
	final := u
	if r, ok := f.redirects[u]; ok {
		final = r
	}
	if p, ok := f.pages[final]; ok {
		cp := *p
		cp.URL, cp.FinalURL = u, final
		return &cp, nil
	}
	return &Page{URL: u, FinalURL: final}, fmt.Errorf("status 404")
}
