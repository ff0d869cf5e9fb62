package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/github"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/logger"
)

const maxReadmeChars = 20000

// CodeRepoExtractor reads repository metadata and README directly from the
// code host. Missing metadata is a hard failure.
type CodeRepoExtractor struct {
	Repos  RepoSource
	Logger logger.Logger
}

// Extract implements Extractor.
func (e *CodeRepoExtractor) Extract(ctx context.Context, in Input) (*Output, error) {
	owner, name, err := parseRepoURL(in.SourceURL)
	if err != nil {
		return nil, errors.NewMetadataUnavailable(in.SourceURL, err)
	}
	if e.Repos == nil {
		return nil, errors.NewMetadataUnavailable(in.SourceURL, fmt.Errorf("no code host client configured"))
	}

	repo, err := e.Repos.GetRepo(ctx, owner, name)
	if err != nil {
		return nil, errors.NewMetadataUnavailable(in.SourceURL, err)
	}

	md := &item.RepoMetadata{
		FullName:    repo.FullName,
		Description: repo.Description,
		Stars:       repo.Stars,
		Language:    repo.Language,
		Topics:      repo.Topics,
		URL:         repo.URL,
	}
	readme, err := e.Repos.README(ctx, owner, name)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.logger().Warn("readme fetch failed", logger.String("repo", repo.FullName), logger.Error(err))
	} else if readme != "" {
		text := github.MarkdownText(readme)
		if len(text) > maxReadmeChars {
			text = strings.ToValidUTF8(text[:maxReadmeChars], "")
		}
		md.README = text
	}

	self := repo.URL
	if item.NormalizeRepoURL(self) == "" {
		self = item.CanonicalRepoURL(owner, name)
	}
	refs := append([]string{self}, github.FindRepoURLs(readme)...)
	var entities item.Entities
	entities = entities.WithRepos(refs...)
	if len(entities.Repos) > MaxReposPerItem {
		entities.Repos = entities.Repos[:MaxReposPerItem]
	}

	return &Output{Metadata: md, Entities: entities}, nil
}

func (e *CodeRepoExtractor) logger() logger.Logger {
	if e.Logger == nil {
		return logger.NewNop()
	}
	return e.Logger
}

func parseRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse repository url: %w", err)
	}
	owner, repo, ok := item.SplitRepoPath(u.Path)
	if !ok {
		return "", "", fmt.Errorf("not a repository url: %s", raw)
	}
	return owner, repo, nil
}
