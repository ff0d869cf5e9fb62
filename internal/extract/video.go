package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/logger"
)

// VideoExtractor handles short and long-form video. A transcript is
// required; when the transcription service yields nothing the oEmbed title
// and author become a degraded transcript that is never used for
// repository discovery.
type VideoExtractor struct {
	Kind        item.SourceKind
	Transcripts TranscriptSource
	Embeds      EmbedSource
	Resolver    Resolver
	Logger      logger.Logger
}

// Extract implements Extractor.
func (e *VideoExtractor) Extract(ctx context.Context, in Input) (*Output, error) {
	log := e.Logger
	if log == nil {
		log = logger.NewNop()
	}

	var transcript string
	if e.Transcripts != nil {
		t, err := e.Transcripts.Transcript(ctx, in.SourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("transcription failed", logger.String("url", in.SourceURL), logger.Error(err))
		}
		transcript = strings.TrimSpace(t)
	}

	if transcript != "" {
		out := &Output{Transcript: strPtr(transcript)}
		entities, ledger, err := discoverRepos(ctx, e.Resolver, transcript, true)
		if err != nil {
			return nil, err
		}
		out.Entities, out.Cost = entities, ledger
		return out, nil
	}

	fallback := e.embedFallback(ctx, in.SourceURL, log)
	if fallback == "" {
		return nil, errors.NewExtractionEmpty(string(in.SourceKind), in.SourceURL)
	}
	// explicit URLs in a caption are still exact references
	entities, ledger, err := discoverRepos(ctx, nil, fallback, false)
	if err != nil {
		return nil, err
	}
	return &Output{Transcript: strPtr(fallback), Entities: entities, Cost: ledger, Degraded: true}, nil
}

func (e *VideoExtractor) embedFallback(ctx context.Context, videoURL string, log logger.Logger) string {
	if e.Embeds == nil {
		return ""
	}
	embed, err := e.Embeds.Embed(ctx, videoURL)
	if err != nil {
		log.Warn("oembed fallback failed", logger.String("url", videoURL), logger.Error(err))
		return ""
	}
	title := strings.TrimSpace(embed.Title)
	author := strings.TrimSpace(embed.AuthorName)
	switch {
	case title != "" && author != "":
		return fmt.Sprintf("%s (by %s)", title, author)
	case title != "":
		return title
	case author != "":
		return fmt.Sprintf("Video by %s", author)
	}
	return ""
}
