package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/llm"
)

// LLMSocialSource reads posts through a completion provider that can see
// live social content. It is billed on the social price table.
type LLMSocialSource struct {
	Completer llm.Completer
	Price     cost.PriceTable
}

func (p *SocialPost) Validate() error {
	if strings.TrimSpace(p.Text) == "" && strings.TrimSpace(p.VideoTranscript) == "" && len(p.Citations) == 0 {
		return fmt.Errorf("post has no content")
	}
	return nil
}

const socialPrompt = `Read the social media post at the URL below and report its content.

Respond with JSON only:
{"author": "<handle without @>", "text": "<full post text>", "video_transcript": "<spoken text of an attached video, or empty>", "citations": ["<every URL linked from the post>"]}

Copy the post text verbatim. Do not summarize. Leave fields empty when unknown.`

// Post implements SocialSource.
func (s *LLMSocialSource) Post(ctx context.Context, postURL string) (*SocialPost, cost.Ledger, error) {
	var ledger cost.Ledger
	resp, err := s.Completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(socialPrompt),
			llm.User(postURL),
		},
		Temperature: 0,
		MaxTokens:   4000,
	})
	if err != nil {
		return nil, ledger, fmt.Errorf("social completion: %w", err)
	}
	ledger = ledger.Charge(cost.ProviderSocial, s.Price, resp.Usage)

	post, err := llm.DecodeJSON[SocialPost]("extract.social", resp.Text)
	if err != nil {
		return nil, ledger, err
	}
	return &post, ledger, nil
}
