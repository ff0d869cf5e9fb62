// Package interests derives weighted topic interests from processed items.
package interests

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/logger"
)

const (
	// MaxTopics caps topics taken from one item.
	MaxTopics = 5

	maxTopicChars = 40
)

// Config wires an Extractor.
type Config struct {
	DB        *sql.DB
	Completer llm.Completer
	Provider  string
	Price     cost.PriceTable
	Logger    logger.Logger
}

// Extractor records a user's interests from classified items.
type Extractor struct {
	db        *sql.DB
	completer llm.Completer
	provider  string
	price     cost.PriceTable
	log       logger.Logger
}

// New creates an Extractor.
func New(cfg Config) *Extractor {
	if cfg.Provider == "" {
		cfg.Provider = cost.ProviderClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Extractor{
		db:        cfg.DB,
		completer: cfg.Completer,
		provider:  cfg.Provider,
		price:     cfg.Price,
		log:       cfg.Logger,
	}
}

type topicList struct {
	Topics []string `json:"topics"`
}

// Extract asks for the item's topics and adds one unit of weight to each.
// Items without a title are skipped. Rejected model output records nothing.
func (x *Extractor) Extract(ctx context.Context, userID string, c *item.Classification) ([]string, cost.Ledger, error) {
	var ledger cost.Ledger
	if c == nil || strings.TrimSpace(c.Title) == "" {
		return nil, ledger, nil
	}

	resp, err := x.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(topicsPrompt),
			llm.User(itemText(c)),
		},
		Temperature: 0.2,
		MaxTokens:   200,
	})
	if err != nil {
		return nil, ledger, fmt.Errorf("interest completion: %w", err)
	}
	ledger = ledger.Charge(x.provider, x.price, resp.Usage)

	list, err := llm.DecodeJSON[topicList]("interests", resp.Text)
	if err != nil {
		x.log.Warn("interest output rejected", logger.Error(err))
		return nil, ledger, nil
	}

	topics := cleanTopics(list.Topics)
	for _, topic := range topics {
		if err := db.UpsertInterest(ctx, x.db, userID, topic, 1); err != nil {
			return nil, ledger, err
		}
	}
	return topics, ledger, nil
}

const topicsPrompt = `You maintain a profile of what a reader cares about.
Given one saved item, name the broader topics it shows interest in.
Use short noun phrases of one to three words, such as "local llms" or "home automation".

Respond with JSON only: {"topics": ["..."]}`

func itemText(c *item.Classification) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title: %s\n", c.Title)
	if c.Summary != "" {
		fmt.Fprintf(&b, "summary: %s\n", c.Summary)
	}
	if len(c.Tags) > 0 {
		fmt.Fprintf(&b, "tags: %s\n", strings.Join(c.Tags, ", "))
	}
	return b.String()
}

func cleanTopics(raw []string) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, MaxTopics)
	for _, t := range raw {
		t = strings.TrimSpace(t)
		norm := item.Normalize(t)
		if norm == "" || len([]rune(t)) > maxTopicChars || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, t)
		if len(out) == MaxTopics {
			break
		}
	}
	return out
}
