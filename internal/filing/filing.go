// Package filing assigns classified items to user containers.
//
// One completion proposes existing containers and new ones; the proposal is
// validated against what was actually supplied before anything is written.
// Applying an assignment is idempotent: new containers are looked up by
// normalized name before creation and join rows are inserted with
// ON CONFLICT DO NOTHING.
package filing

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hpungsan/trove/internal/cost"
	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
	"github.com/hpungsan/trove/internal/llm"
	"github.com/hpungsan/trove/internal/logger"
)

const (
	// MaxNewContainers caps containers created for one item.
	MaxNewContainers = 2
	// AnchorCount is how many of the user's largest containers are hinted.
	AnchorCount = 5

	maxNameChars = 60
)

// ItemSummary is the classified view of an item the filer sees.
type ItemSummary struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Domain  string   `json:"domain"`
	Tags    []string `json:"tags,omitempty"`
}

// NewContainer is a container the filer wants created.
type NewContainer struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Assignment is a validated filing decision.
type Assignment struct {
	ExistingIDs  []string       `json:"existing_ids"`
	Create       []NewContainer `json:"create"`
	NoAssignment bool           `json:"no_assignment"`
}

// Config wires a Service.
type Config struct {
	DB        *sql.DB
	Completer llm.Completer
	Provider  string
	Price     cost.PriceTable
	Logger    logger.Logger
}

// Service suggests and applies container assignments.
type Service struct {
	db        *sql.DB
	completer llm.Completer
	provider  string
	price     cost.PriceTable
	log       logger.Logger
}

// NewService creates a Service.
func NewService(cfg Config) *Service {
	if cfg.Provider == "" {
		cfg.Provider = cost.ProviderClassifier
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Service{
		db:        cfg.DB,
		completer: cfg.Completer,
		provider:  cfg.Provider,
		price:     cfg.Price,
		log:       cfg.Logger,
	}
}

type proposal struct {
	ExistingIDs []string       `json:"existing_ids"`
	Create      []NewContainer `json:"create"`
}

// Suggest asks the model where the item belongs. Rejected output becomes
// NoAssignment; completion transport errors are returned.
func (s *Service) Suggest(ctx context.Context, it ItemSummary, containers []item.Container, anchors []string) (*Assignment, cost.Ledger, error) {
	var ledger cost.Ledger
	resp, err := s.completer.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			llm.System(filingPrompt),
			llm.User(buildPrompt(it, containers, anchors)),
		},
		Temperature: 0.1,
		MaxTokens:   400,
	})
	if err != nil {
		return nil, ledger, fmt.Errorf("filing completion: %w", err)
	}
	ledger = ledger.Charge(s.provider, s.price, resp.Usage)

	p, err := llm.DecodeJSON[proposal]("filing", resp.Text)
	if errors.IsRejectedOutput(err) {
		s.log.Warn("filing output rejected", logger.String("item_id", it.ID), logger.Error(err))
		return &Assignment{NoAssignment: true}, ledger, nil
	}
	if err != nil {
		return nil, ledger, err
	}
	return Validate(p.ExistingIDs, p.Create, containers), ledger, nil
}

// Validate reduces a raw proposal to what can be applied: existing IDs must
// be among containers, new containers need a name and description, and a
// new name matching a supplied container becomes that container.
func Validate(existingIDs []string, create []NewContainer, containers []item.Container) *Assignment {
	byID := make(map[string]bool, len(containers))
	byName := make(map[string]string, len(containers))
	for _, c := range containers {
		byID[c.ID] = true
		byName[item.Normalize(c.Name)] = c.ID
	}

	a := &Assignment{}
	seenID := make(map[string]bool)
	addID := func(id string) {
		if !seenID[id] {
			seenID[id] = true
			a.ExistingIDs = append(a.ExistingIDs, id)
		}
	}
	for _, id := range existingIDs {
		id = strings.TrimSpace(id)
		if byID[id] {
			addID(id)
		}
	}

	seenName := make(map[string]bool)
	for _, nc := range create {
		name := strings.TrimSpace(nc.Name)
		desc := strings.TrimSpace(nc.Description)
		if name == "" || desc == "" {
			continue
		}
		if len([]rune(name)) > maxNameChars {
			name = string([]rune(name)[:maxNameChars])
		}
		norm := item.Normalize(name)
		if id, ok := byName[norm]; ok {
			addID(id)
			continue
		}
		if seenName[norm] || len(a.Create) == MaxNewContainers {
			continue
		}
		seenName[norm] = true
		a.Create = append(a.Create, NewContainer{Name: name, Description: desc})
	}

	a.NoAssignment = len(a.ExistingIDs) == 0 && len(a.Create) == 0
	return a
}

// Apply files the item into the assignment's containers, creating new ones
// as needed, and returns the container IDs in assignment order.
func (s *Service) Apply(ctx context.Context, userID, itemID string, a *Assignment) ([]string, error) {
	if a == nil || a.NoAssignment {
		return nil, nil
	}

	ids := make([]string, 0, len(a.ExistingIDs)+len(a.Create))
	seen := make(map[string]bool)
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	for _, id := range a.ExistingIDs {
		c, err := db.GetContainer(ctx, s.db, userID, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				s.log.Warn("assigned container no longer exists", logger.String("container_id", id))
				continue
			}
			return nil, err
		}
		add(c.ID)
	}

	for _, nc := range a.Create {
		c, err := s.findOrCreate(ctx, userID, nc)
		if err != nil {
			return nil, err
		}
		add(c.ID)
	}

	for _, id := range ids {
		if _, err := db.AddContainerItem(ctx, s.db, id, itemID); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// findOrCreate returns the user's container with nc's normalized name,
// creating it when absent. A concurrent creator winning the unique index
// is resolved by re-reading.
func (s *Service) findOrCreate(ctx context.Context, userID string, nc NewContainer) (*item.Container, error) {
	norm := item.Normalize(nc.Name)
	c, err := db.FindContainerByName(ctx, s.db, userID, norm)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	id, err := item.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	c = &item.Container{
		ID:          id,
		UserID:      userID,
		Name:        nc.Name,
		NameNorm:    norm,
		Description: nc.Description,
		CreatedAt:   time.Now().Unix(),
	}
	err = db.InsertContainer(ctx, s.db, c)
	if err == db.ErrUniqueConstraint {
		return db.FindContainerByName(ctx, s.db, userID, norm)
	}
	if err != nil {
		return nil, err
	}
	s.log.Info("container created", logger.String("container_id", id), logger.String("name", nc.Name))
	return c, nil
}

// Anchors returns the names of the user's largest containers.
func (s *Service) Anchors(ctx context.Context, userID string) ([]string, error) {
	top, err := db.TopContainers(ctx, s.db, userID, AnchorCount)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(top))
	for _, c := range top {
		names = append(names, c.Name)
	}
	return names, nil
}
