package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
)

// ListInput contains parameters for the List operation.
type ListInput struct {
	UserID string
	Status string // optional: pending, processing, processed, failed
	Domain string // optional
	Limit  int    // default: 20, max: 100
	Offset int    // default: 0
}

// ItemSummary is the list view of an item; it omits the transcript.
type ItemSummary struct {
	ID         string          `json:"id"`
	SourceURL  string          `json:"source_url"`
	SourceKind item.SourceKind `json:"source_kind"`
	Status     item.Status     `json:"status"`
	Title      *string         `json:"title,omitempty"`
	Domain     *string         `json:"domain,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
	Gated      bool            `json:"gated,omitempty"`
	CapturedAt int64           `json:"captured_at"`
}

// ListOutput contains the result of the List operation.
type ListOutput struct {
	Items      []ItemSummary `json:"items"`
	Pagination Pagination    `json:"pagination"`
	Sort       string        `json:"sort"`
}

// List retrieves a page of the user's items, newest capture first.
func List(ctx context.Context, database *sql.DB, input ListInput) (*ListOutput, error) {
	userID, err := ValidateUser(input.UserID)
	if err != nil {
		return nil, err
	}

	var filter db.ItemFilter
	if s := strings.TrimSpace(input.Status); s != "" {
		status := item.Status(strings.ToLower(s))
		if !status.Valid() {
			return nil, errors.NewInvalidRequest("status must be one of: pending, processing, processed, failed")
		}
		filter.Status = &status
	}
	if d := strings.TrimSpace(input.Domain); d != "" {
		filter.Domain = &d
	}

	limit := clampLimit(input.Limit)
	offset := max(input.Offset, 0)

	items, total, err := db.ListItems(ctx, database, userID, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	summaries := make([]ItemSummary, 0, len(items))
	for _, it := range items {
		summaries = append(summaries, ItemSummary{
			ID:         it.ID,
			SourceURL:  it.SourceURL,
			SourceKind: it.SourceKind,
			Status:     it.Status,
			Title:      it.Title,
			Domain:     it.Domain,
			Tags:       it.Tags,
			Gated:      it.Gated,
			CapturedAt: it.CapturedAt,
		})
	}

	return &ListOutput{
		Items: summaries,
		Pagination: Pagination{
			Limit:   limit,
			Offset:  offset,
			HasMore: offset+len(summaries) < total,
			Total:   total,
		},
		Sort: "captured_at_desc",
	}, nil
}
