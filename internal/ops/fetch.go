package ops

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
)

// FetchInput contains parameters for the Fetch operation.
type FetchInput struct {
	UserID string
	ID     string
	// IncludeTranscript defaults to true (nil means default)
	IncludeTranscript *bool
}

// FetchOutput contains the result of the Fetch operation.
type FetchOutput struct {
	item.Item                   // embedded (copy, not pointer)
	Containers []item.Container `json:"containers"`
}

// Fetch retrieves one of the user's items with the containers it is filed in.
func Fetch(ctx context.Context, database *sql.DB, input FetchInput) (*FetchOutput, error) {
	userID, err := ValidateUser(input.UserID)
	if err != nil {
		return nil, err
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}

	it, err := db.GetItem(ctx, database, userID, id)
	if err != nil {
		return nil, err
	}
	containers, err := db.ContainersForItem(ctx, database, userID, id)
	if err != nil {
		return nil, err
	}

	output := &FetchOutput{
		Item:       *it, // copy, not pointer
		Containers: containers,
	}
	if input.IncludeTranscript != nil && !*input.IncludeTranscript {
		output.Transcript = nil
	}
	return output, nil
}
