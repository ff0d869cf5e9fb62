package ops

import (
	"context"
	"database/sql"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/item"
)

// ListContainersInput contains parameters for the ListContainers operation.
type ListContainersInput struct {
	UserID string
}

// ListContainersOutput contains the result of the ListContainers operation.
type ListContainersOutput struct {
	Containers []item.Container `json:"containers"`
}

// ListContainers returns all of the user's containers by name.
func ListContainers(ctx context.Context, database *sql.DB, input ListContainersInput) (*ListContainersOutput, error) {
	userID, err := ValidateUser(input.UserID)
	if err != nil {
		return nil, err
	}
	containers, err := db.ListContainers(ctx, database, userID)
	if err != nil {
		return nil, err
	}
	return &ListContainersOutput{Containers: containers}, nil
}
