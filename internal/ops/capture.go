package ops

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
)

// CaptureInput contains parameters for the Capture operation.
type CaptureInput struct {
	UserID string
	URL    string
	// ChatID is the chat the capture came from, if any
	ChatID *int64
}

// CaptureOutput contains the result of the Capture operation.
type CaptureOutput struct {
	ID         string          `json:"id"`
	SourceURL  string          `json:"source_url"`
	SourceKind item.SourceKind `json:"source_kind"`
	Status     item.Status     `json:"status"`
	// Duplicate is set when the user had already captured this URL
	Duplicate bool `json:"duplicate"`
}

// Capture records a URL as a pending item. Capturing a URL the user already
// has returns the existing item instead of creating another.
func Capture(ctx context.Context, database *sql.DB, input CaptureInput) (*CaptureOutput, error) {
	userID, err := ValidateUser(input.UserID)
	if err != nil {
		return nil, err
	}
	sourceURL, err := ValidateURL(input.URL)
	if err != nil {
		return nil, err
	}

	if existing, err := db.GetItemByURL(ctx, database, userID, sourceURL); err == nil {
		return captureOutput(existing, true), nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	id, err := item.NewID()
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	it := &item.Item{
		ID:         id,
		UserID:     userID,
		SourceURL:  sourceURL,
		SourceKind: item.DetectSourceKind(sourceURL),
		Status:     item.StatusPending,
		ChatID:     input.ChatID,
		CapturedAt: time.Now().Unix(),
	}

	if err := db.InsertItem(ctx, database, it); err != nil {
		if err != db.ErrUniqueConstraint {
			return nil, err
		}
		// Lost a race with a concurrent capture of the same URL
		existing, getErr := db.GetItemByURL(ctx, database, userID, sourceURL)
		if getErr != nil {
			return nil, getErr
		}
		return captureOutput(existing, true), nil
	}

	return captureOutput(it, false), nil
}

func captureOutput(it *item.Item, duplicate bool) *CaptureOutput {
	return &CaptureOutput{
		ID:         it.ID,
		SourceURL:  it.SourceURL,
		SourceKind: it.SourceKind,
		Status:     it.Status,
		Duplicate:  duplicate,
	}
}
