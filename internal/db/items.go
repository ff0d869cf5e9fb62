package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
)

// ErrUniqueConstraint is returned when an insert violates a UNIQUE constraint.
var ErrUniqueConstraint = &errors.TroveError{
	Code:    "UNIQUE_CONSTRAINT",
	Status:  409,
	Message: "unique constraint violation",
}

const itemColumns = `
	id, user_id, source_url, source_kind, status, error_message, transcript,
	title, summary, domain, content_kind, tags_json, entities_json,
	extraction_cost, classification_cost, chat_id, gated,
	captured_at, processed_at`

// InsertItem stores a new item in the database.
func InsertItem(ctx context.Context, db *sql.DB, it *item.Item) error {
	tagsJSON, err := toJSON(it.Tags)
	if err != nil {
		return errors.NewInternal(err)
	}
	entitiesJSON, err := entitiesToJSON(it.Entities)
	if err != nil {
		return errors.NewInternal(err)
	}

	query := `
		INSERT INTO items (` + itemColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		it.ID, it.UserID, it.SourceURL, string(it.SourceKind), string(it.Status),
		toNullString(it.ErrorMessage), toNullString(it.Transcript),
		toNullString(it.Title), toNullString(it.Summary), toNullString(it.Domain), toNullString(it.ContentKind),
		tagsJSON, entitiesJSON,
		toNullFloat(it.ExtractionCost), toNullFloat(it.ClassificationCost),
		toNullInt(it.ChatID), boolToInt(it.Gated),
		it.CapturedAt, toNullInt(it.ProcessedAt), it.CapturedAt,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetItem retrieves an item owned by userID.
func GetItem(ctx context.Context, db *sql.DB, userID, id string) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE id = ? AND user_id = ?`
	it, err := scanItem(db.QueryRowContext(ctx, query, id, userID))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("item", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return it, nil
}

// GetItemByURL retrieves the item a user captured for sourceURL.
func GetItemByURL(ctx context.Context, db *sql.DB, userID, sourceURL string) (*item.Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE user_id = ? AND source_url = ?`
	it, err := scanItem(db.QueryRowContext(ctx, query, userID, sourceURL))
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("item", sourceURL)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return it, nil
}

// ItemFilter narrows ListItems.
type ItemFilter struct {
	Status *item.Status
	Domain *string
}

// ListItems returns a page of a user's items, newest first, plus the total count.
func ListItems(ctx context.Context, db *sql.DB, userID string, f ItemFilter, limit, offset int) ([]item.Item, int, error) {
	where := "user_id = ?"
	args := []any{userID}
	if f.Status != nil {
		where += " AND status = ?"
		args = append(args, string(*f.Status))
	}
	if f.Domain != nil {
		where += " AND domain = ?"
		args = append(args, *f.Domain)
	}

	var total int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM items WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, errors.NewInternal(err)
	}

	query := `SELECT ` + itemColumns + ` FROM items WHERE ` + where + `
		ORDER BY captured_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	defer rows.Close()

	items := make([]item.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, errors.NewInternal(err)
		}
		items = append(items, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errors.NewInternal(err)
	}
	return items, total, nil
}

// MarkProcessing moves an item into the processing state and clears any
// previous error.
func MarkProcessing(ctx context.Context, db *sql.DB, userID, id string) error {
	query := `
		UPDATE items SET status = 'processing', error_message = NULL, updated_at = ?
		WHERE id = ? AND user_id = ?
	`
	return execOne(ctx, db, id, query, time.Now().Unix(), id, userID)
}

// Results is everything the save step persists for a processed item.
type Results struct {
	Transcript         *string
	Classification     *item.Classification
	Entities           item.Entities
	ExtractionCost     float64
	ClassificationCost float64
}

// SaveResults persists extraction and classification output and marks the
// item processed. A nil Classification leaves the classification columns NULL.
func SaveResults(ctx context.Context, db *sql.DB, userID, id string, r Results) error {
	var title, summary, domain, contentKind *string
	var tags []string
	if c := r.Classification; c != nil {
		title, summary, domain, contentKind = &c.Title, &c.Summary, &c.Domain, &c.ContentKind
		tags = c.Tags
	}
	tagsJSON, err := toJSON(tags)
	if err != nil {
		return errors.NewInternal(err)
	}
	entitiesJSON, err := entitiesToJSON(r.Entities)
	if err != nil {
		return errors.NewInternal(err)
	}

	now := time.Now().Unix()
	query := `
		UPDATE items SET
			status = 'processed', error_message = NULL, transcript = ?,
			title = ?, summary = ?, domain = ?, content_kind = ?, tags_json = ?,
			entities_json = ?, extraction_cost = ?, classification_cost = ?,
			gated = 0, processed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`
	return execOne(ctx, db, id, query,
		toNullString(r.Transcript),
		toNullString(title), toNullString(summary), toNullString(domain), toNullString(contentKind), tagsJSON,
		entitiesJSON, r.ExtractionCost, r.ClassificationCost,
		now, now, id, userID,
	)
}

// SaveGated records a login-gated item as processed with a placeholder title.
func SaveGated(ctx context.Context, db *sql.DB, userID, id, title string, transcript *string, extractionCost float64) error {
	now := time.Now().Unix()
	query := `
		UPDATE items SET
			status = 'processed', error_message = NULL, gated = 1,
			title = ?, transcript = ?, extraction_cost = ?,
			processed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`
	return execOne(ctx, db, id, query, title, toNullString(transcript), extractionCost, now, now, id, userID)
}

// MarkFailed records a terminal failure with its message.
func MarkFailed(ctx context.Context, db *sql.DB, userID, id, message string) error {
	if strings.TrimSpace(message) == "" {
		message = "processing failed"
	}
	query := `
		UPDATE items SET status = 'failed', error_message = ?, updated_at = ?
		WHERE id = ? AND user_id = ?
	`
	return execOne(ctx, db, id, query, message, time.Now().Unix(), id, userID)
}

// ClaimPending atomically moves up to limit pending items to processing and
// returns them, oldest capture first.
func ClaimPending(ctx context.Context, db *sql.DB, limit int) ([]item.Item, error) {
	query := `
		UPDATE items SET status = 'processing', updated_at = ?
		WHERE id IN (
			SELECT id FROM items WHERE status = 'pending'
			ORDER BY captured_at, id LIMIT ?
		)
		RETURNING ` + itemColumns
	rows, err := db.QueryContext(ctx, query, time.Now().Unix(), limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	claimed := make([]item.Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		claimed = append(claimed, *it)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return claimed, nil
}

// ResetStaleProcessing returns items stuck in processing since before cutoff
// to pending so a worker picks them up again after a crash.
func ResetStaleProcessing(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	result, err := db.ExecContext(ctx,
		`UPDATE items SET status = 'pending' WHERE status = 'processing' AND updated_at < ?`,
		cutoff.Unix(),
	)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

// execOne runs an update expected to touch exactly one row.
func execOne(ctx context.Context, db *sql.DB, id, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.NewInternal(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewNotFound("item", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

// scanItem scans a single row into an Item.
func scanItem(row scanner) (*item.Item, error) {
	var (
		it                 item.Item
		sourceKind, status string
		errorMessage       sql.NullString
		transcript         sql.NullString
		title, summary     sql.NullString
		domain, kind       sql.NullString
		tagsJSON           sql.NullString
		entitiesJSON       sql.NullString
		extractionCost     sql.NullFloat64
		classificationCost sql.NullFloat64
		chatID             sql.NullInt64
		gated              int
		processedAt        sql.NullInt64
	)

	err := row.Scan(
		&it.ID, &it.UserID, &it.SourceURL, &sourceKind, &status, &errorMessage, &transcript,
		&title, &summary, &domain, &kind, &tagsJSON, &entitiesJSON,
		&extractionCost, &classificationCost, &chatID, &gated,
		&it.CapturedAt, &processedAt,
	)
	if err != nil {
		return nil, err
	}

	it.SourceKind = item.SourceKind(sourceKind)
	it.Status = item.Status(status)
	it.ErrorMessage = fromNullString(errorMessage)
	it.Transcript = fromNullString(transcript)
	it.Title = fromNullString(title)
	it.Summary = fromNullString(summary)
	it.Domain = fromNullString(domain)
	it.ContentKind = fromNullString(kind)
	it.ExtractionCost = fromNullFloat(extractionCost)
	it.ClassificationCost = fromNullFloat(classificationCost)
	it.ChatID = fromNullInt(chatID)
	it.ProcessedAt = fromNullInt(processedAt)
	it.Gated = gated != 0

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &it.Tags); err != nil {
			return nil, err
		}
	}
	if entitiesJSON.Valid && entitiesJSON.String != "" {
		if err := json.Unmarshal([]byte(entitiesJSON.String), &it.Entities); err != nil {
			return nil, err
		}
	}

	return &it, nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toJSON(tags []string) (sql.NullString, error) {
	if len(tags) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func entitiesToJSON(e item.Entities) (sql.NullString, error) {
	if e.IsEmpty() {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// toNullString converts a *string to sql.NullString.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// fromNullString converts a sql.NullString to *string.
func fromNullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}

func toNullInt(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

func fromNullInt(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	return &ni.Int64
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
