package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
)

const containerColumns = `id, user_id, name, name_norm, description, item_count, created_at`

// InsertContainer stores a new container. Returns ErrUniqueConstraint when
// the user already has a container with the same normalized name.
func InsertContainer(ctx context.Context, db *sql.DB, c *item.Container) error {
	var description sql.NullString
	if c.Description != "" {
		description = sql.NullString{String: c.Description, Valid: true}
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO containers (`+containerColumns+`)
		VALUES (?, ?, ?, ?, ?, 0, ?)
	`, c.ID, c.UserID, c.Name, c.NameNorm, description, c.CreatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrUniqueConstraint
		}
		return errors.NewInternal(err)
	}
	return nil
}

// GetContainer retrieves a container owned by userID.
func GetContainer(ctx context.Context, db *sql.DB, userID, id string) (*item.Container, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE id = ? AND user_id = ?`, id, userID)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("container", id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// FindContainerByName looks a container up by normalized name.
func FindContainerByName(ctx context.Context, db *sql.DB, userID, nameNorm string) (*item.Container, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM containers WHERE user_id = ? AND name_norm = ?`, userID, nameNorm)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("container", nameNorm)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return c, nil
}

// ListContainers returns all of a user's containers ordered by name.
func ListContainers(ctx context.Context, db *sql.DB, userID string) ([]item.Container, error) {
	return queryContainers(ctx, db,
		`SELECT `+containerColumns+` FROM containers WHERE user_id = ? ORDER BY name_norm`, userID)
}

// TopContainers returns the user's n largest containers.
func TopContainers(ctx context.Context, db *sql.DB, userID string, n int) ([]item.Container, error) {
	return queryContainers(ctx, db,
		`SELECT `+containerColumns+` FROM containers WHERE user_id = ? AND item_count > 0
		 ORDER BY item_count DESC, name_norm LIMIT ?`, userID, n)
}

// ContainersForItem returns the containers an item is filed in.
func ContainersForItem(ctx context.Context, db *sql.DB, userID, itemID string) ([]item.Container, error) {
	return queryContainers(ctx, db, `
		SELECT c.id, c.user_id, c.name, c.name_norm, c.description, c.item_count, c.created_at
		FROM containers c
		JOIN container_items ci ON ci.container_id = c.id
		WHERE c.user_id = ? AND ci.item_id = ?
		ORDER BY c.name_norm
	`, userID, itemID)
}

// AddContainerItem files an item into a container. Re-adding an existing
// pair is a no-op; inserted reports whether a new row was written.
func AddContainerItem(ctx context.Context, db *sql.DB, containerID, itemID string) (inserted bool, err error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO container_items (container_id, item_id, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(container_id, item_id) DO NOTHING
	`, containerID, itemID, time.Now().Unix())
	if err != nil {
		return false, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return n > 0, nil
}

// CountContainerItems counts join rows for a container.
func CountContainerItems(ctx context.Context, db *sql.DB, containerID string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM container_items WHERE container_id = ?`, containerID).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func queryContainers(ctx context.Context, db *sql.DB, query string, args ...any) ([]item.Container, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	containers := make([]item.Container, 0)
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		containers = append(containers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return containers, nil
}

func scanContainer(row scanner) (*item.Container, error) {
	var (
		c           item.Container
		description sql.NullString
	)
	if err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.NameNorm, &description, &c.ItemCount, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Description = description.String
	return &c, nil
}
