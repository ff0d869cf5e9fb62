package db

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hpungsan/trove/internal/errors"
	"github.com/hpungsan/trove/internal/item"
)

// SaveEmbedding stores (or replaces) an item's embedding vector.
func SaveEmbedding(ctx context.Context, db *sql.DB, userID, itemID, model string, vector []float32) error {
	if len(vector) == 0 {
		return errors.NewInvalidRequest("embedding vector is empty")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO item_embeddings (item_id, user_id, model, dims, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			model = excluded.model, dims = excluded.dims,
			vector = excluded.vector, created_at = excluded.created_at
	`, itemID, userID, model, len(vector), encodeVector(vector), time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetEmbedding returns the stored vector for an item owned by userID.
func GetEmbedding(ctx context.Context, db *sql.DB, userID, itemID string) ([]float32, error) {
	var blob []byte
	err := db.QueryRowContext(ctx,
		`SELECT vector FROM item_embeddings WHERE item_id = ? AND user_id = ?`, itemID, userID).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound("embedding", itemID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	vector, err := decodeVector(blob)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return vector, nil
}

// encodeVector packs float32s little-endian, 4 bytes each.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

// Interest is a weighted topic for a user.
type Interest struct {
	Topic     string  `json:"topic"`
	Weight    float64 `json:"weight"`
	UpdatedAt int64   `json:"updated_at"`
}

// UpsertInterest adds weight to a user's topic, creating it if needed.
func UpsertInterest(ctx context.Context, db *sql.DB, userID, topic string, weight float64) error {
	topic = strings.TrimSpace(topic)
	norm := item.Normalize(topic)
	if norm == "" {
		return errors.NewInvalidRequest("topic must not be empty")
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO interests (user_id, topic_norm, topic, weight, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, topic_norm) DO UPDATE SET
			weight = interests.weight + excluded.weight, updated_at = excluded.updated_at
	`, userID, norm, topic, weight, time.Now().Unix())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListInterests returns a user's heaviest topics.
func ListInterests(ctx context.Context, db *sql.DB, userID string, limit int) ([]Interest, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT topic, weight, updated_at FROM interests
		WHERE user_id = ? ORDER BY weight DESC, topic_norm LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	out := make([]Interest, 0)
	for rows.Next() {
		var in Interest
		if err := rows.Scan(&in.Topic, &in.Weight, &in.UpdatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
