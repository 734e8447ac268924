package store

import (
	"encoding/binary"
	"math"
	"time"
)

// EncodeVector packs a float32 vector as a little-endian blob.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// DecodeVector unpacks a little-endian blob into a float32 vector.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// UpsertEmbedding stores or replaces the vector for a message row.
func (db *DB) UpsertEmbedding(messageID int64, model string, vec []float32) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO message_embeddings (message_id, model, dim, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO UPDATE SET
			model = excluded.model,
			dim = excluded.dim,
			vector = excluded.vector`,
		messageID, model, len(vec), EncodeVector(vec), now)
	return err
}

// AllEmbeddings loads every stored vector. The mirror is small enough that
// similarity search scores them brute-force in memory.
func (db *DB) AllEmbeddings() ([]EmbeddingRow, error) {
	rows, err := db.Query(`SELECT message_id, model, vector FROM message_embeddings`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []EmbeddingRow
	for rows.Next() {
		var r EmbeddingRow
		var blob []byte
		if err := rows.Scan(&r.MessageID, &r.Model, &blob); err != nil {
			return nil, err
		}
		r.Vector = DecodeVector(blob)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MessagesNeedingEmbedding returns messages with text but no stored vector,
// newest first. The indexer's backfill loop drains this set over time.
func (db *DB) MessagesNeedingEmbedding(limit int) ([]IndexEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT m.id, m.text
		FROM messages m
		LEFT JOIN message_embeddings e ON e.message_id = m.id
		WHERE e.message_id IS NULL AND m.text != ''
		ORDER BY m.created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.MessageID, &e.Text); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// EmbeddingCount returns the number of stored vectors.
func (db *DB) EmbeddingCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM message_embeddings`).Scan(&count)
	return count, err
}
