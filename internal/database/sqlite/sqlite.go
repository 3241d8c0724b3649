// Package sqlite stores face analyses in a local SQLite file using the pure Go driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/kozaktomas/face-grouper/internal/config"
	"github.com/kozaktomas/face-grouper/internal/database"
	"github.com/kozaktomas/face-grouper/internal/facematch"
)

// DriverName is the database/sql name of the modernc driver.
const DriverName = "sqlite"

const schema = `
CREATE TABLE IF NOT EXISTS analyses (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    path        TEXT NOT NULL,
    size        INTEGER NOT NULL,
    mod_time    INTEGER NOT NULL,
    model       TEXT NOT NULL,
    face_count  INTEGER NOT NULL,
    analyzed_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE (path, size, mod_time, model)
);

CREATE TABLE IF NOT EXISTS analysis_faces (
    analysis_id INTEGER NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
    face_index  INTEGER NOT NULL,
    score       REAL NOT NULL,
    embedding   BLOB,
    PRIMARY KEY (analysis_id, face_index)
);
`

func init() {
	database.RegisterBackend("sqlite", func(ctx context.Context, cfg *config.CacheConfig) (database.AnalysisCache, error) {
		return Open(ctx, cfg.CachePath())
	})
}

// Cache implements database.AnalysisCache on SQLite.
type Cache struct {
	db *sql.DB
}

// Open opens or creates the cache file at path. ":memory:" gives a private
// in-memory cache.
func Open(ctx context.Context, path string) (*Cache, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite benefits from single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Cache{db: db}, nil
}

// Get returns the cached detections for key.
func (c *Cache) Get(ctx context.Context, key database.Key) ([]facematch.Detection, bool, error) {
	var id int64
	err := c.db.QueryRowContext(ctx,
		"SELECT id FROM analyses WHERE path = ? AND size = ? AND mod_time = ? AND model = ?",
		key.Path, key.Size, key.ModTime.UnixNano(), key.Model,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query analysis: %w", err)
	}

	rows, err := c.db.QueryContext(ctx,
		"SELECT score, embedding FROM analysis_faces WHERE analysis_id = ? ORDER BY face_index", id)
	if err != nil {
		return nil, false, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	dets := []facematch.Detection{}
	for rows.Next() {
		var det facematch.Detection
		var blob []byte
		if err := rows.Scan(&det.Score, &blob); err != nil {
			return nil, false, fmt.Errorf("scan face: %w", err)
		}
		if len(blob) > 0 {
			det.Embedding = deserializeVector(blob)
		}
		dets = append(dets, det)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate faces: %w", err)
	}
	return dets, true, nil
}

// Put stores detections for key, replacing any earlier analysis.
func (c *Cache) Put(ctx context.Context, key database.Key, dets []facematch.Detection) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM analyses WHERE path = ? AND size = ? AND mod_time = ? AND model = ?",
		key.Path, key.Size, key.ModTime.UnixNano(), key.Model,
	); err != nil {
		return fmt.Errorf("delete previous analysis: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO analyses (path, size, mod_time, model, face_count) VALUES (?, ?, ?, ?, ?)",
		key.Path, key.Size, key.ModTime.UnixNano(), key.Model, len(dets),
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read analysis id: %w", err)
	}

	for i, det := range dets {
		var blob []byte
		if det.HasEmbedding() {
			blob = serializeVector(det.Embedding)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO analysis_faces (analysis_id, face_index, score, embedding) VALUES (?, ?, ?, ?)",
			id, i, det.Score, blob,
		); err != nil {
			return fmt.Errorf("insert face %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

// Count returns the number of cached analyses.
func (c *Cache) Count(ctx context.Context) (int, error) {
	var count int
	if err := c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&count); err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return count, nil
}

// Clear removes all cached analyses.
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM analyses"); err != nil {
		return fmt.Errorf("delete analyses: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}
