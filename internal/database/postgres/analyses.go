package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-grouper/internal/database"
	"github.com/kozaktomas/face-grouper/internal/facematch"
)

// AnalysisRepository implements database.AnalysisCache on PostgreSQL.
type AnalysisRepository struct {
	pool *Pool
}

// NewAnalysisRepository creates a new PostgreSQL analysis repository.
func NewAnalysisRepository(pool *Pool) *AnalysisRepository {
	return &AnalysisRepository{pool: pool}
}

// Get returns the cached detections for key.
func (r *AnalysisRepository) Get(ctx context.Context, key database.Key) ([]facematch.Detection, bool, error) {
	var id int64
	err := r.pool.db.QueryRowContext(ctx, `
		SELECT id FROM analyses
		WHERE path = $1 AND size = $2 AND mod_time = $3 AND model = $4
	`, key.Path, key.Size, key.ModTime.UnixNano(), key.Model).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query analysis: %w", err)
	}

	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT score, embedding FROM analysis_faces
		WHERE analysis_id = $1
		ORDER BY face_index
	`, id)
	if err != nil {
		return nil, false, fmt.Errorf("query faces: %w", err)
	}
	defer rows.Close()

	dets := []facematch.Detection{}
	for rows.Next() {
		var score float64
		var vec sql.Null[pgvector.Vector]
		if err := rows.Scan(&score, &vec); err != nil {
			return nil, false, fmt.Errorf("scan face: %w", err)
		}
		det := facematch.Detection{Score: score}
		if vec.Valid {
			det.Embedding = vec.V.Slice()
		}
		dets = append(dets, det)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate faces: %w", err)
	}
	return dets, true, nil
}

// Put stores detections for key, replacing any earlier analysis.
func (r *AnalysisRepository) Put(ctx context.Context, key database.Key, dets []facematch.Detection) error {
	tx, err := r.pool.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM analyses
		WHERE path = $1 AND size = $2 AND mod_time = $3 AND model = $4
	`, key.Path, key.Size, key.ModTime.UnixNano(), key.Model); err != nil {
		return fmt.Errorf("delete previous analysis: %w", err)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO analyses (path, size, mod_time, model, face_count)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, key.Path, key.Size, key.ModTime.UnixNano(), key.Model, len(dets)).Scan(&id); err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}

	for i, det := range dets {
		var embedding any
		if det.HasEmbedding() {
			embedding = pgvector.NewVector(det.Embedding)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO analysis_faces (analysis_id, face_index, score, embedding)
			VALUES ($1, $2, $3, $4)
		`, id, i, det.Score, embedding); err != nil {
			return fmt.Errorf("insert face %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

// Count returns the number of cached analyses.
func (r *AnalysisRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.pool.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM analyses").Scan(&count); err != nil {
		return 0, fmt.Errorf("count analyses: %w", err)
	}
	return count, nil
}

// Clear removes all cached analyses.
func (r *AnalysisRepository) Clear(ctx context.Context) error {
	if _, err := r.pool.db.ExecContext(ctx, "TRUNCATE analyses, analysis_faces"); err != nil {
		return fmt.Errorf("truncate analyses: %w", err)
	}
	return nil
}

// Close closes the underlying pool.
func (r *AnalysisRepository) Close() error {
	return r.pool.Close()
}
