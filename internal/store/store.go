package store

import (
	"context"
	"fmt"
	"time"

	"github.com/andresmejia3/cameo/internal/detlog"
	"github.com/andresmejia3/cameo/internal/export"
	"github.com/andresmejia3/cameo/internal/segment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Extraction statuses
const (
	StatusDone    = "done"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Store manages the PostgreSQL connection pool. It is safe for concurrent use by extract jobs.
type Store struct {
	pool *pgxpool.Pool
}

// Extraction is one row of the extractions table.
type Extraction struct {
	Output      string
	VideoID     string
	RunID       uuid.UUID
	Source      string
	Fingerprint string
	StartFrame  int
	FrameCount  int
	Seek        float64
	Duration    float64
	Crop        string
	Status      string
	Error       string
	CreatedAt   time.Time
}

// New establishes a connection pool and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// initSchema creates the tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			fps DOUBLE PRECISION NOT NULL,
			width INT NOT NULL,
			height INT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS face_segments (
			id BIGSERIAL PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id) ON DELETE CASCADE,
			max_gap DOUBLE PRECISION NOT NULL,
			start_frame INT NOT NULL,
			end_frame INT NOT NULL,
			start_time DOUBLE PRECISION NOT NULL,
			end_time DOUBLE PRECISION NOT NULL,
			detection_count INT NOT NULL,
			x_min DOUBLE PRECISION NOT NULL,
			y_min DOUBLE PRECISION NOT NULL,
			x_max DOUBLE PRECISION NOT NULL,
			y_max DOUBLE PRECISION NOT NULL
		);
		CREATE TABLE IF NOT EXISTS extractions (
			output TEXT PRIMARY KEY,
			video_id TEXT REFERENCES video_metadata(id) ON DELETE CASCADE,
			run_id UUID NOT NULL,
			source TEXT NOT NULL,
			fingerprint TEXT NOT NULL,
			start_frame INT NOT NULL,
			frame_count INT NOT NULL,
			seek DOUBLE PRECISION NOT NULL,
			duration DOUBLE PRECISION NOT NULL,
			crop TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS face_segments_video_id_idx ON face_segments (video_id);
		CREATE INDEX IF NOT EXISTS extractions_video_id_idx ON extractions (video_id);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the
// metadata and drops previously stored segments so a re-run does not duplicate them.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, path string, src detlog.FrameSource) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM face_segments WHERE video_id = $1", videoID); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_metadata (id, path, fps, width, height, indexed_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			indexed_at = NOW(), path = EXCLUDED.path,
			fps = EXCLUDED.fps, width = EXCLUDED.width, height = EXCLUDED.height
	`, videoID, path, src.FPS, src.Width, src.Height)
	return err
}

// InsertSegments saves the segments found under one gap threshold in a single batch.
func (s *Store) InsertSegments(ctx context.Context, videoID string, maxGap float64, segs []segment.Segment) error {
	if len(segs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, seg := range segs {
		cov := seg.Coverage()
		batch.Queue(`
			INSERT INTO face_segments (video_id, max_gap, start_frame, end_frame, start_time, end_time,
				detection_count, x_min, y_min, x_max, y_max)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, videoID, maxGap, seg.FrameStart(), seg.FrameEnd(), seg.StartSeconds(), seg.EndSeconds(),
			seg.Len(), cov.XMin, cov.YMin, cov.XMax, cov.YMax)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// CountSegments returns how many segments are stored for a video under maxGap.
func (s *Store) CountSegments(ctx context.Context, videoID string, maxGap float64) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM face_segments WHERE video_id = $1 AND max_gap = $2",
		videoID, maxGap).Scan(&n)
	return n, err
}

// RecordExtraction upserts the outcome of one extraction request. Outputs are content addressed,
// so a later run overwrites the status of an earlier one.
func (s *Store) RecordExtraction(ctx context.Context, videoID string, runID uuid.UUID, req export.Request, status string, extractErr error) error {
	errText := ""
	if extractErr != nil {
		errText = extractErr.Error()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO extractions (output, video_id, run_id, source, fingerprint, start_frame, frame_count,
			seek, duration, crop, status, error, created_at)
		VALUES ($1, $2, $3::uuid, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())
		ON CONFLICT (output) DO UPDATE SET
			run_id = EXCLUDED.run_id, status = EXCLUDED.status,
			error = EXCLUDED.error, created_at = NOW()
	`, req.Output, videoID, runID.String(), req.Source, req.Fingerprint, req.StartFrame, req.FrameCount,
		req.Seek, req.Duration, req.Crop.Filter(), status, errText)
	return err
}

// ListExtractions returns every recorded extraction, newest first.
func (s *Store) ListExtractions(ctx context.Context) ([]Extraction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT output, video_id, run_id::text, source, fingerprint, start_frame, frame_count,
			seek, duration, crop, status, error, created_at
		FROM extractions
		ORDER BY created_at DESC, output
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Extraction
	for rows.Next() {
		var e Extraction
		var runID string
		if err := rows.Scan(&e.Output, &e.VideoID, &runID, &e.Source, &e.Fingerprint, &e.StartFrame,
			&e.FrameCount, &e.Seek, &e.Duration, &e.Crop, &e.Status, &e.Error, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("bad run id for %s: %w", e.Output, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS extractions CASCADE;
		DROP TABLE IF EXISTS face_segments CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
