package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ctslater/mops-daymops/internal/detection"
	"github.com/ctslater/mops-daymops/internal/pipeline"
	"github.com/ctslater/mops-daymops/internal/tracklet"
	"github.com/ctslater/mops-daymops/internal/version"
)

var _ pipeline.Sink = (*DB)(nil)

// ErrRunNotFound is returned when a run id has no linking_runs row.
var ErrRunNotFound = errors.New("linking run not found")

// Run is one row of linking_runs.
type Run struct {
	RunID           string
	CreatedAt       time.Time
	SoftwareVersion string
	GitSHA          string
	ConfigJSON      string
	DetectionCount  int
	CandidateCount  int
	TrackletCount   int
}

// RunFromResult describes res as a linking_runs row stamped with the
// running binary's version.
func RunFromResult(res *pipeline.Result) (Run, error) {
	cfg, err := json.Marshal(res.Config)
	if err != nil {
		return Run{}, fmt.Errorf("encode config: %w", err)
	}
	return Run{
		RunID:           res.RunID,
		CreatedAt:       res.StartedAt,
		SoftwareVersion: version.Version,
		GitSHA:          version.GitSHA,
		ConfigJSON:      string(cfg),
		DetectionCount:  res.Detections,
		CandidateCount:  len(res.Candidates),
		TrackletCount:   len(res.Tracklets),
	}, nil
}

// TrackletRow is one stored tracklet.
type TrackletRow struct {
	ID          int64
	RunID       string
	MJD         float64
	CenterRA    float64
	CenterDec   float64
	NDetections int
	RMS         *float64 // nil when the tracklet had no unique fit
}

// Persist stores a finished pipeline run, its tracklets and their
// detections in one transaction.
func (db *DB) Persist(ctx context.Context, store *detection.Store, res *pipeline.Result) error {
	run, err := RunFromResult(res)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertRun(ctx, tx, run); err != nil {
			return err
		}
		return saveTracklets(ctx, tx, run.RunID, store, res.Tracklets, res.Summaries)
	})
}

// RecordRun inserts a linking_runs row.
func (db *DB) RecordRun(ctx context.Context, run Run) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertRun(ctx, tx, run)
	})
}

// SaveTracklets stores s under runID, which must already be recorded.
// Detection rows are keyed by run and store index, so detections sharing an
// external id stay distinct.
func (db *DB) SaveTracklets(ctx context.Context, runID string, store *detection.Store, s tracklet.Set) error {
	sums, err := tracklet.SummarizeSet(store, s)
	if err != nil {
		return err
	}
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return saveTracklets(ctx, tx, runID, store, s, sums)
	})
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, run Run) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO linking_runs (
			run_id, created_at, software_version, git_sha, config_json,
			detection_count, candidate_count, tracklet_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.CreatedAt.UTC().Format(time.RFC3339Nano), run.SoftwareVersion, run.GitSHA,
		run.ConfigJSON, run.DetectionCount, run.CandidateCount, run.TrackletCount,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	return nil
}

func saveTracklets(ctx context.Context, tx *sql.Tx, runID string, store *detection.Store, s tracklet.Set, sums []tracklet.Summary) error {
	if len(sums) != len(s) {
		return fmt.Errorf("have %d summaries for %d tracklets", len(sums), len(s))
	}
	if err := s.Validate(store.Len()); err != nil {
		return err
	}

	upsertDet, err := tx.PrepareContext(ctx, `
		INSERT INTO detections (run_id, idx, ext_id, visit, mjd, ra, dec, snr)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, idx) DO UPDATE SET
			ext_id = excluded.ext_id, visit = excluded.visit, mjd = excluded.mjd,
			ra = excluded.ra, dec = excluded.dec, snr = excluded.snr
		RETURNING id`)
	if err != nil {
		return fmt.Errorf("prepare detection upsert: %w", err)
	}
	defer upsertDet.Close()

	insTracklet, err := tx.PrepareContext(ctx, `
		INSERT INTO tracklets (mjd, center_ra, center_dec, run_id, n_detections, rms)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare tracklet insert: %w", err)
	}
	defer insTracklet.Close()

	insLink, err := tx.PrepareContext(ctx, `INSERT INTO tracklet_links (tracklet, detection) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare link insert: %w", err)
	}
	defer insLink.Close()

	rowIDs := make(map[int]int64)
	for k, t := range s {
		for _, i := range t.Indices() {
			if _, ok := rowIDs[i]; ok {
				continue
			}
			d := store.At(i)
			var rowID int64
			err := upsertDet.QueryRowContext(ctx, runID, i, d.ID, d.ImageID, d.EpochMJD, d.RA, d.Dec, d.SNR).Scan(&rowID)
			if err != nil {
				return fmt.Errorf("upsert detection %d (index %d): %w", d.ID, i, err)
			}
			rowIDs[i] = rowID
		}

		sum := sums[k]
		var rms sql.NullFloat64
		if sum.Fitted && !math.IsNaN(sum.RMS) {
			rms = sql.NullFloat64{Float64: sum.RMS, Valid: true}
		}
		r, err := insTracklet.ExecContext(ctx, sum.MeanEpoch, sum.CenterRA, sum.CenterDec, runID, sum.Len, rms)
		if err != nil {
			return fmt.Errorf("insert tracklet %d: %w", k, err)
		}
		id, err := r.LastInsertId()
		if err != nil {
			return fmt.Errorf("tracklet %d id: %w", k, err)
		}
		for _, i := range t.Indices() {
			if _, err := insLink.ExecContext(ctx, id, rowIDs[i]); err != nil {
				return fmt.Errorf("link tracklet %d: %w", k, err)
			}
		}
	}
	return nil
}

// Runs lists recorded runs, newest first.
func (db *DB) Runs(ctx context.Context) ([]Run, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT run_id, created_at, software_version, git_sha, config_json,
			detection_count, candidate_count, tracklet_count
		FROM linking_runs ORDER BY created_at DESC, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun returns the run with the given id.
func (db *DB) GetRun(ctx context.Context, runID string) (Run, error) {
	row := db.QueryRowContext(ctx, `
		SELECT run_id, created_at, software_version, git_sha, config_json,
			detection_count, candidate_count, tracklet_count
		FROM linking_runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	var created string
	if err := s.Scan(&r.RunID, &created, &r.SoftwareVersion, &r.GitSHA, &r.ConfigJSON,
		&r.DetectionCount, &r.CandidateCount, &r.TrackletCount); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return Run{}, fmt.Errorf("run %s created_at: %w", r.RunID, err)
	}
	r.CreatedAt = t
	return r, nil
}

// Tracklets returns the tracklets stored for runID in insertion order.
func (db *DB) Tracklets(ctx context.Context, runID string) ([]TrackletRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, run_id, mjd, center_ra, center_dec, n_detections, rms
		FROM tracklets WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackletRow
	for rows.Next() {
		var t TrackletRow
		var rms sql.NullFloat64
		if err := rows.Scan(&t.ID, &t.RunID, &t.MJD, &t.CenterRA, &t.CenterDec, &t.NDetections, &rms); err != nil {
			return nil, err
		}
		if rms.Valid {
			v := rms.Float64
			t.RMS = &v
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TrackletDetectionIDs returns the external detection ids linked to a
// stored tracklet in store index order. Ids may repeat.
func (db *DB) TrackletDetectionIDs(ctx context.Context, trackletID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT d.ext_id FROM tracklet_links l
		JOIN detections d ON d.id = l.detection
		WHERE l.tracklet = ? ORDER BY d.idx, d.id`, trackletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
