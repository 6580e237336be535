package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// The bulk payload format: a single JSON document with every video and its
// nested snapshots, produced once by the upstream exporter.

type videoRecord struct {
	ID             string           `json:"id"`
	CreatorID      string           `json:"creator_id"`
	VideoCreatedAt string           `json:"video_created_at"`
	ViewsCount     int64            `json:"views_count"`
	LikesCount     int64            `json:"likes_count"`
	CommentsCount  int64            `json:"comments_count"`
	ReportsCount   int64            `json:"reports_count"`
	CreatedAt      string           `json:"created_at"`
	UpdatedAt      string           `json:"updated_at"`
	Snapshots      []snapshotRecord `json:"snapshots"`
}

type snapshotRecord struct {
	ID                 string `json:"id"`
	VideoID            string `json:"video_id"`
	ViewsCount         int64  `json:"views_count"`
	LikesCount         int64  `json:"likes_count"`
	CommentsCount      int64  `json:"comments_count"`
	ReportsCount       int64  `json:"reports_count"`
	DeltaViewsCount    int64  `json:"delta_views_count"`
	DeltaLikesCount    int64  `json:"delta_likes_count"`
	DeltaCommentsCount int64  `json:"delta_comments_count"`
	DeltaReportsCount  int64  `json:"delta_reports_count"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type bulkPayload struct {
	Videos []videoRecord `json:"videos"`
}

const (
	insertVideoSQL = `
INSERT INTO videos (
	id, creator_id, video_created_at, views_count, likes_count, comments_count, reports_count, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO NOTHING`

	insertSnapshotSQL = `
INSERT INTO video_snapshots (
	id, video_id, views_count, likes_count, comments_count, reports_count,
	delta_views_count, delta_likes_count, delta_comments_count, delta_reports_count,
	created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO NOTHING`
)

// ImportFile loads the bulk JSON file into the two tables. The import is
// idempotent and runs at most once: when videos already has rows, nothing is
// read and false is returned.
func ImportFile(ctx context.Context, db *sql.DB, path string) (bool, error) {
	var hasData bool
	if err := db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM videos LIMIT 1)`).Scan(&hasData); err != nil {
		return false, fmt.Errorf("check existing data: %w", err)
	}
	if hasData {
		return false, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read bulk file: %w", err)
	}
	var payload bulkPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false, fmt.Errorf("decode bulk file: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin import tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	videoStmt, err := tx.PrepareContext(ctx, insertVideoSQL)
	if err != nil {
		return false, fmt.Errorf("prepare video insert: %w", err)
	}
	defer func() { _ = videoStmt.Close() }()

	snapshotStmt, err := tx.PrepareContext(ctx, insertSnapshotSQL)
	if err != nil {
		return false, fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer func() { _ = snapshotStmt.Close() }()

	for _, video := range payload.Videos {
		timestamps, err := parseTimestamps(video.VideoCreatedAt, video.CreatedAt, video.UpdatedAt)
		if err != nil {
			return false, fmt.Errorf("video %s: %w", video.ID, err)
		}
		if _, err := videoStmt.ExecContext(ctx,
			video.ID, video.CreatorID, timestamps[0],
			video.ViewsCount, video.LikesCount, video.CommentsCount, video.ReportsCount,
			timestamps[1], timestamps[2],
		); err != nil {
			return false, fmt.Errorf("insert video %s: %w", video.ID, err)
		}

		for _, snap := range video.Snapshots {
			snapTimes, err := parseTimestamps(snap.CreatedAt, snap.UpdatedAt)
			if err != nil {
				return false, fmt.Errorf("snapshot %s: %w", snap.ID, err)
			}
			if _, err := snapshotStmt.ExecContext(ctx,
				snap.ID, snap.VideoID,
				snap.ViewsCount, snap.LikesCount, snap.CommentsCount, snap.ReportsCount,
				snap.DeltaViewsCount, snap.DeltaLikesCount, snap.DeltaCommentsCount, snap.DeltaReportsCount,
				snapTimes[0], snapTimes[1],
			); err != nil {
				return false, fmt.Errorf("insert snapshot %s: %w", snap.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit import tx: %w", err)
	}
	return true, nil
}

func parseTimestamps(values ...string) ([]time.Time, error) {
	parsed := make([]time.Time, 0, len(values))
	for _, value := range values {
		normalized := strings.TrimSpace(value)
		ts, err := time.Parse(time.RFC3339, normalized)
		if err != nil {
			// Exports without an explicit zone are treated as UTC.
			ts, err = time.ParseInLocation("2006-01-02T15:04:05", normalized, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("invalid timestamp %q", value)
			}
		}
		parsed = append(parsed, ts)
	}
	return parsed, nil
}
