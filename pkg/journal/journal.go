// Package journal persists review decisions and upload history in SQLite,
// so features already handled are not proposed again after a restart.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

//go:embed pragmas.sql
var pragmasSQL string

// ErrNotFound is returned when no review exists for a feature.
var ErrNotFound = errors.New("review not found")

// Decision is what the user did with a feature.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionIgnored  Decision = "ignored"
)

// Review is one feature's recorded outcome.
type Review struct {
	FeatureID  string    `json:"feature_id"`
	Decision   Decision  `json:"decision"`
	ProposalID string    `json:"proposal_id,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	ReviewedAt time.Time `json:"reviewed_at"`
}

// Upload is one successful changeset upload.
type Upload struct {
	ChangesetID int64     `json:"changeset_id"`
	Created     int       `json:"created"`
	Modified    int       `json:"modified"`
	Comment     string    `json:"comment,omitempty"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// Journal wraps the SQLite connection.
type Journal struct {
	conn *sql.DB
	path string
}

// Open opens or creates the journal at path. ":memory:" gives a private,
// non-persistent journal.
func Open(path string) (*Journal, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	conn.SetMaxOpenConns(1)

	for _, pragma := range strings.Split(pragmasSQL, "\n") {
		pragma = strings.TrimSpace(pragma)
		if pragma == "" || strings.HasPrefix(pragma, "--") {
			continue
		}
		if _, err := conn.Exec(pragma); err != nil {
			conn.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Journal{conn: conn, path: path}, nil
}

// Path returns the database path.
func (j *Journal) Path() string { return j.path }

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.conn.Close()
}

// RecordReview stores r, replacing any earlier review of the same feature.
func (j *Journal) RecordReview(ctx context.Context, r Review) error {
	if r.FeatureID == "" {
		return errors.New("review without feature id")
	}
	if r.ReviewedAt.IsZero() {
		r.ReviewedAt = time.Now()
	}
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO reviews (feature_id, decision, proposal_id, summary, reviewed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(feature_id) DO UPDATE SET
		   decision = excluded.decision,
		   proposal_id = excluded.proposal_id,
		   summary = excluded.summary,
		   reviewed_at = excluded.reviewed_at`,
		r.FeatureID, string(r.Decision), r.ProposalID, r.Summary, r.ReviewedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording review: %w", err)
	}
	return nil
}

// Review returns the review of featureID.
func (j *Journal) Review(ctx context.Context, featureID string) (Review, error) {
	var r Review
	var decision string
	var ts int64
	err := j.conn.QueryRowContext(ctx,
		`SELECT feature_id, decision, proposal_id, summary, reviewed_at FROM reviews WHERE feature_id = ?`,
		featureID,
	).Scan(&r.FeatureID, &decision, &r.ProposalID, &r.Summary, &ts)
	if err == sql.ErrNoRows {
		return Review{}, ErrNotFound
	}
	if err != nil {
		return Review{}, fmt.Errorf("querying review: %w", err)
	}
	r.Decision = Decision(decision)
	r.ReviewedAt = time.UnixMilli(ts)
	return r, nil
}

// IsReviewed reports whether featureID has any recorded decision.
func (j *Journal) IsReviewed(ctx context.Context, featureID string) (bool, error) {
	_, err := j.Review(ctx, featureID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ReviewCounts returns the number of reviews per decision.
func (j *Journal) ReviewCounts(ctx context.Context) (map[Decision]int, error) {
	rows, err := j.conn.QueryContext(ctx, `SELECT decision, COUNT(*) FROM reviews GROUP BY decision`)
	if err != nil {
		return nil, fmt.Errorf("counting reviews: %w", err)
	}
	defer rows.Close()

	counts := make(map[Decision]int)
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return nil, fmt.Errorf("scanning review count: %w", err)
		}
		counts[Decision(d)] = n
	}
	return counts, rows.Err()
}

// RecordUpload appends u to the upload history.
func (j *Journal) RecordUpload(ctx context.Context, u Upload) error {
	if u.UploadedAt.IsZero() {
		u.UploadedAt = time.Now()
	}
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO uploads (changeset_id, created, modified, comment, uploaded_at) VALUES (?, ?, ?, ?, ?)`,
		u.ChangesetID, u.Created, u.Modified, u.Comment, u.UploadedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("recording upload: %w", err)
	}
	return nil
}

// Uploads returns up to limit uploads, newest first.
func (j *Journal) Uploads(ctx context.Context, limit int) ([]Upload, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.conn.QueryContext(ctx,
		`SELECT changeset_id, created, modified, comment, uploaded_at FROM uploads ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		var u Upload
		var ts int64
		if err := rows.Scan(&u.ChangesetID, &u.Created, &u.Modified, &u.Comment, &ts); err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		u.UploadedAt = time.UnixMilli(ts)
		out = append(out, u)
	}
	return out, rows.Err()
}
