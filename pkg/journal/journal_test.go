package journal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "journal-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	j, err := Open(filepath.Join(tmpDir, "nested", "journal.db"))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestReviewRoundTrip(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	ok, err := j.IsReviewed(ctx, "f1")
	if err != nil || ok {
		t.Fatalf("IsReviewed on empty journal = %v, %v", ok, err)
	}
	if _, err := j.Review(ctx, "f1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := j.RecordReview(ctx, Review{FeatureID: "f1", Decision: DecisionIgnored}); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	if err := j.RecordReview(ctx, Review{FeatureID: "f1", Decision: DecisionAccepted, ProposalID: "p", Summary: "Modify node 1"}); err != nil {
		t.Fatalf("RecordReview again: %v", err)
	}

	r, err := j.Review(ctx, "f1")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if r.Decision != DecisionAccepted || r.ProposalID != "p" || r.Summary != "Modify node 1" {
		t.Errorf("unexpected review %+v", r)
	}
	if r.ReviewedAt.IsZero() {
		t.Error("expected reviewed_at to be set")
	}

	ok, err = j.IsReviewed(ctx, "f1")
	if err != nil || !ok {
		t.Errorf("IsReviewed = %v, %v", ok, err)
	}
}

func TestReviewCounts(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	for _, r := range []Review{
		{FeatureID: "a", Decision: DecisionAccepted},
		{FeatureID: "b", Decision: DecisionAccepted},
		{FeatureID: "c", Decision: DecisionIgnored},
	} {
		if err := j.RecordReview(ctx, r); err != nil {
			t.Fatalf("RecordReview: %v", err)
		}
	}

	counts, err := j.ReviewCounts(ctx)
	if err != nil {
		t.Fatalf("ReviewCounts: %v", err)
	}
	if counts[DecisionAccepted] != 2 || counts[DecisionIgnored] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestRecordReviewRequiresID(t *testing.T) {
	j := openTemp(t)
	if err := j.RecordReview(context.Background(), Review{Decision: DecisionIgnored}); err == nil {
		t.Error("expected error for empty feature id")
	}
}

func TestUploads(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := j.RecordUpload(ctx, Upload{ChangesetID: 100 + i, Created: int(i), Modified: 1, Comment: "survey"}); err != nil {
			t.Fatalf("RecordUpload: %v", err)
		}
	}

	ups, err := j.Uploads(ctx, 2)
	if err != nil {
		t.Fatalf("Uploads: %v", err)
	}
	if len(ups) != 2 {
		t.Fatalf("expected 2 uploads, got %d", len(ups))
	}
	if ups[0].ChangesetID != 103 || ups[1].ChangesetID != 102 {
		t.Errorf("expected newest first, got %+v", ups)
	}
}

func TestPersistsAcrossOpen(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "journal-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	path := filepath.Join(tmpDir, "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.RecordReview(ctx, Review{FeatureID: "kept", Decision: DecisionIgnored}); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	if ok, _ := j.IsReviewed(ctx, "kept"); !ok {
		t.Error("review lost across reopen")
	}
}

func TestMemoryJournal(t *testing.T) {
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer j.Close()

	if err := j.RecordReview(context.Background(), Review{FeatureID: "m", Decision: DecisionAccepted}); err != nil {
		t.Fatalf("RecordReview: %v", err)
	}
	if ok, _ := j.IsReviewed(context.Background(), "m"); !ok {
		t.Error("expected in-memory review")
	}
}
