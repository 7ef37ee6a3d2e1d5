package lexical

import (
	"context"
	"testing"

	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
)

func TestScoreRanksByTermOverlap(t *testing.T) {
	idx := New()
	ctx := context.Background()

	a := fakes.NewMemoryItem("u1", "the deployment pipeline failed on staging", domain.TierWorking)
	b := fakes.NewMemoryItem("u1", "the cat sat on the mat", domain.TierWorking)
	idx.IndexItem(ctx, *a)
	idx.IndexItem(ctx, *b)

	hits, err := idx.Score(ctx, "u1", "deployment pipeline", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].MemoryID != a.MemoryID {
		t.Fatalf("Score() = %v, want only item a to match", hits)
	}
}

func TestScoreIsolatedPerUser(t *testing.T) {
	idx := New()
	ctx := context.Background()

	a := fakes.NewMemoryItem("u1", "rollback procedure", domain.TierWorking)
	idx.IndexItem(ctx, *a)

	hits, err := idx.Score(ctx, "u2", "rollback procedure", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits for a different user, got %v", hits)
	}
}

func TestRemoveItemDropsFromIndex(t *testing.T) {
	idx := New()
	ctx := context.Background()

	a := fakes.NewMemoryItem("u1", "unique rollback term", domain.TierWorking)
	idx.IndexItem(ctx, *a)
	idx.RemoveItem(ctx, "u1", a.MemoryID)

	hits, err := idx.Score(ctx, "u1", "unique rollback term", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after RemoveItem, got %v", hits)
	}
}

func TestInvalidateUserClearsIndex(t *testing.T) {
	idx := New()
	ctx := context.Background()

	a := fakes.NewMemoryItem("u1", "unique rollback term", domain.TierWorking)
	idx.IndexItem(ctx, *a)
	idx.InvalidateUser(ctx, "u1")

	hits, err := idx.Score(ctx, "u1", "unique rollback term", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits after InvalidateUser, got %v", hits)
	}
}

func TestReindexItemIsIdempotent(t *testing.T) {
	idx := New()
	ctx := context.Background()

	a := fakes.NewMemoryItem("u1", "original text about rollback", domain.TierWorking)
	idx.IndexItem(ctx, *a)
	a.Text = "updated text about deployment"
	idx.IndexItem(ctx, *a)

	hits, err := idx.Score(ctx, "u1", "rollback", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected re-indexing to drop stale terms, got %v", hits)
	}

	hits, err = idx.Score(ctx, "u1", "deployment", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected re-indexed text to be searchable, got %v", hits)
	}
}
