package rerankclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
)

func testTimeouts() config.Timeouts { return config.Timeouts{RerankMs: 50 * time.Millisecond} }
func testCaps() config.Caps         { return config.Caps{RerankMaxChars: 2000} }
func testBreaker() config.BreakerParams {
	return config.BreakerParams{FailureThreshold: 3, SuccessThreshold: 1, OpenDuration: 10 * time.Millisecond, HalfOpenMaxConcurrency: 1}
}

func TestRerankOrdersByRelevance(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testCaps(), testBreaker())
	if err != nil {
		t.Fatal(err)
	}

	relevant := uuid.New()
	irrelevant := uuid.New()
	passages := []domain.RerankPair{
		{MemoryID: irrelevant, Passage: "the cat sat on the mat"},
		{MemoryID: relevant, Passage: "deployment pipeline rollback procedure"},
	}

	scores, err := c.Rerank(context.Background(), "deployment rollback", passages, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2", len(scores))
	}
	if scores[0].MemoryID != relevant {
		t.Errorf("top result = %v, want the relevant passage", scores[0].MemoryID)
	}
}

func TestRerankRespectsK(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testCaps(), testBreaker())
	if err != nil {
		t.Fatal(err)
	}

	passages := make([]domain.RerankPair, 5)
	for i := range passages {
		passages[i] = domain.RerankPair{MemoryID: uuid.New(), Passage: "deployment rollback text"}
	}

	scores, err := c.Rerank(context.Background(), "deployment", passages, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2 (k=2)", len(scores))
	}
}
