package embedclient

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/config"
)

func testTimeouts() config.Timeouts {
	return config.Timeouts{EmbedMs: 50 * time.Millisecond}
}

func testBreaker() config.BreakerParams {
	return config.BreakerParams{FailureThreshold: 3, SuccessThreshold: 1, OpenDuration: 10 * time.Millisecond, HalfOpenMaxConcurrency: 1}
}

func TestEmbedIsUnitNormalized(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testBreaker(), 16, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	v, err := c.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatal(err)
	}

	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm < 0.99 || norm > 1.01 {
		t.Errorf("||v|| = %f, want ~1.0", norm)
	}
}

func TestEmbedCachesByText(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testBreaker(), 16, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	a, err := c.Embed(ctx, "repeatable text")
	if err != nil {
		t.Fatal(err)
	}
	b, err := c.Embed(ctx, "repeatable text")
	if err != nil {
		t.Fatal(err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("expected cached embedding to be identical, differed at %d", i)
			break
		}
	}
}

func TestEmbedBatch(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testBreaker(), 16, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.EmbedBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("EmbedBatch returned %d vectors, want 3", len(out))
	}
}

func TestUnknownProviderErrors(t *testing.T) {
	if _, err := New("nonsense", "", testTimeouts(), testBreaker(), 16, time.Minute); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestOpenAIProviderRequiresAPIKey(t *testing.T) {
	if _, err := New(ProviderOpenAI, "", testTimeouts(), testBreaker(), 16, time.Minute); err == nil {
		t.Fatal("expected error when EMBEDDING_API_KEY is empty for openai provider")
	}
}
