package summarizeclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/memkeep/memkeep/internal/breaker"
	"github.com/memkeep/memkeep/internal/cache"
	"github.com/memkeep/memkeep/internal/config"
)

func testTimeouts() config.Timeouts { return config.Timeouts{SummarizerMs: 50 * time.Millisecond} }
func testBreaker() config.BreakerParams {
	return config.BreakerParams{FailureThreshold: 3, SuccessThreshold: 1, OpenDuration: 10 * time.Millisecond, HalfOpenMaxConcurrency: 1}
}

func TestGenerateContextPrefix(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testBreaker(), 16, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	prefix, err := c.GenerateContextPrefix(context.Background(), "some chunk text", "Chapter 3: Deployments")
	if err != nil {
		t.Fatal(err)
	}
	if prefix == "" {
		t.Fatal("expected non-empty prefix for non-empty docContext")
	}
}

func TestEmptyDocContextYieldsEmptyPrefix(t *testing.T) {
	c, err := New(ProviderMock, "", testTimeouts(), testBreaker(), 16, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	prefix, err := c.GenerateContextPrefix(context.Background(), "some chunk text", "")
	if err != nil {
		t.Fatal(err)
	}
	if prefix != "" {
		t.Errorf("got %q, want empty prefix", prefix)
	}
}

type failingTransport struct{}

func (failingTransport) summarize(ctx context.Context, chunk, docContext string) (string, error) {
	return "", errors.New("boom")
}

func TestNegativeCacheOnBreakerOpen(t *testing.T) {
	c := &Client{
		raw: failingTransport{},
		breaker: breaker.New[string]("summarizer-test", config.BreakerParams{
			FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: time.Minute, HalfOpenMaxConcurrency: 1,
		}),
		cache:   cache.New[string](16, time.Minute),
		timeout: testTimeouts().SummarizerMs,
	}
	ctx := context.Background()

	// First call fails, tripping the breaker immediately given threshold=1.
	_, _ = c.GenerateContextPrefix(ctx, "chunk", "ctx")

	prefix, err := c.GenerateContextPrefix(ctx, "chunk", "ctx")
	if err != nil {
		t.Fatalf("expected no error, breaker-open degrades to empty string: %v", err)
	}
	if prefix != "" {
		t.Errorf("got %q, want empty string once breaker is open", prefix)
	}
}
