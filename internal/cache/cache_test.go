package cache

import (
	"testing"
	"time"
)

func TestTTLCacheSetGet(t *testing.T) {
	c := New[string](10, time.Minute)
	key := Keyer("hello world")

	if _, ok := c.Get(key); ok {
		t.Fatal("expected miss before Set")
	}

	c.Set(key, "embedding-result")
	v, ok := c.Get(key)
	if !ok || v != "embedding-result" {
		t.Errorf("Get() = (%q, %v), want (\"embedding-result\", true)", v, ok)
	}
}

func TestTTLCacheExpires(t *testing.T) {
	c := New[int](10, 10*time.Millisecond)
	key := Keyer("x")
	c.Set(key, 7)

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(key); ok {
		t.Error("expected entry to expire")
	}
}

func TestKeyerStable(t *testing.T) {
	a := Keyer("foo", "bar")
	b := Keyer("foo", "bar")
	c := Keyer("foobar")
	if a != b {
		t.Error("Keyer should be deterministic for identical input")
	}
	if a == c {
		t.Error("Keyer should distinguish part boundaries (\"foo\",\"bar\" vs \"foobar\")")
	}
}

func TestNegativeCacheStoresEmptyValue(t *testing.T) {
	//: Summarizer failures/breaker-open are cached even when
	// empty, to avoid re-paying for a known-bad input.
	c := New[string](10, time.Minute)
	key := Keyer("doc chunk")
	c.Set(key, "")

	v, ok := c.Get(key)
	if !ok {
		t.Fatal("expected negative cache entry to be present")
	}
	if v != "" {
		t.Errorf("got %q, want empty string", v)
	}
}
