package ghost

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/domain"
	"github.com/memkeep/memkeep/internal/fakes"
)

func TestGhostRestoreRoundTrip(t *testing.T) {
	// Ghost one of two items, restore it, and check the item record is
	// untouched across both operations.
	store := fakes.NewRecordStore()
	reg := New(store, 0, 0)
	ctx := context.Background()

	i1 := fakes.NewMemoryItem("u1", "item one", domain.TierWorking)
	i2 := fakes.NewMemoryItem("u1", "item two", domain.TierWorking)
	if err := store.Insert(ctx, i1); err != nil {
		t.Fatal(err)
	}
	if err := store.Insert(ctx, i2); err != nil {
		t.Fatal(err)
	}

	visible, err := reg.FilterGhosted(ctx, "u1", []uuid.UUID{i1.MemoryID, i2.MemoryID})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 2 {
		t.Fatalf("expected both visible before ghosting, got %v", visible)
	}

	if err := reg.Ghost(ctx, "u1", i1.MemoryID, domain.TierWorking); err != nil {
		t.Fatal(err)
	}

	visible, err = reg.FilterGhosted(ctx, "u1", []uuid.UUID{i1.MemoryID, i2.MemoryID})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0] != i2.MemoryID {
		t.Fatalf("expected only I2 visible after ghosting I1, got %v", visible)
	}

	before, err := store.GetByID(ctx, i1.MemoryID, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if err := reg.Restore(ctx, "u1", i1.MemoryID); err != nil {
		t.Fatal(err)
	}

	visible, err = reg.FilterGhosted(ctx, "u1", []uuid.UUID{i1.MemoryID, i2.MemoryID})
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 2 {
		t.Fatalf("expected both visible again after restore, got %v", visible)
	}

	after, err := store.GetByID(ctx, i1.MemoryID, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if before.Text != after.Text || before.Status != after.Status || before.Tier != after.Tier {
		t.Error("item record mutated across ghost/restore, expected it unchanged")
	}
}

func TestIsGhostedAndGetGhosted(t *testing.T) {
	store := fakes.NewRecordStore()
	reg := New(store, 0, 0)
	ctx := context.Background()

	id := uuid.New()
	if ghosted, _ := reg.IsGhosted(ctx, "u2", id); ghosted {
		t.Fatal("expected not ghosted before any Ghost call")
	}

	if err := reg.Ghost(ctx, "u2", id, domain.TierHistory); err != nil {
		t.Fatal(err)
	}
	ghosted, err := reg.IsGhosted(ctx, "u2", id)
	if err != nil {
		t.Fatal(err)
	}
	if !ghosted {
		t.Fatal("expected ghosted after Ghost call")
	}

	all, err := reg.GetGhosted(ctx, "u2")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0] != id {
		t.Fatalf("GetGhosted = %v, want [%v]", all, id)
	}
}

func TestClearByTier(t *testing.T) {
	store := fakes.NewRecordStore()
	reg := New(store, 0, 0)
	ctx := context.Background()

	working := uuid.New()
	history := uuid.New()
	if err := reg.Ghost(ctx, "u3", working, domain.TierWorking); err != nil {
		t.Fatal(err)
	}
	if err := reg.Ghost(ctx, "u3", history, domain.TierHistory); err != nil {
		t.Fatal(err)
	}

	if err := reg.ClearByTier(ctx, "u3", domain.TierWorking); err != nil {
		t.Fatal(err)
	}

	all, err := reg.GetGhosted(ctx, "u3")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0] != history {
		t.Fatalf("GetGhosted after ClearByTier = %v, want only history entry", all)
	}
}

func TestCacheExpiryReloadsFromStore(t *testing.T) {
	store := fakes.NewRecordStore()
	reg := New(store, 10, 10*time.Millisecond)
	ctx := context.Background()
	id := uuid.New()

	if err := reg.Ghost(ctx, "u4", id, domain.TierWorking); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)

	ghosted, err := reg.IsGhosted(ctx, "u4", id)
	if err != nil {
		t.Fatal(err)
	}
	if !ghosted {
		t.Fatal("expected reload from store after cache expiry to still report ghosted")
	}
}
