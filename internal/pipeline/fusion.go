package pipeline

import (
	"sort"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
)

// rankedSource is one stage's ranked id list, 1-indexed by position for RRF.
type rankedSource struct {
	name string
	ids  []uuid.UUID
}

// rrfK picks the fusion constant from the query-length band. A specific
// query (quoted substring, identity lookup, demonstrative) is routed off
// the default band rather than its own length band: subtract-20 applies to
// the default 50 with a floor of 30, so a short quoted query like
// '"login" error' lands on 30, not 60.
func rrfK(queryLen int, specific bool, w config.Weights) int {
	if specific {
		k := w.RRFKDefault - w.RRFKSpecificSubtract
		if k < w.RRFKSpecificFloor {
			k = w.RRFKSpecificFloor
		}
		return k
	}
	switch {
	case queryLen < 20:
		return w.RRFKShort
	case queryLen < 50:
		return w.RRFKMedium
	default:
		return w.RRFKDefault
	}
}

// fusedCandidate accumulates cross-source signal for one memory_id through
// RRF fusion.
type fusedCandidate struct {
	id       uuid.UUID
	rrf      float64
	ranks    map[string]int // source name -> 1-indexed rank
	bestRank int
}

// rrfFuse is reciprocal rank fusion: for each candidate from source s at
// 1-indexed rank r, contribute 1/(k+r); sum across sources. Sort descending
// by fused score, tie-break by earliest best rank then memory_id. It is
// associative over concatenation of identical input lists: fusing [A] then
// [B] then combining equals fusing [A,B] together, since contributions are
// summed per id independent of source iteration order.
func rrfFuse(sources []rankedSource, k int) []fusedCandidate {
	byID := make(map[uuid.UUID]*fusedCandidate)
	var order []uuid.UUID
	for _, src := range sources {
		for i, id := range src.ids {
			rank := i + 1
			fc, ok := byID[id]
			if !ok {
				fc = &fusedCandidate{id: id, ranks: make(map[string]int), bestRank: rank}
				byID[id] = fc
				order = append(order, id)
			}
			fc.rrf += 1.0 / float64(k+rank)
			fc.ranks[src.name] = rank
			if rank < fc.bestRank {
				fc.bestRank = rank
			}
		}
	}
	out := make([]fusedCandidate, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].rrf != out[j].rrf {
			return out[i].rrf > out[j].rrf
		}
		if out[i].bestRank != out[j].bestRank {
			return out[i].bestRank < out[j].bestRank
		}
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// dynamicWeights implements stage 7's per-item condition table,
// evaluated top-to-bottom with the first match winning. Weights always sum
// to 1.
func dynamicWeights(item domain.MemoryItem, w config.Weights) (embedWeight, learnedWeight float64) {
	quality := item.Quality.QualityScore()
	wilsonScore := item.Stats.WilsonScore
	uses := item.Stats.Uses

	switch {
	case !domain.OutcomeScored(item.Tier):
		return 0.90, 0.10
	case item.Tier == domain.TierMemoryBank && quality >= w.HighQualityThreshold:
		return 0.45, 0.55
	case item.Tier == domain.TierMemoryBank:
		return 0.60, 0.40
	case uses >= 5 && wilsonScore >= 0.8:
		return 0.20, 0.80
	case uses >= 3 && wilsonScore >= 0.7:
		return 0.25, 0.75
	case uses >= 2 && wilsonScore >= 0.5:
		return 0.35, 0.65
	case uses >= 2 && wilsonScore < 0.5:
		return 0.70, 0.30
	default:
		return 0.70, 0.30
	}
}

// memoryBankQuality implements stage 8's three-stage quality
// enforcement, applied only to tier=memory_bank items: a distance boost
// proportional to quality, a similarity conversion, and a CE-applied
// quality multiplier (identity when CE was skipped).
func memoryBankQuality(rawDistance, quality float64, ceApplied bool, w config.Weights) float64 {
	reduction := 1 - quality*w.DistanceReductionMax
	if reduction < 0.2 {
		reduction = 0.2
	}
	adjustedDistance := rawDistance * reduction
	similarity := 1 / (1 + adjustedDistance)

	multiplier := 1.0
	if ceApplied {
		multiplier = 1 + quality
		if multiplier > w.CEMultiplierMax {
			multiplier = w.CEMultiplierMax
		}
	}
	return similarity * multiplier
}

// confidenceLabel implements stage 11.
func confidenceLabel(topScore float64, numResults int) domain.Confidence {
	switch {
	case topScore >= 0.75 && numResults >= 3:
		return domain.ConfidenceHigh
	case topScore >= 0.5:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}
