// Package pipeline implements the retrieval pipeline, the central ranking
// algorithm: query understanding, optional entity pre-filter, parallel
// vector+lexical candidate generation, RRF fusion, optional cross-encoder
// rerank, per-item dynamic weighting, memory_bank quality enforcement,
// ghost filtering, and confidence labeling.
package pipeline

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/memkeep/memkeep/internal/apperr"
	"github.com/memkeep/memkeep/internal/breaker"
	"github.com/memkeep/memkeep/internal/config"
	"github.com/memkeep/memkeep/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Request is the input to Run, a superset of prefetchContext's and search's
// shared parameters.
type Request struct {
	UserID         string
	Query          string
	RecentMessages []string
	HasDocuments   bool
	Limit          int
	Tiers          []domain.Tier
}

// breakerAware lets the pipeline ask a wrapped reranker/embedder client for
// its own breaker state without importing the concrete client packages.
type breakerAware interface {
	Closed() bool
}

// Pipeline runs the retrieval cascade over injected stores and clients.
type Pipeline struct {
	store    domain.RecordStore
	vector   domain.VectorIndex
	lexical  domain.LexicalIndex
	embedder domain.Embedder
	reranker domain.Reranker
	ghosts   domain.GhostRegistry

	vectorBreaker  *breaker.Breaker[[]domain.VectorHit]
	lexicalBreaker *breaker.Breaker[[]domain.LexicalHit]

	caps     config.Caps
	weights  config.Weights
	timeouts config.Timeouts
	logger   *zap.Logger
}

// Option customizes a Pipeline at construction time.
type Option func(*Pipeline)

func WithCaps(c config.Caps) Option         { return func(p *Pipeline) { p.caps = c } }
func WithWeights(w config.Weights) Option   { return func(p *Pipeline) { p.weights = w } }
func WithTimeouts(t config.Timeouts) Option { return func(p *Pipeline) { p.timeouts = t } }
func WithLogger(l *zap.Logger) Option       { return func(p *Pipeline) { p.logger = l } }

// New constructs a Pipeline, defaulting every knob group from config and
// overridable via Option.
func New(
	store domain.RecordStore,
	vector domain.VectorIndex,
	lexical domain.LexicalIndex,
	embedder domain.Embedder,
	reranker domain.Reranker,
	ghosts domain.GhostRegistry,
	opts ...Option,
) *Pipeline {
	p := &Pipeline{
		store:    store,
		vector:   vector,
		lexical:  lexical,
		embedder: embedder,
		reranker: reranker,
		ghosts:   ghosts,

		vectorBreaker:  breaker.New[[]domain.VectorHit]("vector", config.LoadBreakerParams("vector")),
		lexicalBreaker: breaker.New[[]domain.LexicalHit]("lexical", config.LoadBreakerParams("lexical")),

		caps:     config.LoadCaps(),
		weights:  config.LoadWeights(),
		timeouts: config.LoadTimeouts(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// candidate is a fused id carried through the per-item scoring stages,
// accumulating signal from every source it survived.
type candidate struct {
	id           uuid.UUID
	item         domain.MemoryItem
	rrf          float64
	ranks        map[string]int
	vectorScore  float64
	hasVector    bool
	lexicalScore float64
	ceScore      float64
	hasCE        bool
}

// Run executes the retrieval cascade and returns ranked results, a
// confidence label, and per-stage debug info. Rendering is left to the
// caller: Facade.PrefetchContext feeds this into the assembler,
// Facade.Search renders it directly.
func (p *Pipeline) Run(ctx context.Context, req Request) (domain.RetrieveOutcome, error) {
	start := time.Now()
	timings := make(map[string]int64)
	var fallbacks []string
	var stageErrors []string

	if req.UserID == "" {
		return domain.RetrieveOutcome{}, apperr.InvalidInput("Pipeline.Run", "user is required")
	}
	if req.Limit < 0 {
		return domain.RetrieveOutcome{}, apperr.InvalidInput("Pipeline.Run", "limit must be non-negative")
	}

	// Stage 1: query understanding.
	t0 := time.Now()
	language := detectLanguage(req.Query)
	specific := isSpecificQuery(req.Query)
	limit := req.Limit
	if limit <= 0 {
		limit = chooseLimit(req.Query, p.caps.SearchLimitDefault)
	}
	if limit > p.caps.SearchLimitMax {
		limit = p.caps.SearchLimitMax
	}
	fetchLimit := limit * p.caps.CandidateFetchMultiplier
	if fetchLimit <= 0 {
		fetchLimit = limit
	}
	timings["query_understanding"] = time.Since(t0).Milliseconds()

	// Stage 2: entity pre-filter (optional).
	t0 = time.Now()
	var filterIDs []uuid.UUID
	if entities := extractEntities(req.Query); len(entities) > 0 {
		ids, err := p.vector.FilterByEntities(ctx, req.UserID, entities, fetchLimit)
		if err == nil && len(ids) > 0 {
			filterIDs = ids
		}
	}
	timings["entity_prefilter"] = time.Since(t0).Milliseconds()

	// Stage 3: embed query.
	t0 = time.Now()
	var queryVector []float32
	vectorAvailable := true
	embedCtx, cancel := context.WithTimeout(ctx, p.timeouts.EmbedMs)
	v, err := p.embedder.Embed(embedCtx, req.Query)
	cancel()
	if err != nil {
		vectorAvailable = false
		fallbacks = append(fallbacks, "no_vector")
		stageErrors = append(stageErrors, err.Error())
	} else {
		queryVector = v
	}
	timings["embed"] = time.Since(t0).Milliseconds()

	// Stage 4: parallel candidate generation. Each goroutine only ever
	// writes its own result/error vars, merged into the shared fallback and
	// error trails after g.Wait() returns, so no shared state is written
	// concurrently.
	t0 = time.Now()
	var vectorHits []domain.VectorHit
	var lexicalHits []domain.LexicalHit
	var vectorErr, lexicalErr error
	g, gctx := errgroup.WithContext(ctx)
	if vectorAvailable {
		g.Go(func() error {
			vctx, vcancel := context.WithTimeout(gctx, p.timeouts.VectorQueryMs)
			defer vcancel()
			hits, err := p.vectorBreaker.Execute(vctx, func(ctx context.Context) ([]domain.VectorHit, error) {
				return p.vector.Search(ctx, domain.VectorSearchQuery{
					UserID:    req.UserID,
					Vector:    queryVector,
					Limit:     fetchLimit,
					Tiers:     req.Tiers,
					Status:    []domain.Status{domain.StatusActive},
					FilterIDs: filterIDs,
				})
			})
			if err != nil {
				vectorErr = err
				return nil
			}
			vectorHits = hits
			return nil
		})
	}
	g.Go(func() error {
		lctx, lcancel := context.WithTimeout(gctx, p.timeouts.LexicalMs)
		defer lcancel()
		hits, err := p.lexicalBreaker.Execute(lctx, func(ctx context.Context) ([]domain.LexicalHit, error) {
			return p.lexical.Score(ctx, req.UserID, req.Query, fetchLimit)
		})
		if err != nil {
			lexicalErr = err
			return nil
		}
		lexicalHits = hits
		return nil
	})
	_ = g.Wait()
	if vectorErr != nil {
		fallbacks = append(fallbacks, "no_vector")
		stageErrors = append(stageErrors, vectorErr.Error())
		vectorAvailable = false
	}
	if lexicalErr != nil {
		fallbacks = append(fallbacks, "no_lexical")
		stageErrors = append(stageErrors, lexicalErr.Error())
	}
	timings["candidate_generation"] = time.Since(t0).Milliseconds()

	if len(vectorHits) == 0 && len(lexicalHits) == 0 {
		fallbacks = append(fallbacks, "cold_start")
		return domain.RetrieveOutcome{
			Results:    nil,
			Confidence: domain.ConfidenceLow,
			Language:   language,
			Debug: domain.Debug{
				StageTimingsMs: timings,
				FallbacksUsed:  dedupeStrings(fallbacks),
				Errors:         stageErrors,
				Confidence:     domain.ConfidenceLow,
			},
		}, nil
	}

	// Stage 5: RRF fusion.
	t0 = time.Now()
	vectorScoreByID := make(map[uuid.UUID]float64, len(vectorHits))
	var vectorIDs []uuid.UUID
	for _, h := range vectorHits {
		vectorIDs = append(vectorIDs, h.MemoryID)
		vectorScoreByID[h.MemoryID] = h.Score
	}
	lexicalScoreByID := make(map[uuid.UUID]float64, len(lexicalHits))
	var lexicalIDs []uuid.UUID
	for _, h := range lexicalHits {
		lexicalIDs = append(lexicalIDs, h.MemoryID)
		lexicalScoreByID[h.MemoryID] = h.Score
	}
	k := rrfK(len([]rune(req.Query)), specific, p.weights)
	fused := rrfFuse([]rankedSource{{name: "vector", ids: vectorIDs}, {name: "lexical", ids: lexicalIDs}}, k)
	timings["rrf_fusion"] = time.Since(t0).Milliseconds()

	// Stage 6: cross-encoder rerank (optional), re-fused across all three
	// sources.
	t0 = time.Now()
	ceApplied := false
	ceCoveredAll := false
	ceScoreByID := make(map[uuid.UUID]float64)
	if p.reranker != nil && len(fused) >= 2 {
		ready := true
		if ba, ok := p.reranker.(breakerAware); ok {
			ready = ba.Closed()
		}
		if !ready {
			fallbacks = append(fallbacks, "rerank_skipped")
		} else {
			rerankK := p.caps.RerankK
			if rerankK <= 0 || rerankK > len(fused) {
				rerankK = len(fused)
			}
			top := fused[:rerankK]
			pairs := make([]domain.RerankPair, 0, len(top))
			for _, c := range top {
				item, err := p.store.GetByID(ctx, c.id, req.UserID)
				if err != nil {
					continue
				}
				passage := item.Text
				if max := p.caps.RerankMaxChars; max > 0 && len(passage) > max {
					passage = passage[:max]
				}
				pairs = append(pairs, domain.RerankPair{MemoryID: c.id, Passage: passage})
			}
			rctx, rcancel := context.WithTimeout(ctx, p.timeouts.RerankMs)
			scores, err := p.reranker.Rerank(rctx, req.Query, pairs, rerankK)
			rcancel()
			if err != nil {
				fallbacks = append(fallbacks, "rerank_skipped")
				stageErrors = append(stageErrors, err.Error())
			} else {
				ceApplied = true
				ceCoveredAll = len(scores) == len(fused)
				var ceIDs []uuid.UUID
				for _, s := range scores {
					ceIDs = append(ceIDs, s.MemoryID)
					ceScoreByID[s.MemoryID] = s.Score
				}
				fused = rrfFuse([]rankedSource{
					{name: "vector", ids: vectorIDs},
					{name: "lexical", ids: lexicalIDs},
					{name: "ce", ids: ceIDs},
				}, k)
			}
		}
	}
	timings["rerank"] = time.Since(t0).Milliseconds()

	// Stages 7-8: per-item dynamic weighting and memory_bank quality
	// enforcement, fetching each fused candidate's record.
	t0 = time.Now()
	candidates := make([]candidate, 0, len(fused))
	for _, fc := range fused {
		item, err := p.store.GetByID(ctx, fc.id, req.UserID)
		if err != nil {
			continue
		}
		vScore, hasV := vectorScoreByID[fc.id]
		lScore := lexicalScoreByID[fc.id]
		ceScore, hasCE := ceScoreByID[fc.id]

		c := candidate{
			id: fc.id, item: *item, rrf: fc.rrf, ranks: fc.ranks,
			vectorScore: vScore, hasVector: hasV, lexicalScore: lScore,
			ceScore: ceScore, hasCE: hasCE,
		}
		candidates = append(candidates, c)
	}

	type scored struct {
		c   candidate
		ss  domain.ScoreSummary
		fin float64
	}
	results := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		embedW, learnedW := dynamicWeights(c.item, p.weights)

		embeddingSimilarity := c.vectorScore
		learnedScore := c.item.Stats.WilsonScore
		if c.item.Tier == domain.TierMemoryBank {
			quality := c.item.Quality.QualityScore()
			rawDistance := 1 - c.vectorScore
			if rawDistance < 0 {
				rawDistance = 0
			}
			embeddingSimilarity = memoryBankQuality(rawDistance, quality, c.hasCE, p.weights)
			learnedScore = quality
		}

		final := embedW*embeddingSimilarity + learnedW*learnedScore
		age := time.Since(c.item.Timestamps.CreatedAt)
		ss := domain.ScoreSummary{
			FinalScore:          final,
			EmbeddingSimilarity: embeddingSimilarity,
			LearnedScore:        learnedScore,
			DenseSimilarity:     c.vectorScore,
			TextSimilarity:      c.lexicalScore,
			RRFScore:            c.rrf,
			CEScore:             c.ceScore,
			QualityScore:        c.item.Quality.QualityScore(),
			EmbeddingWeight:     embedW,
			LearnedWeight:       learnedW,
			Ranks:               c.ranks,
			Uses:                c.item.Stats.Uses,
			WilsonScore:         c.item.Stats.WilsonScore,
			AgeSeconds:          age.Seconds(),
		}
		results = append(results, scored{c: c, ss: ss, fin: final})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].fin != results[j].fin {
			return results[i].fin > results[j].fin
		}
		if results[i].c.rrf != results[j].c.rrf {
			return results[i].c.rrf > results[j].c.rrf
		}
		return results[i].c.id.String() < results[j].c.id.String()
	})
	timings["dynamic_weighting"] = time.Since(t0).Milliseconds()

	// Stage 9: ghost filter.
	t0 = time.Now()
	ids := make([]uuid.UUID, len(results))
	for i, r := range results {
		ids[i] = r.c.id
	}
	visible, err := p.ghosts.FilterGhosted(ctx, req.UserID, ids)
	if err != nil {
		stageErrors = append(stageErrors, err.Error())
		visible = ids
	}
	visibleSet := make(map[uuid.UUID]bool, len(visible))
	for _, id := range visible {
		visibleSet[id] = true
	}
	filtered := results[:0]
	for _, r := range results {
		if visibleSet[r.c.id] {
			filtered = append(filtered, r)
		}
	}
	results = filtered
	timings["ghost_filter"] = time.Since(t0).Milliseconds()

	// Stage 10: truncate to limit (candidates are already deduped by id).
	if len(results) > limit {
		results = results[:limit]
	}

	ranked := make([]domain.RankedResult, len(results))
	for i, r := range results {
		ranked[i] = domain.RankedResult{
			Position:     i + 1,
			MemoryID:     r.c.id,
			Tier:         r.c.item.Tier,
			Item:         r.c.item,
			ScoreSummary: r.ss,
		}
	}

	// Stage 11: confidence label.
	var topScore float64
	if len(ranked) > 0 {
		topScore = ranked[0].ScoreSummary.FinalScore
	}
	confidence := confidenceLabel(topScore, len(ranked))
	if ceApplied && ceCoveredAll {
		confidence = confidence.Step(1)
	}
	if !vectorAvailable {
		confidence = confidence.Step(-1)
	}

	timings["total"] = time.Since(start).Milliseconds()

	return domain.RetrieveOutcome{
		Results:    ranked,
		Confidence: confidence,
		Language:   language,
		Debug: domain.Debug{
			StageTimingsMs: timings,
			FallbacksUsed:  dedupeStrings(fallbacks),
			Errors:         stageErrors,
			Confidence:     confidence,
		},
	}, nil
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
