// Package config loads flat environment variables (optionally via a .env /
// .env.secret pair) and exposes the engine's knobs as small typed accessor
// functions and grouped config structs.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Load reads the .env file named by MEMKEEP_ENV (or .env by default), then
// loads the .secret sidecar if present. All config is flat env vars read via
// os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MEMKEEP_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")
	return nil
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getenvFloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvStr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// --- process-level ambient config ---

func ServerPort() int {
	return getenvInt("SERVER_PORT", 8080)
}

func ServerAddr() string {
	return ":" + strconv.Itoa(ServerPort())
}

func DatabaseURL() string {
	return os.Getenv("DATABASE_URL")
}

func EmbeddingProvider() string {
	return getenvStr("EMBEDDING_PROVIDER", "mock")
}

func EmbeddingAPIKey() string {
	return os.Getenv("EMBEDDING_API_KEY")
}

func RerankerProvider() string {
	return getenvStr("RERANKER_PROVIDER", "mock")
}

func RerankerAPIKey() string {
	return os.Getenv("RERANKER_API_KEY")
}

func SummarizerProvider() string {
	return getenvStr("SUMMARIZER_PROVIDER", "mock")
}

func SummarizerAPIKey() string {
	return os.Getenv("SUMMARIZER_API_KEY")
}

func LogLevel() string {
	return getenvStr("LOG_LEVEL", "info")
}

func RateLimitRPS() float64 {
	v := getenvFloat("RATE_LIMIT_RPS", 100)
	if v <= 0 {
		return 100
	}
	return v
}

func RateLimitBurst() int {
	v := getenvInt("RATE_LIMIT_BURST", 20)
	if v <= 0 {
		return 20
	}
	return v
}

// --- engine knobs, grouped ---

// Timeouts groups the end-to-end and per-stage deadlines.
type Timeouts struct {
	EmbedMs        time.Duration
	VectorQueryMs  time.Duration
	LexicalMs      time.Duration
	RerankMs       time.Duration
	SummarizerMs   time.Duration
	EndToEndSearch time.Duration
	PrefetchMs     time.Duration
}

func LoadTimeouts() Timeouts {
	return Timeouts{
		EmbedMs:        getenvDuration("TIMEOUT_EMBED_MS", 3000*time.Millisecond),
		VectorQueryMs:  getenvDuration("TIMEOUT_VECTOR_MS", 10000*time.Millisecond),
		LexicalMs:      getenvDuration("TIMEOUT_LEXICAL_MS", 1500*time.Millisecond),
		RerankMs:       getenvDuration("TIMEOUT_RERANK_MS", 2000*time.Millisecond),
		SummarizerMs:   getenvDuration("TIMEOUT_SUMMARIZER_MS", 5000*time.Millisecond),
		EndToEndSearch: getenvDuration("TIMEOUT_SEARCH_MS", 15000*time.Millisecond),
		PrefetchMs:     getenvDuration("TIMEOUT_PREFETCH_MS", 6000*time.Millisecond),
	}
}

// Caps groups search limits, fetch multipliers, and rerank input caps.
type Caps struct {
	SearchLimitDefault       int
	SearchLimitMax           int
	CandidateFetchMultiplier int
	RerankK                  int
	RerankMaxChars           int
	MaxEntitiesPerItem       int
}

func LoadCaps() Caps {
	return Caps{
		SearchLimitDefault:       getenvInt("CAP_SEARCH_LIMIT_DEFAULT", 10),
		SearchLimitMax:           getenvInt("CAP_SEARCH_LIMIT_MAX", 50),
		CandidateFetchMultiplier: getenvInt("CAP_CANDIDATE_FETCH_MULTIPLIER", 3),
		RerankK:                  getenvInt("CAP_RERANK_K", 10),
		RerankMaxChars:           getenvInt("CAP_RERANK_MAX_CHARS", 2000),
		MaxEntitiesPerItem:       getenvInt("CAP_MAX_ENTITIES", 32),
	}
}

// Weights groups the RRF, blend, and quality-enforcement constants.
type Weights struct {
	RRFKShort            int // query < 20 chars
	RRFKMedium           int // query < 50 chars
	RRFKDefault          int
	RRFKSpecificFloor    int
	RRFKSpecificSubtract int
	DistanceReductionMax float64
	CEMultiplierMax      float64
	HighQualityThreshold float64
}

func LoadWeights() Weights {
	return Weights{
		RRFKShort:            getenvInt("WEIGHT_RRF_K_SHORT", 80),
		RRFKMedium:           getenvInt("WEIGHT_RRF_K_MEDIUM", 60),
		RRFKDefault:          getenvInt("WEIGHT_RRF_K_DEFAULT", 50),
		RRFKSpecificFloor:    getenvInt("WEIGHT_RRF_K_SPECIFIC_FLOOR", 30),
		RRFKSpecificSubtract: getenvInt("WEIGHT_RRF_K_SPECIFIC_SUBTRACT", 20),
		DistanceReductionMax: getenvFloat("WEIGHT_DISTANCE_REDUCTION_MAX", 0.8),
		CEMultiplierMax:      getenvFloat("WEIGHT_CE_MULTIPLIER_MAX", 2.0),
		HighQualityThreshold: getenvFloat("WEIGHT_HIGH_QUALITY_THRESHOLD", 0.8),
	}
}

// OutcomeDeltas groups the coarse rank-adjustment deltas per outcome.
type OutcomeDeltas struct {
	Worked  float64
	Failed  float64
	Partial float64
	Unknown float64
	Min     float64
	Max     float64
}

func LoadOutcomeDeltas() OutcomeDeltas {
	return OutcomeDeltas{
		Worked:  getenvFloat("OUTCOME_DELTA_WORKED", 0.2),
		Failed:  getenvFloat("OUTCOME_DELTA_FAILED", -0.3),
		Partial: getenvFloat("OUTCOME_DELTA_PARTIAL", 0.05),
		Unknown: getenvFloat("OUTCOME_DELTA_UNKNOWN", 0),
		Min:     getenvFloat("OUTCOME_DELTA_MIN", 0),
		Max:     getenvFloat("OUTCOME_DELTA_MAX", 1),
	}
}

// PromotionConfig groups the Promoter's tier TTLs and thresholds.
type PromotionConfig struct {
	WorkingTTL  time.Duration
	HistoryTTL  time.Duration
	PatternsTTL time.Duration

	WorkingToHistoryWilsonMin  float64
	WorkingToHistoryUsesMin    int
	HistoryToPatternsWilsonMin float64
	HistoryToPatternsUsesMin   int
	GarbageWilsonMax           float64
	GarbageUsesMin             int

	SchedulerInterval time.Duration
	TriggerEveryN     int
}

func LoadPromotionConfig() PromotionConfig {
	return PromotionConfig{
		WorkingTTL:  getenvDuration("PROMOTE_WORKING_TTL_MS", 7*24*time.Hour),
		HistoryTTL:  getenvDuration("PROMOTE_HISTORY_TTL_MS", 30*24*time.Hour),
		PatternsTTL: getenvDuration("PROMOTE_PATTERNS_TTL_MS", 0),

		WorkingToHistoryWilsonMin:  getenvFloat("PROMOTE_WORKING_TO_HISTORY_WILSON_MIN", 0.7),
		WorkingToHistoryUsesMin:    getenvInt("PROMOTE_WORKING_TO_HISTORY_USES_MIN", 2),
		HistoryToPatternsWilsonMin: getenvFloat("PROMOTE_HISTORY_TO_PATTERNS_WILSON_MIN", 0.9),
		HistoryToPatternsUsesMin:   getenvInt("PROMOTE_HISTORY_TO_PATTERNS_USES_MIN", 3),
		GarbageWilsonMax:           getenvFloat("PROMOTE_GARBAGE_WILSON_MAX", 0.2),
		GarbageUsesMin:             getenvInt("PROMOTE_GARBAGE_USES_MIN", 2),

		SchedulerInterval: getenvDuration("PROMOTE_SCHEDULER_INTERVAL_MS", 30*time.Minute),
		TriggerEveryN:     getenvInt("PROMOTE_TRIGGER_EVERY_N", 20),
	}
}

// BreakerParams groups one dependency's circuit-breaker configuration.
type BreakerParams struct {
	FailureThreshold       uint32
	SuccessThreshold       uint32
	OpenDuration           time.Duration
	HalfOpenMaxConcurrency uint32
}

func defaultBreakerParams() BreakerParams {
	return BreakerParams{
		FailureThreshold:       3,
		SuccessThreshold:       2,
		OpenDuration:           30 * time.Second,
		HalfOpenMaxConcurrency: 1,
	}
}

// LoadBreakerParams loads breaker config for a named dependency, falling
// back to defaults. dep is one of
// "vector","lexical","embedder","reranker","summarizer".
func LoadBreakerParams(dep string) BreakerParams {
	p := defaultBreakerParams()
	prefix := "BREAKER_" + strings.ToUpper(dep) + "_"
	p.FailureThreshold = uint32(getenvInt(prefix+"FAILURE_THRESHOLD", int(p.FailureThreshold)))
	p.SuccessThreshold = uint32(getenvInt(prefix+"SUCCESS_THRESHOLD", int(p.SuccessThreshold)))
	p.OpenDuration = getenvDuration(prefix+"OPEN_DURATION_MS", p.OpenDuration)
	p.HalfOpenMaxConcurrency = uint32(getenvInt(prefix+"HALF_OPEN_MAX_CONCURRENCY", int(p.HalfOpenMaxConcurrency)))
	return p
}

// ColdStart groups the cold-start fallback block.
type ColdStart struct {
	Limit  int
	Query  string
	Header string
	Footer string
}

func LoadColdStart() ColdStart {
	return ColdStart{
		Limit:  getenvInt("COLDSTART_LIMIT", 10),
		Query:  getenvStr("COLDSTART_QUERY", ""),
		Header: getenvStr("COLDSTART_HEADER", ""),
		Footer: getenvStr("COLDSTART_FOOTER", ""),
	}
}

// Recency groups the default sort behavior and temporal keyword list.
type Recency struct {
	DefaultSortBy    string
	TemporalKeywords []string
}

func LoadRecency() Recency {
	kws := getenvStr("RECENCY_TEMPORAL_KEYWORDS", "today,yesterday,recent,recently,latest,last time,just now")
	return Recency{
		DefaultSortBy:    getenvStr("RECENCY_DEFAULT_SORT_BY", "relevance"),
		TemporalKeywords: splitCSV(kws),
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// VectorSchemaValidation groups vector schema validation policy.
type VectorSchemaValidation struct {
	Enabled           bool
	ValidateOnStartup bool
	ValidateEvery     time.Duration
	OnMismatch        string // "disable_vector_stage" | "throw"
}

func LoadVectorSchemaValidation() VectorSchemaValidation {
	return VectorSchemaValidation{
		Enabled:           getenvBool("VECTOR_SCHEMA_VALIDATION_ENABLED", true),
		ValidateOnStartup: getenvBool("VECTOR_SCHEMA_VALIDATE_ON_STARTUP", true),
		ValidateEvery:     getenvDuration("VECTOR_SCHEMA_VALIDATE_EVERY_MS", time.Hour),
		OnMismatch:        getenvStr("VECTOR_SCHEMA_ON_MISMATCH", "disable_vector_stage"),
	}
}

// ConsistencyConfig groups the ConsistencyChecker's schedule.
type ConsistencyConfig struct {
	WarmUp     time.Duration
	SweepEvery time.Duration
	SampleSize int
}

func LoadConsistencyConfig() ConsistencyConfig {
	return ConsistencyConfig{
		WarmUp:     getenvDuration("CONSISTENCY_WARMUP_MS", 5*time.Minute),
		SweepEvery: getenvDuration("CONSISTENCY_SWEEP_EVERY_MS", 15*time.Minute),
		SampleSize: getenvInt("CONSISTENCY_SAMPLE_SIZE", 200),
	}
}

// ReindexConfig groups the Reindexer's batching defaults.
type ReindexConfig struct {
	BatchSize   int
	Concurrency int
}

func LoadReindexConfig() ReindexConfig {
	return ReindexConfig{
		BatchSize:   getenvInt("REINDEX_BATCH_SIZE", 100),
		Concurrency: getenvInt("REINDEX_CONCURRENCY", 5),
	}
}
