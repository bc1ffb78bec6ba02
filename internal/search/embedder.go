package search

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// FeatureDims is the length of vectors produced by FeatureEmbedder.
const FeatureDims = 16

var featureCategories = []struct {
	name  string
	words []string
}{
	{"decision", []string{"decision", "decide", "approve", "approved", "choose", "option", "recommend", "agreed"}},
	{"risk", []string{"risk", "threat", "concern", "blocker", "issue", "exposure", "mitigation", "vulnerab"}},
	{"progress", []string{"progress", "milestone", "complete", "delivered", "on track", "status", "delay", "shipped"}},
	{"stakeholder", []string{"stakeholder", "executive", "leader", "sponsor", "team", "cfo", "cto", "vp"}},
	{"initiative", []string{"initiative", "project", "program", "roadmap", "migration", "launch", "strategy", "plan"}},
	{"platform", []string{"platform", "infrastructure", "system", "architecture", "api", "tooling", "service", "component"}},
	{"health", []string{"health", "performance", "reliability", "quality", "adoption", "satisfaction", "uptime", "metric"}},
	{"trend", []string{"trend", "increase", "decrease", "growth", "decline", "improving", "declining", "pattern"}},
}

var urgencyKeywords = []string{"urgent", "critical", "immediately", "asap", "escalat", "deadline", "emergency", "right away"}

var temporalKeywords = []string{"today", "yesterday", "week", "month", "quarter", "year", "recent", "q1", "q2", "q3", "q4"}

// FeatureEmbedder builds a handcrafted keyword-density vector. It needs no
// model and is deterministic.
type FeatureEmbedder struct{}

// Embed never fails.
func (FeatureEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return extractFeatures(text), nil
}

func extractFeatures(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, FeatureDims)

	i := 0
	for _, cat := range featureCategories {
		vec[i] = float32(matchCount(lower, cat.words)) / float32(len(cat.words))
		i++
	}
	vec[i] = capOne(float32(len(text)) / 500)
	i++
	if strings.Contains(text, "?") {
		vec[i] = 1
	}
	i++
	vec[i] = capOne(float32(matchCount(lower, urgencyKeywords)) / float32(len(urgencyKeywords)) * 2)
	i++
	vec[i] = capOne(float32(matchCount(lower, temporalKeywords)) / float32(len(temporalKeywords)) * 2)
	// Remaining dimensions stay zero.
	return vec
}

func matchCount(text string, words []string) int {
	n := 0
	for _, w := range words {
		if strings.Contains(text, w) {
			n++
		}
	}
	return n
}

func capOne(f float32) float32 {
	if f > 1 {
		return 1
	}
	return f
}

// DefaultCacheSize bounds CachedEmbedder when no size is given.
const DefaultCacheSize = 10000

// CacheStats describes CachedEmbedder activity.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// CachedEmbedder memoizes another Embedder in a least-recently-used cache
// keyed by the MD5 of the text. Concurrent misses on the same text may both
// compute the embedding.
type CachedEmbedder struct {
	next Embedder
	size int

	mu     sync.Mutex
	lru    *orderedmap.OrderedMap[string, []float32]
	hits   int64
	misses int64
}

// NewCachedEmbedder wraps next. size <= 0 selects DefaultCacheSize.
func NewCachedEmbedder(next Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	return &CachedEmbedder{
		next: next,
		size: size,
		lru:  orderedmap.New[string, []float32](),
	}
}

// Embed returns a copy of the cached vector, computing it on a miss.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)

	c.mu.Lock()
	if vec, ok := c.lru.Get(key); ok {
		c.lru.MoveToBack(key)
		c.hits++
		c.mu.Unlock()
		return cloneVec(vec), nil
	}
	c.misses++
	c.mu.Unlock()

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.lru.Set(key, cloneVec(vec))
	c.lru.MoveToBack(key)
	for c.lru.Len() > c.size {
		oldest := c.lru.Oldest()
		c.lru.Delete(oldest.Key)
	}
	c.mu.Unlock()
	return vec, nil
}

// Stats returns hit, miss and size counters.
func (c *CachedEmbedder) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len()}
}

func cacheKey(text string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVec(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
