// Package search ranks rows from the strategic source tables against
// natural-language queries.
package search

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options configures an Engine. Zero values select defaults.
type Options struct {
	// Embedder produces vectors for queries and rows. Defaults to FeatureEmbedder.
	Embedder Embedder
	// CacheSize bounds the embedding cache.
	CacheSize int
	// MaxQueryTime is the advisory per-query budget checked by Connect.
	MaxQueryTime time.Duration
	// MaxResults and MinRelevance apply to the Find helpers. A nil
	// MinRelevance selects 0.3; an explicit 0 keeps every row.
	MaxResults   int
	MinRelevance *float64

	Clock  Clock
	Logger *slog.Logger
}

// Engine searches the strategic tables. It only reads from db.
type Engine struct {
	db           *sql.DB
	embedder     *CachedEmbedder
	maxQueryTime time.Duration
	maxResults   int
	minRelevance float64
	clock        Clock
	logger       *slog.Logger
}

// NewEngine creates an Engine over db.
func NewEngine(db *sql.DB, opts Options) *Engine {
	inner := opts.Embedder
	if inner == nil {
		inner = FeatureEmbedder{}
	}
	e := &Engine{
		db:           db,
		embedder:     NewCachedEmbedder(inner, opts.CacheSize),
		maxQueryTime: opts.MaxQueryTime,
		maxResults:   opts.MaxResults,
		minRelevance: 0.3,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
	if e.maxQueryTime <= 0 {
		e.maxQueryTime = 500 * time.Millisecond
	}
	if e.maxResults <= 0 {
		e.maxResults = 10
	}
	if opts.MinRelevance != nil {
		e.minRelevance = *opts.MinRelevance
	}
	if e.clock == nil {
		e.clock = realClock{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// CacheStats reports embedding cache activity.
func (e *Engine) CacheStats() CacheStats {
	return e.embedder.Stats()
}

// Search runs q against the tables routed for q.Type. Failures are logged
// and yield an empty result.
func (e *Engine) Search(ctx context.Context, q Query) []Result {
	results, err := e.search(ctx, q)
	if err != nil {
		e.logger.Error("search failed", "query", q.Text, "search_type", q.Type.String(), "error", err)
		return nil
	}
	return results
}

func (e *Engine) search(ctx context.Context, q Query) ([]Result, error) {
	tables := routes[q.Type]
	if len(tables) == 0 {
		return nil, &SearchError{Table: q.Type.String(), Err: errUnknownType}
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = e.maxResults
	}

	queryVec, err := e.embedder.Embed(ctx, q.Text)
	if err != nil {
		return nil, &SearchError{Table: "query", Err: err}
	}

	now := e.clock.Now()
	var (
		mu      sync.Mutex
		results []Result
	)
	g, gCtx := errgroup.WithContext(ctx)
	for _, table := range tables {
		g.Go(func() error {
			scored, err := e.searchTable(gCtx, table, q, queryVec, now)
			if err != nil {
				return &SearchError{Table: table, Err: err}
			}
			mu.Lock()
			results = append(results, scored...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	filtered := results[:0]
	for _, r := range results {
		if r.RelevanceScore >= q.MinRelevance {
			filtered = append(filtered, r)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].RelevanceScore != filtered[j].RelevanceScore {
			return filtered[i].RelevanceScore > filtered[j].RelevanceScore
		}
		if filtered[i].SourceTable != filtered[j].SourceTable {
			return filtered[i].SourceTable < filtered[j].SourceTable
		}
		return filtered[i].SourceID < filtered[j].SourceID
	})
	if len(filtered) > maxResults {
		filtered = filtered[:maxResults]
	}
	for i := range filtered {
		filtered[i].HighlightedSnippets = snippets(filtered[i].Content, q.Text)
	}
	return filtered, nil
}

func (e *Engine) searchTable(ctx context.Context, table string, q Query, queryVec []float32, now time.Time) ([]Result, error) {
	retrieve, ok := retrievers[table]
	if !ok {
		return nil, errUnknownType
	}
	candidates, err := retrieve(ctx, e.db, q.Filters, now)
	if err != nil {
		return nil, err
	}

	out := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		vec, err := e.embedder.Embed(ctx, c.content)
		if err != nil {
			return nil, err
		}
		r := Result{
			Content:     c.content,
			SourceTable: c.table,
			SourceID:    c.id,
			ContextType: q.Type.String(),
			RelevanceScore: relevance(
				Cosine(queryVec, vec),
				contextScore(q, c),
				recencyScore(c.date, now),
				importanceScore(c),
			),
		}
		if q.IncludeMetadata {
			r.Metadata = c.metadata
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) query(text string, t SearchType) Query {
	return Query{
		Text:            text,
		Type:            t,
		MaxResults:      e.maxResults,
		MinRelevance:    e.minRelevance,
		IncludeMetadata: true,
	}
}

// FindSimilarDecisions searches past decisions, optionally for one stakeholder.
func (e *Engine) FindSimilarDecisions(ctx context.Context, text, stakeholderKey string) []Result {
	q := e.query(text, DecisionContext)
	q.Filters.StakeholderKey = stakeholderKey
	return e.Search(ctx, q)
}

// FindStakeholderPatterns searches profile and meeting history for a stakeholder.
func (e *Engine) FindStakeholderPatterns(ctx context.Context, stakeholderKey, text string) []Result {
	q := e.query(text, StakeholderIntelligence)
	q.Filters.StakeholderKey = stakeholderKey
	return e.Search(ctx, q)
}

func (e *Engine) FindSimilarInitiatives(ctx context.Context, description string) []Result {
	return e.Search(ctx, e.query(description, InitiativeSimilarity))
}

// FindStrategicThemes searches initiatives, platform metrics and executive
// sessions with an explicit relevance floor.
func (e *Engine) FindStrategicThemes(ctx context.Context, theme string, minRelevance float64) []Result {
	q := e.query(theme, StrategicThemes)
	q.MinRelevance = minRelevance
	return e.Search(ctx, q)
}

// FindMeetingInsights searches meeting_sessions over the last days (0 for all).
func (e *Engine) FindMeetingInsights(ctx context.Context, text string, days int) []Result {
	q := e.query(text, MeetingIntelligence)
	q.Filters.TimeRangeDays = days
	return e.Search(ctx, q)
}

var validationQueries = []struct {
	text string
	typ  SearchType
}{
	{"What decisions were made about the platform strategy?", DecisionContext},
	{"stakeholder alignment on platform investment", StakeholderIntelligence},
	{"initiatives at risk this quarter", StrategicThemes},
}

// Connect runs the canned validation queries and logs whether each finished
// within MaxQueryTime. Slow queries are reported, never aborted.
func (e *Engine) Connect(ctx context.Context) []ValidationResult {
	out := make([]ValidationResult, 0, len(validationQueries))
	for _, vq := range validationQueries {
		start := time.Now()
		results := e.Search(ctx, Query{Text: vq.text, Type: vq.typ, MaxResults: e.maxResults})
		elapsed := time.Since(start)

		v := ValidationResult{
			Query:     vq.text,
			Type:      vq.typ.String(),
			Elapsed:   elapsed,
			Results:   len(results),
			WithinSLA: elapsed <= e.maxQueryTime,
		}
		if v.WithinSLA {
			e.logger.Info("search validation passed", "search_type", v.Type, "elapsed", elapsed, "results", v.Results)
		} else {
			e.logger.Warn("search validation exceeded max query time",
				"search_type", v.Type, "elapsed", elapsed, "max_query_time", e.maxQueryTime)
		}
		out = append(out, v)
	}
	return out
}
