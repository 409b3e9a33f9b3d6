package reranker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/quietloop/memory/internal/hashpath"
)

type memCache struct {
	mu sync.Mutex
	m  map[string]float64
}

func newMemCache() *memCache { return &memCache{m: make(map[string]float64)} }

func key(queryHash, docKey, modelTag string) string { return queryHash + "|" + docKey + "|" + modelTag }

func (c *memCache) GetRerankScore(ctx context.Context, queryHash, docKey, modelTag string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[key(queryHash, docKey, modelTag)]
	return v, ok, nil
}

func (c *memCache) SetRerankScore(ctx context.Context, queryHash, docKey, modelTag string, score float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key(queryHash, docKey, modelTag)] = score
	return nil
}

func TestNormalizeScore_PassesThroughZeroOne(t *testing.T) {
	if got := normalizeScore(0.5); got != 0.5 {
		t.Fatalf("expected passthrough, got %v", got)
	}
}

func TestNormalizeScore_RescalesNegativeOneToOne(t *testing.T) {
	if got := normalizeScore(-1); got != 0 {
		t.Fatalf("expected -1 -> 0, got %v", got)
	}
	if got := normalizeScore(1); got != 1 {
		t.Fatalf("expected 1 -> 1 (in-range branch), got %v", got)
	}
}

func TestNormalizeScore_SigmoidsOutOfRange(t *testing.T) {
	got := normalizeScore(5)
	if got <= 0.9 || got >= 1.0 {
		t.Fatalf("expected sigmoid(5) close to 1, got %v", got)
	}
}

func TestRetrievalWeightFor_MatchesTierTable(t *testing.T) {
	cases := []struct {
		rank             int
		retrieval, blend float64
	}{
		{0, 0.95, 0.05},
		{2, 0.95, 0.05},
		{3, 0.90, 0.10},
		{9, 0.90, 0.10},
		{10, 0.80, 0.20},
	}
	for _, c := range cases {
		r, b := retrievalWeightFor(c.rank)
		if r != c.retrieval || b != c.blend {
			t.Fatalf("rank %d: expected (%v,%v), got (%v,%v)", c.rank, c.retrieval, c.blend, r, b)
		}
	}
}

func TestRerank_SkipsOnShortQuery(t *testing.T) {
	r := New(Config{Endpoint: "http://unused"}, nil)
	candidates := []Candidate{{ChunkID: 1, RetrievalScore: 0.5}}
	results := r.Rerank(context.Background(), "ab", candidates)
	if results[0].FinalScore != 0.5 || results[0].RerankerScore != 0 {
		t.Fatalf("expected passthrough result, got %+v", results[0])
	}
}

func TestRerank_SkipsWhenDisabled(t *testing.T) {
	r := New(Config{}, nil)
	candidates := []Candidate{{ChunkID: 1, RetrievalScore: 0.5}}
	results := r.Rerank(context.Background(), "a real query", candidates)
	if results[0].FinalScore != 0.5 {
		t.Fatalf("expected passthrough when endpoint empty, got %+v", results[0])
	}
}

func TestRerank_BlendsScoresAndReorders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		items := make([]rerankResponseItem, len(req.Documents))
		for i := range req.Documents {
			items[i] = rerankResponseItem{Index: i, Score: float64(len(req.Documents) - i) / float64(len(req.Documents))}
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	r := New(Config{Endpoint: srv.URL}, newMemCache())
	candidates := []Candidate{
		{ChunkID: 1, ContentHash: "h1", Content: "doc one", RetrievalScore: 0.9, RetrievalRank: 0},
		{ChunkID: 2, ContentHash: "h2", Content: "doc two", RetrievalScore: 0.1, RetrievalRank: 1},
	}
	results := r.Rerank(context.Background(), "a real query", candidates)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].FinalScore < results[1].FinalScore {
		t.Fatalf("expected descending order, got %+v", results)
	}
}

func TestRerank_CacheHitAvoidsEndpointCall(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_ = json.NewEncoder(w).Encode([]rerankResponseItem{{Index: 0, Score: 0.7}})
	}))
	defer srv.Close()

	cfg := Config{Endpoint: srv.URL}.withDefaults()
	cache := newMemCache()
	const query = "a real query"
	qh := hashpath.QueryHash(query)
	_ = cache.SetRerankScore(context.Background(), qh, "1:h1", cfg.modelTag(), 0.8)
	_ = cache.SetRerankScore(context.Background(), qh, "2:h2", cfg.modelTag(), 0.2)

	r := New(Config{Endpoint: srv.URL}, cache)
	candidates := []Candidate{
		{ChunkID: 1, ContentHash: "h1", Content: "doc one", RetrievalScore: 0.5, RetrievalRank: 0},
		{ChunkID: 2, ContentHash: "h2", Content: "doc two", RetrievalScore: 0.5, RetrievalRank: 1},
	}

	results := r.Rerank(context.Background(), query, candidates)
	if calls != 0 {
		t.Fatalf("expected no endpoint call for a fully cached batch, got %d calls", calls)
	}
	if results[0].ChunkID != 1 {
		t.Fatalf("expected the higher-cached-score chunk to rank first, got %+v", results)
	}
}

func TestRerank_EndpointFailureKeepsRetrievalOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := New(Config{Endpoint: srv.URL}, nil)
	candidates := []Candidate{
		{ChunkID: 1, ContentHash: "h1", Content: "doc one", RetrievalScore: 0.9, RetrievalRank: 0},
		{ChunkID: 2, ContentHash: "h2", Content: "doc two", RetrievalScore: 0.1, RetrievalRank: 1},
	}
	results := r.Rerank(context.Background(), "a real query", candidates)
	if results[0].ChunkID != 1 || results[1].ChunkID != 2 {
		t.Fatalf("expected retrieval order preserved on failure, got %+v", results)
	}
}
