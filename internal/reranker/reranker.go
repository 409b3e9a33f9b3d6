package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/quietloop/memory/internal/hashpath"
)

const defaultTimeout = 30 * time.Second

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponseItem struct {
	Index  int             `json:"index"`
	Score  float64         `json:"score"`
	Scores *submodelScores `json:"scores,omitempty"`
}

// Reranker reorders a searcher's retrieval results using a cross-encoder
// endpoint, with a persistent per-document score cache.
type Reranker struct {
	cfg        Config
	cache      Cache
	httpClient *http.Client
}

func New(cfg Config, cache Cache) *Reranker {
	return &Reranker{cfg: cfg.withDefaults(), cache: cache, httpClient: &http.Client{Timeout: defaultTimeout}}
}

// Rerank scores and reorders candidates. Disabled (empty endpoint) or a
// too-short query skip reranking entirely, returning candidates in
// retrieval order with RerankerScore left zero (spec.md §4.8). Any
// endpoint failure likewise falls back to retrieval order unchanged.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []Candidate) []Reranked {
	passthrough := func() []Reranked {
		out := make([]Reranked, len(candidates))
		for i, c := range candidates {
			out[i] = Reranked{Candidate: c, FinalScore: c.RetrievalScore}
		}
		return out
	}

	if r.cfg.Endpoint == "" || len(query) < MinQueryChars || len(candidates) == 0 {
		return passthrough()
	}

	queryHash := hashpath.QueryHash(query)
	modelTag := r.cfg.modelTag()

	scores := make([]float64, len(candidates))
	var toFetch []int
	for i, c := range candidates {
		docKey := fmt.Sprintf("%d:%s", c.ChunkID, c.ContentHash)
		if r.cache != nil {
			if s, ok, err := r.cache.GetRerankScore(ctx, queryHash, docKey, modelTag); err == nil && ok {
				scores[i] = s
				continue
			}
		}
		toFetch = append(toFetch, i)
	}

	if len(toFetch) > 0 {
		docs := make([]string, len(toFetch))
		for j, idx := range toFetch {
			docs[j] = candidates[idx].Content
		}

		items, err := r.callEndpoint(ctx, query, docs)
		if err != nil {
			slog.Warn("reranker endpoint failed, keeping retrieval order", slog.String("error", err.Error()))
			return passthrough()
		}

		for _, item := range items {
			if item.Index < 0 || item.Index >= len(toFetch) {
				continue
			}
			idx := toFetch[item.Index]
			score := r.normalizeItem(item)
			scores[idx] = score

			if r.cache != nil {
				docKey := fmt.Sprintf("%d:%s", candidates[idx].ChunkID, candidates[idx].ContentHash)
				if err := r.cache.SetRerankScore(ctx, queryHash, docKey, modelTag, score); err != nil {
					slog.Warn("rerank cache write failed", slog.String("error", err.Error()))
				}
			}
		}
	}

	normScores := queryMinMaxNormalize(scores)

	results := make([]Reranked, len(candidates))
	for i, c := range candidates {
		retrievalWeight, rerankWeight := retrievalWeightFor(c.RetrievalRank)
		final := retrievalWeight*c.RetrievalScore + rerankWeight*normScores[i]
		results[i] = Reranked{Candidate: c, RerankerScore: normScores[i], FinalScore: final}
	}

	sortDescending(results)
	return results
}

// normalizeItem applies per-submodel blending when present, otherwise
// normalizes the single combined score (spec.md §4.8).
func (r *Reranker) normalizeItem(item rerankResponseItem) float64 {
	if item.Scores != nil {
		if blended, ok := blendSubmodels(*item.Scores, r.cfg); ok {
			return blended
		}
	}
	return normalizeScore(item.Score)
}

func (r *Reranker) callEndpoint(ctx context.Context, query string, docs []string) ([]rerankResponseItem, error) {
	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading rerank response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank endpoint status %d: %s", resp.StatusCode, string(respBody))
	}

	var items []rerankResponseItem
	if err := json.Unmarshal(respBody, &items); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}
	return items, nil
}
