package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/quietloop/memory/internal/errors"
)

// Client embeds text via an external HTTP endpoint, batching requests,
// bounding concurrency, retrying transient failures, and caching query
// embeddings in a two-tier (LRU + store-backed) cache.
type Client struct {
	cfg        Config
	httpClient *http.Client
	transport  *http.Transport
	sem        *semaphore.Weighted
	queryCache *lru.Cache[string, []float32]
	persistent PersistentCache

	mu               sync.Mutex
	dims             int
	batchesSinceCool int
	closed           bool
}

// New creates a Client. persistent may be nil to disable the store-backed
// cache tier (the in-memory LRU still applies).
func New(cfg Config, persistent PersistentCache) *Client {
	cfg = cfg.withDefaults()

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxConcurrentBatches * 2,
		MaxIdleConnsPerHost: cfg.MaxConcurrentBatches * 2,
		MaxConnsPerHost:     cfg.MaxConcurrentBatches * 4,
		IdleConnTimeout:     10 * time.Second,
	}

	cache, _ := lru.New[string, []float32](cfg.CacheSize)

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Transport: transport},
		transport:  transport,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentBatches)),
		queryCache: cache,
		persistent: persistent,
		dims:       cfg.Dimensions,
	}
}

// Dimensions returns the embedding width, 0 if not yet known.
func (c *Client) Dimensions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dims
}

// Close releases idle HTTP connections.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.transport.CloseIdleConnections()
	return nil
}

// Health probes the endpoint the same way the embedding API itself is
// called, per spec.md §6: POST {content:["test"]}, expect an ok, parseable
// response.
func (c *Client) Health(ctx context.Context) bool {
	_, err := c.doRequest(ctx, []string{"test"})
	return err == nil
}

// EmbedQuery embeds a user query, prepending QueryPrefix and consulting
// the query-embedding cache (in-memory first, then the persistent store).
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := c.queryCache.Get(text); ok {
		return cached, nil
	}
	if c.persistent != nil {
		if vec, ok, err := c.persistent.GetQueryEmbedding(ctx, text); err == nil && ok {
			c.queryCache.Add(text, vec)
			return vec, nil
		}
	}

	vecs, err := c.EmbedDocuments(ctx, []string{QueryPrefix + sanitize(text)})
	if err != nil {
		return nil, err
	}
	vec := vecs[0]

	c.queryCache.Add(text, vec)
	if c.persistent != nil {
		if err := c.persistent.SetQueryEmbedding(ctx, text, vec); err != nil {
			slog.Warn("query embedding cache write failed", slog.String("error", err.Error()))
		}
	}
	return vec, nil
}

// EmbedDocument embeds a single document chunk, prepending DocumentPrefix.
// Document embeddings are not cached (spec.md §3 only defines a
// query-embedding cache).
func (c *Client) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedDocuments(ctx, []string{DocumentPrefix + sanitize(text)})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds pre-prefixed texts in batches of up to
// cfg.BatchSize, running up to cfg.MaxConcurrentBatches requests
// concurrently. Every cfg.CooldownEveryBatches batches it pauses for
// cfg.CooldownDuration and probes endpoint health before resuming
// (spec.md §4.2, §5).
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var firstErr error
	var mu sync.Mutex

	var wg sync.WaitGroup
	for start := 0; start < len(texts); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		batchStart := start

		if err := c.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer c.sem.Release(1)

			if err := c.maybeCooldown(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}

			vecs, err := c.embedBatchWithFallback(ctx, batch)
			mu.Lock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			for i, v := range vecs {
				results[batchStart+i] = v
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// maybeCooldown pauses every CooldownEveryBatches batches to let upstream
// rate limits reset, then probes endpoint health before letting the
// caller's batch proceed.
func (c *Client) maybeCooldown(ctx context.Context) error {
	c.mu.Lock()
	c.batchesSinceCool++
	due := c.batchesSinceCool >= c.cfg.CooldownEveryBatches
	if due {
		c.batchesSinceCool = 0
	}
	c.mu.Unlock()

	if !due {
		return nil
	}

	slog.Info("embedding cooldown", slog.Duration("duration", c.cfg.CooldownDuration))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(c.cfg.CooldownDuration):
	}

	if !c.Health(ctx) {
		slog.Warn("embedding endpoint unhealthy after cooldown, continuing anyway")
	}
	return nil
}

// embedBatchWithFallback embeds one batch; on a retryable failure it waits
// a short backoff then retries the whole batch once, falling back to
// per-item embedding (substituting a zero vector on final per-item
// failure) if that retry also fails or the failure wasn't retryable in
// the first place (spec.md §4.2, §7).
func (c *Client) embedBatchWithFallback(ctx context.Context, batch []string) ([][]float32, error) {
	vecs, err := c.doRequest(ctx, batch)
	if err == nil {
		return vecs, nil
	}
	if !errors.IsRetryable(err) {
		return c.embedIndividually(ctx, batch), nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	vecs, retryErr := c.doRequest(ctx, batch)
	if retryErr == nil {
		return vecs, nil
	}
	return c.embedIndividually(ctx, batch), nil
}

// embedIndividually retries each text in the batch on its own, logging and
// substituting a zero vector for any that still fail.
func (c *Client) embedIndividually(ctx context.Context, batch []string) [][]float32 {
	out := make([][]float32, len(batch))
	for i, text := range batch {
		vec, err := c.embedItemWithRetry(ctx, text)
		if err != nil {
			slog.Warn("embedding failed, substituting zero vector", slog.String("error", err.Error()))
			out[i] = make([]float32, c.zeroDims())
			continue
		}
		out[i] = vec
	}
	return out
}

// embedItemWithRetry embeds a single text. Retryable failures (5xx, 429,
// network errors) get exponential backoff with jitter; RetryWithResult
// itself checks errors.IsRetryable on each attempt, so any other failure
// (endpoint protocol, etc.) propagates on the first try and spends no
// retry budget (spec.md §4.2, §7).
func (c *Client) embedItemWithRetry(ctx context.Context, text string) ([]float32, error) {
	cfg := errors.DefaultRetryConfig()
	cfg.Jitter = true
	return errors.RetryWithResult(ctx, cfg, func() ([]float32, error) {
		vecs, err := c.doRequest(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	})
}

func (c *Client) zeroDims() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dims > 0 {
		return c.dims
	}
	return 0
}

// doRequest issues one POST {content: string[]} call and L2-normalizes
// every returned embedding.
func (c *Client) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Content: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.TransientNetwork("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.TransientNetwork("reading embedding response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return nil, errors.TransientNetwork("embedding endpoint returned a transient error",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.EndpointProtocol("embedding endpoint returned an error",
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)))
	}

	var items []embedResponseItem
	if err := json.Unmarshal(respBody, &items); err != nil {
		return nil, errors.EndpointProtocol("embedding response was not valid JSON", err)
	}

	out := make([][]float32, len(items))
	for _, item := range items {
		if item.Index < 0 || item.Index >= len(items) || len(item.Embedding) == 0 {
			return nil, errors.EndpointProtocol("embedding response item missing embedding",
				fmt.Errorf("index %d", item.Index))
		}
		out[item.Index] = normalize(item.Embedding[0])
	}

	c.mu.Lock()
	if c.dims == 0 && len(out) > 0 {
		c.dims = len(out[0])
	}
	c.mu.Unlock()

	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
