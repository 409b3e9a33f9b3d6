package embedclient

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func floatsEqualApprox(a, b float32, eps float64) bool {
	return math.Abs(float64(a)-float64(b)) < eps
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return math.Sqrt(sum)
}

func echoEmbedServer(t *testing.T, dims int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		items := make([]embedResponseItem, len(req.Content))
		for i := range req.Content {
			vec := make([]float64, dims)
			for j := range vec {
				vec[j] = float64(i + j + 1)
			}
			items[i] = embedResponseItem{Index: i, Embedding: [][]float64{vec}}
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
}

func TestEmbedDocuments_NormalizesAndPreservesOrder(t *testing.T) {
	srv := echoEmbedServer(t, 4)
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, BatchSize: 10}, nil)
	vecs, err := c.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	for i, v := range vecs {
		if n := l2Norm(v); !floatsEqualApprox(float32(n), 1.0, 1e-4) {
			t.Fatalf("vector %d not unit-normalized, norm=%f", i, n)
		}
	}
}

func TestEmbedQuery_CachesInMemory(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		items := []embedResponseItem{{Index: 0, Embedding: [][]float64{{1, 0, 0, 0}}}}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL}, nil)
	ctx := context.Background()

	v1, err := c.EmbedQuery(ctx, "what is the weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := c.EmbedQuery(ctx, "what is the weather")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 HTTP call, got %d", calls)
	}
	if len(v1) != len(v2) {
		t.Fatalf("cached vector length mismatch")
	}
}

func TestEmbedDocuments_ZeroBatchReturnsNil(t *testing.T) {
	c := New(Config{Endpoint: "http://unused"}, nil)
	vecs, err := c.EmbedDocuments(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vecs != nil {
		t.Fatalf("expected nil result for empty input")
	}
}

func TestDoRequest_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL}, nil)
	_, err := c.doRequest(context.Background(), []string{"x"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestSanitize_TruncatesAndStripsControlBytes(t *testing.T) {
	input := "hello\x00\x01world\n\ttab"
	out := sanitize(input)
	if out != "helloworld\n\ttab" {
		t.Fatalf("got %q", out)
	}

	long := make([]byte, MaxInputChars+500)
	for i := range long {
		long[i] = 'a'
	}
	out = sanitize(string(long))
	if len(out) != MaxInputChars {
		t.Fatalf("expected truncation to %d chars, got %d", MaxInputChars, len(out))
	}
}

func TestSanitize_ReplacesBase64DataURI(t *testing.T) {
	out := sanitize("see: data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAUA end")
	if out != "see: [image] end" {
		t.Fatalf("got %q", out)
	}
}
