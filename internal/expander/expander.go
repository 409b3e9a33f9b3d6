package expander

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const defaultTimeout = 20 * time.Second

const promptTemplate = `Given the search query below, produce a JSON object with three fields:
  "lex": up to 2 alternative keyword phrasings (for a full-text search engine)
  "vec": up to 2 alternative semantic rephrasings (for an embedding search)
  "hyde": a short hypothetical passage (2-4 sentences) that would directly answer the query

Respond with only the JSON object, no surrounding prose.

Query: %s
%s`

// Expander generates and caches query expansions.
type Expander struct {
	cfg        Config
	httpClient *http.Client
	cache      Cache
}

func New(cfg Config, cache Cache) *Expander {
	return &Expander{cfg: cfg.withDefaults(), httpClient: &http.Client{Timeout: defaultTimeout}, cache: cache}
}

// Expand returns lex/vec/hyde expansions for query. Short queries return
// a zero-value Expansion. Any endpoint or parse failure falls back to a
// bare HyDE-only response built from the raw query (spec.md §4.6).
func (e *Expander) Expand(ctx context.Context, query, contextHints string) (Expansion, error) {
	query = strings.TrimSpace(query)
	if meaningfulTermCount(query) < MinMeaningfulTerms {
		return Expansion{}, nil
	}

	cacheKey := query + "|" + contextHints
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	exp, err := e.generate(ctx, query, contextHints)
	if err != nil {
		exp = Expansion{Hyde: bareHyDE(query)}
	}

	if e.cache != nil {
		e.cache.Add(cacheKey, exp)
	}
	return exp, nil
}

func meaningfulTermCount(query string) int {
	return len(normalizedTerms(query))
}

// bareHyDE is the last-resort fallback: the query itself, used as a weak
// stand-in HyDE passage when the endpoint is unavailable.
func bareHyDE(query string) string {
	if validHyDE(query) {
		return query
	}
	return ""
}

func (e *Expander) generate(ctx context.Context, query, contextHints string) (Expansion, error) {
	prompt := fmt.Sprintf(promptTemplate, query, contextHints)
	text, err := e.callChat(ctx, prompt)
	if err != nil {
		return Expansion{}, err
	}

	raw, err := parseRawExpansion(text)
	if err != nil {
		return Expansion{}, err
	}

	return filterExpansion(query, raw), nil
}

// filterExpansion applies the drift filter to lex/vec candidates and the
// length window to hyde (spec.md §4.6).
func filterExpansion(query string, raw rawExpansion) Expansion {
	var out Expansion
	for _, c := range raw.Lex {
		if passesDriftFilter(query, c) {
			out.Lex = append(out.Lex, c)
		}
	}
	for _, c := range raw.Vec {
		if passesDriftFilter(query, c) {
			out.Vec = append(out.Vec, c)
		}
	}
	if validHyDE(raw.Hyde) {
		out.Hyde = raw.Hyde
	}
	return out
}

type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatResponse struct {
	Choices  []chatChoice `json:"choices"`
	Response string       `json:"response"`
}

type chatRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

func (e *Expander) callChat(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{Prompt: prompt, Model: e.cfg.Model})
	if err != nil {
		return "", fmt.Errorf("marshal expander request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build expander request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("expander request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading expander response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("expander endpoint status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("expander response was not valid JSON: %w", err)
	}
	if len(parsed.Choices) > 0 && parsed.Choices[0].Message.Content != "" {
		return parsed.Choices[0].Message.Content, nil
	}
	return parsed.Response, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func parseRawExpansion(text string) (rawExpansion, error) {
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return rawExpansion{}, fmt.Errorf("no JSON object found in expander response")
	}
	var raw rawExpansion
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return rawExpansion{}, fmt.Errorf("decode expander response: %w", err)
	}
	return raw, nil
}
