package contextualizer

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

	"github.com/quietloop/memory/internal/errors"
)

const defaultChatTimeout = 30 * time.Second

// chatRequest is the wire request body (spec.md §6).
type chatRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// chatChoice and chatResponse cover the OpenAI-style shape; plainResponse
// covers the bare {"response": "..."} shape. Both are normalized by
// extractText into a single concrete string.
type chatChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

type chatResponse struct {
	Choices  []chatChoice `json:"choices"`
	Response string       `json:"response"`
}

// callChat POSTs a prompt to slot.Endpoint and returns the normalized text
// response.
func callChat(ctx context.Context, client *http.Client, slot Slot, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{Prompt: prompt, Model: slot.Model})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, slot.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if slot.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+slot.APIKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.TransientNetwork("chat request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.TransientNetwork("reading chat response failed", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", errors.TransientNetwork("chat endpoint returned a transient error",
			fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.EndpointProtocol("chat endpoint returned an error",
			fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", errors.EndpointProtocol("chat response was not valid JSON", err)
	}
	return extractText(parsed), nil
}

// extractText picks whichever of the two response shapes is populated.
func extractText(r chatResponse) string {
	if len(r.Choices) > 0 && r.Choices[0].Message.Content != "" {
		return r.Choices[0].Message.Content
	}
	return r.Response
}

// jsonArrayPattern finds the first top-level JSON array in free-form text,
// tolerating a model that wraps its answer in prose or code fences.
var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// parseStringArray extracts the first JSON array of strings found in text.
func parseStringArray(text string) ([]string, error) {
	match := jsonArrayPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	var out []string
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil, fmt.Errorf("decode JSON array: %w", err)
	}
	return out, nil
}

// acceptContext applies the 10-500 character acceptance window, returning
// "" for anything outside it (spec.md §4.4).
func acceptContext(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < MinContextChars || len(s) > MaxContextChars {
		return ""
	}
	return s
}

func newChatHTTPClient() *http.Client {
	return &http.Client{Timeout: defaultChatTimeout}
}
