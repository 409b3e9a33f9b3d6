package chunker

import (
	"strings"
	"testing"
)

func repeatWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "lorem"
	}
	return strings.Join(words, " ")
}

func TestSplit_FlushesOnTopLevelHeadings(t *testing.T) {
	doc := "# Intro\n" + repeatWords(60) + "\n\n## Details\n" + repeatWords(60)

	chunks := Split(doc, Options{})

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].Header != "Intro" {
		t.Fatalf("expected first chunk header %q, got %q", "Intro", chunks[0].Header)
	}
	if chunks[1].Header != "Details" {
		t.Fatalf("expected second chunk header %q, got %q", "Details", chunks[1].Header)
	}
	if chunks[0].LineStart != 1 {
		t.Fatalf("expected first chunk to start at line 1, got %d", chunks[0].LineStart)
	}
}

func TestSplit_DropsChunksBelowMinChars(t *testing.T) {
	doc := "# A\nhi\n\n## B\nok"

	chunks := Split(doc, Options{})

	for _, c := range chunks {
		if len(strings.TrimSpace(strings.TrimPrefix(c.Content, buildMetadataPrefix("")))) < MinChunkChars {
			t.Fatalf("expected all surviving chunks >= %d chars, got %q", MinChunkChars, c.Content)
		}
	}
}

func TestSplit_TokenBudgetFlushCarriesOverlap(t *testing.T) {
	doc := repeatWords(400)

	chunks := Split(doc, Options{MaxTokens: 50, OverlapTokens: 10})

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks from a long run of text, got %d", len(chunks))
	}

	firstWords := strings.Fields(chunks[0].Content)
	secondWords := strings.Fields(chunks[1].Content)
	if firstWords[len(firstWords)-1] != secondWords[0] {
		t.Fatalf("expected overlap tail to seed the next chunk")
	}
}

func TestSplit_CollectsDistinctInnerHeadings(t *testing.T) {
	doc := "# Title\n" + repeatWords(10) + "\n\n#### Aside\nmore text here to pad length over fifty chars total\n\n#### Aside\nmore"

	chunks := Split(doc, Options{})

	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk (level-4 headings don't flush), got %d", len(chunks))
	}
	if len(chunks[0].Headings) != 2 || chunks[0].Headings[0] != "Title" || chunks[0].Headings[1] != "Aside" {
		t.Fatalf("expected header plus deduplicated inner heading [Title Aside], got %v", chunks[0].Headings)
	}
}

func TestSplit_ReplacesBase64DataURIs(t *testing.T) {
	doc := "# Screenshot\nHere is an image: data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAUA padded with more descriptive text to clear the minimum length"

	chunks := Split(doc, Options{})

	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if strings.Contains(chunks[0].Content, "base64") {
		t.Fatalf("expected base64 data URI to be replaced, got %q", chunks[0].Content)
	}
	if !strings.Contains(chunks[0].Content, "[image]") {
		t.Fatalf("expected [image] placeholder in %q", chunks[0].Content)
	}
}

func TestBuildMetadataPrefix_SessionFilenameGetsDate(t *testing.T) {
	prefix := buildMetadataPrefix("/notes/session-2026-07-31-standup.md")
	if !strings.Contains(prefix, "2026-07-31") {
		t.Fatalf("expected date in prefix, got %q", prefix)
	}
	if !strings.Contains(prefix, "session-2026-07-31-standup.md") {
		t.Fatalf("expected source basename in prefix, got %q", prefix)
	}
}

func TestBuildMetadataPrefix_PlainFilenameGetsSourceOnly(t *testing.T) {
	prefix := buildMetadataPrefix("/notes/today.md")
	if prefix != "[Source: today.md]" {
		t.Fatalf("got %q", prefix)
	}
}
