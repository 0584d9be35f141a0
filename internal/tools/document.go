package tools

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/example/query-router-agent/internal/providers/llm"
)

var ErrNoPassages = errors.New("no relevant passages found")

const (
	defaultChunkSize    = 800
	defaultChunkOverlap = 100
	defaultTopK         = 4
)

// Passage is a chunk of a document returned by a Retriever.
type Passage struct {
	Source string
	Text   string
	Score  float64
}

// Retriever finds the passages most relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// LexicalIndex is an in-memory Retriever scoring chunks by tf-idf weighted
// term overlap with the query.
type LexicalIndex struct {
	mu        sync.RWMutex
	chunks    []indexedChunk
	docFreq   map[string]int
	ChunkSize int
	Overlap   int
}

type indexedChunk struct {
	source string
	text   string
	terms  map[string]int
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{docFreq: map[string]int{}, ChunkSize: defaultChunkSize, Overlap: defaultChunkOverlap}
}

// Add splits doc into chunks and indexes them.
func (x *LexicalIndex) Add(doc Document) int {
	parts := splitChunks(doc.Text, x.ChunkSize, x.Overlap)
	x.mu.Lock()
	defer x.mu.Unlock()
	for _, p := range parts {
		terms := termCounts(p)
		if len(terms) == 0 {
			continue
		}
		for t := range terms {
			x.docFreq[t]++
		}
		x.chunks = append(x.chunks, indexedChunk{source: doc.Source, text: p, terms: terms})
	}
	return len(parts)
}

func (x *LexicalIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

func (x *LexicalIndex) Retrieve(_ context.Context, query string, k int) ([]Passage, error) {
	if k <= 0 {
		k = defaultTopK
	}
	q := termCounts(query)
	x.mu.RLock()
	defer x.mu.RUnlock()
	n := float64(len(x.chunks))
	var out []Passage
	for _, c := range x.chunks {
		var score float64
		for t := range q {
			tf := c.terms[t]
			if tf == 0 {
				continue
			}
			idf := math.Log(1 + n/float64(x.docFreq[t]))
			score += (1 + math.Log(float64(tf))) * idf
		}
		if score > 0 {
			out = append(out, Passage{Source: c.source, Text: c.text, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "did": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

func termCounts(s string) map[string]int {
	out := map[string]int{}
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, stop := stopwords[f]; stop || len(f) < 2 {
			continue
		}
		out[f]++
	}
	return out
}

// DocumentTool answers questions from unstructured text: it retrieves the
// top passages and asks the LLM to answer from them. When the context carries
// a TokenCallback the answer is streamed to it.
type DocumentTool struct {
	name        string
	description string
	retriever   Retriever
	client      llm.Client
	TopK        int
}

func NewDocumentTool(name, description string, retriever Retriever, client llm.Client) *DocumentTool {
	return &DocumentTool{name: name, description: description, retriever: retriever, client: client, TopK: defaultTopK}
}

func (t *DocumentTool) Name() string        { return t.name }
func (t *DocumentTool) Description() string { return t.description }

func (t *DocumentTool) Query(ctx context.Context, text string) (string, error) {
	passages, err := t.retriever.Retrieve(ctx, text, t.TopK)
	if err != nil {
		return "", fmt.Errorf("retrieve: %w", err)
	}
	if len(passages) == 0 {
		return "", ErrNoPassages
	}
	var b strings.Builder
	b.WriteString("Answer the question using only the context below. If the context does not contain the answer, say so.\n\nContext:\n")
	for i, p := range passages {
		fmt.Fprintf(&b, "[%d] (%s) %s\n\n", i+1, p.Source, p.Text)
	}
	fmt.Fprintf(&b, "Question: %s", text)

	out, err := synthesize(ctx, t.client, b.String())
	if err != nil {
		return "", fmt.Errorf("synthesize answer: %w", err)
	}
	return strings.TrimSpace(out), nil
}
