package haystack

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/haystack/llm"
	"github.com/BaSui01/haystack/tokenizer"
)

// wordTokenizer is a reversible word-level tokenizer for tests:
// each token is a word with its trailing whitespace.
type wordTokenizer struct {
	mu    sync.Mutex
	vocab map[string]int
	words []string
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{vocab: make(map[string]int)}
}

func (w *wordTokenizer) fragments(text string) []string {
	var frags []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == ' ' || r == '\n' {
			frags = append(frags, cur.String())
			cur.Reset()
		}
	}
	if cur.Len() > 0 {
		frags = append(frags, cur.String())
	}
	return frags
}

func (w *wordTokenizer) Encode(text string) ([]int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var tokens []int
	for _, frag := range w.fragments(text) {
		id, ok := w.vocab[frag]
		if !ok {
			id = len(w.words)
			w.vocab[frag] = id
			w.words = append(w.words, frag)
		}
		tokens = append(tokens, id)
	}
	return tokens, nil
}

func (w *wordTokenizer) Decode(tokens []int) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	var b strings.Builder
	for _, id := range tokens {
		b.WriteString(w.words[id])
	}
	return b.String(), nil
}

func (w *wordTokenizer) CountTokens(text string) (int, error) {
	return len(w.fragments(text)), nil
}

func (w *wordTokenizer) CountMessages(msgs []tokenizer.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		n, _ := w.CountTokens(m.Content)
		total += n
	}
	return total, nil
}

func (w *wordTokenizer) MaxTokens() int { return 1 << 20 }

func (w *wordTokenizer) Name() string { return "word" }

// fakeChat is a scripted llm.Provider.
type fakeChat struct {
	mu       sync.Mutex
	name     string
	fn       func(req *llm.ChatRequest) (*llm.ChatResponse, error)
	requests []*llm.ChatRequest
}

func textResponse(model, content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model: model,
		Choices: []llm.ChatChoice{{
			Message: llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
	}
}

func (f *fakeChat) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeChat) Stream(context.Context, *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk)
	close(ch)
	return ch, nil
}

func (f *fakeChat) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

func (f *fakeChat) Name() string {
	if f.name == "" {
		return "fake"
	}
	return f.name
}
