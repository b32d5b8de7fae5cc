package haystack

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/BaSui01/haystack/tokenizer"
)

// LoadCorpus reads every .txt file in dir (sorted by name) and
// concatenates them into one haystack text.
func LoadCorpus(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read corpus dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".txt" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	if len(names) == 0 {
		return "", fmt.Errorf("corpus dir %s contains no .txt files", dir)
	}

	var b strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read corpus file %s: %w", name, err)
		}
		b.Write(data)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// ContextBuilder assembles evaluation contexts: the haystack is repeated
// up to a target token length, trimmed at a sentence boundary, and the
// needle is spliced in at a controlled depth.
type ContextBuilder struct {
	provider ModelProvider
	corpus   string
	logger   *zap.Logger
}

// NewContextBuilder creates a builder over the given haystack corpus.
func NewContextBuilder(provider ModelProvider, corpus string, logger *zap.Logger) *ContextBuilder {
	return &ContextBuilder{
		provider: provider,
		corpus:   corpus,
		logger:   logger,
	}
}

// Build returns a context of at most contextLength tokens with needle
// inserted at depthPercent (0 = start, 100 = end).
func (b *ContextBuilder) Build(needle string, contextLength int, depthPercent float64) (string, error) {
	if contextLength <= 0 {
		return "", fmt.Errorf("context length must be positive, got %d", contextLength)
	}
	if depthPercent < 0 || depthPercent > 100 {
		return "", fmt.Errorf("depth percent must be in [0,100], got %v", depthPercent)
	}

	needleTokens, err := b.provider.EncodeTextToTokens(needle)
	if err != nil {
		return "", fmt.Errorf("encode needle: %w", err)
	}

	// 干草堆不够长就重复拼接。
	corpusTokens, err := b.provider.EncodeTextToTokens(b.corpus)
	if err != nil {
		return "", fmt.Errorf("encode corpus: %w", err)
	}
	if len(corpusTokens) == 0 {
		return "", fmt.Errorf("corpus is empty")
	}
	tokens := corpusTokens
	for len(tokens) < contextLength {
		tokens = append(tokens, corpusTokens...)
	}

	// 给针留出预算，截断时保持句子完整。
	budget := contextLength - len(needleTokens)
	if budget < 0 {
		budget = 0
	}
	trimmed, err := b.provider.DecodeTokens(tokens, budget, true)
	if err != nil {
		return "", fmt.Errorf("trim context: %w", err)
	}

	return b.insertNeedle(trimmed, needleTokens, depthPercent)
}

// insertNeedle splices the needle tokens into the context at
// depthPercent, walking the insertion point back to the previous
// sentence boundary so the needle never splits a sentence.
func (b *ContextBuilder) insertNeedle(contextText string, needleTokens []int, depthPercent float64) (string, error) {
	contextTokens, err := b.provider.EncodeTextToTokens(contextText)
	if err != nil {
		return "", fmt.Errorf("encode trimmed context: %w", err)
	}

	insertion := len(contextTokens)
	if depthPercent < 100 {
		insertion = int(float64(len(contextTokens)) * depthPercent / 100)

		// 回退到句子边界。深度 0 直接插在开头。
		for insertion > 0 {
			frag, err := b.provider.DecodeTokens(contextTokens[insertion-1:insertion], tokenizer.NoLimit, false)
			if err != nil {
				return "", fmt.Errorf("decode boundary token: %w", err)
			}
			if endsSentence(frag) {
				break
			}
			insertion--
		}
	}

	spliced := make([]int, 0, len(contextTokens)+len(needleTokens))
	spliced = append(spliced, contextTokens[:insertion]...)
	spliced = append(spliced, needleTokens...)
	spliced = append(spliced, contextTokens[insertion:]...)

	out, err := b.provider.DecodeTokens(spliced, tokenizer.NoLimit, false)
	if err != nil {
		return "", fmt.Errorf("decode spliced context: %w", err)
	}
	return out, nil
}

// endsSentence reports whether the decoded fragment ends a sentence.
func endsSentence(frag string) bool {
	frag = strings.TrimRight(frag, " \t")
	if frag == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(frag)
	switch r {
	case '\n', '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
