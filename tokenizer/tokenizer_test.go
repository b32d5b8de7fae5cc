package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTiktokenEncodingSelection(t *testing.T) {
	tests := []struct {
		model        string
		wantEncoding string
		wantMax      int
	}{
		{"gpt-3.5-turbo-0125", "cl100k_base", 16385},
		{"gpt-4o", "o200k_base", 128000},
		{"gpt-4o-2024-08-06", "o200k_base", 128000}, // 前缀匹配
		{"MiniMax-Text-01", "cl100k_base", 1000000},
		{"totally-unknown-model", "cl100k_base", 8192}, // 默认回退
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			tok, err := NewTiktokenTokenizer(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.wantEncoding, tok.encoding)
			assert.Equal(t, tt.wantMax, tok.MaxTokens())
			assert.Equal(t, "tiktoken["+tt.wantEncoding+"]", tok.Name())
		})
	}
}

func TestRegistryPrefixMatch(t *testing.T) {
	est := NewEstimatorTokenizer("test-model", 2048)
	RegisterTokenizer("test-model", est)

	got, err := GetTokenizer("test-model")
	require.NoError(t, err)
	assert.Same(t, Tokenizer(est), got)

	// 前缀匹配
	got, err = GetTokenizer("test-model-variant")
	require.NoError(t, err)
	assert.Same(t, Tokenizer(est), got)

	_, err = GetTokenizer("unregistered")
	assert.Error(t, err)
}

func TestGetTokenizerOrEstimatorFallback(t *testing.T) {
	got := GetTokenizerOrEstimator("nobody-registered-this")
	require.NotNil(t, got)
	assert.Equal(t, "estimator", got.Name())
}

func TestEstimatorCounts(t *testing.T) {
	est := NewEstimatorTokenizer("any", 0)

	n, err := est.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = est.CountTokens("hello world")
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	// CJK 文本按 ~1.5 字/token 估算，应高于同字符数的 ASCII。
	ascii, _ := est.CountTokens("abcdefgh")
	cjk, _ := est.CountTokens("一二三四五六七八")
	assert.Greater(t, cjk, ascii)

	_, err = est.Decode([]int{1, 2, 3})
	assert.Error(t, err, "estimator cannot decode")

	assert.Equal(t, 4096, est.MaxTokens(), "zero maxTokens falls back to default")
}

func TestEstimatorCountMessages(t *testing.T) {
	est := NewEstimatorTokenizer("any", 0)
	n, err := est.CountMessages([]Message{
		{Role: "system", Content: "You are a helpful AI bot"},
		{Role: "user", Content: "hello"},
	})
	require.NoError(t, err)
	// 两条消息的内容加上每条 4 token 开销和 3 token 收尾。
	assert.Greater(t, n, 11)
}
