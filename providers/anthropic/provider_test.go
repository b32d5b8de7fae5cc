package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/haystack/llm"
	"github.com/BaSui01/haystack/providers"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, zap.NewNop())
}

func TestCompletion_SystemExtraction(t *testing.T) {
	var got anthropicRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		json.NewEncoder(w).Encode(anthropicResponse{
			ID:    "msg-1",
			Model: got.Model,
			Content: []anthropicContent{
				{Type: "text", Text: "Found "},
				{Type: "text", Text: "the needle."},
			},
			StopReason: "end_turn",
			Usage:      &anthropicUsage{InputTokens: 90, OutputTokens: 5},
		})
	})

	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a helpful AI bot"},
			{Role: llm.RoleUser, Content: "context goes here"},
			{Role: llm.RoleUser, Content: "where is the needle?"},
		},
	})
	require.NoError(t, err)

	// system 消息被提取到单独字段，不出现在消息数组里
	assert.Equal(t, "You are a helpful AI bot", got.System)
	assert.Len(t, got.Messages, 2)
	// Anthropic 要求必须提供 max_tokens
	assert.Equal(t, 350, got.MaxTokens)

	// 多个 text 块被拼接
	assert.Equal(t, "Found the needle.", llm.FirstContent(resp))
	assert.Equal(t, 95, resp.Usage.TotalTokens)
}

func TestCompletion_ErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode llm.ErrorCode
	}{
		{"unauthorized", http.StatusUnauthorized, `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`, llm.ErrUnauthorized},
		{"rate limited", http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`, llm.ErrRateLimited},
		{"credit", http.StatusBadRequest, `{"type":"error","error":{"type":"invalid_request_error","message":"credit balance too low"}}`, llm.ErrQuotaExceeded},
		{"overloaded", 529, `{"type":"error","error":{"type":"overloaded_error","message":"overloaded"}}`, llm.ErrModelOverloaded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := p.Completion(context.Background(), &llm.ChatRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})
			require.Error(t, err)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
		})
	}
}

func TestStream_Events(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message_start\n"))
		w.Write([]byte(`data: {"type":"message_start","message":{"id":"msg-1","model":"claude-3-5-sonnet-20241022"}}` + "\n\n"))
		w.Write([]byte("event: content_block_delta\n"))
		w.Write([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"nee"}}` + "\n\n"))
		w.Write([]byte("event: content_block_delta\n"))
		w.Write([]byte(`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"dle"}}` + "\n\n"))
		w.Write([]byte("event: message_stop\n"))
		w.Write([]byte(`data: {"type":"message_stop","usage":{"input_tokens":10,"output_tokens":2}}` + "\n\n"))
	})

	ch, err := p.Stream(context.Background(), &llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var content string
	var usage *llm.ChatUsage
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		content += chunk.Delta.Content
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
	}
	assert.Equal(t, "needle", content)
	require.NotNil(t, usage)
	assert.Equal(t, 12, usage.TotalTokens)
}
