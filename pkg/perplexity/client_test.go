package perplexity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/resilience"
)

func completionServer(t *testing.T, check func(ChatCompletionRequest)) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ChatCompletionResponse{
			ID:        "cmpl-1",
			Choices:   []Choice{{Message: Message{Role: "assistant", Content: "Tiendas Neto"}}},
			Usage:     Usage{PromptTokens: 30, CompletionTokens: 3, TotalTokens: 33},
			Citations: []string{"https://tiendasneto.com.mx/"},
		})
	}))
}

func TestChatCompletion(t *testing.T) {
	srv := completionServer(t, func(req ChatCompletionRequest) {
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "TIENDAS NETO SUC 123", req.Messages[1].Content)
	})
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.ChatCompletion(context.Background(), ChatCompletionRequest{
		Messages: []Message{
			{Role: "system", Content: "Return the business name."},
			{Role: "user", Content: "TIENDAS NETO SUC 123"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Tiendas Neto", resp.Text())
	assert.Equal(t, 30, resp.Usage.PromptTokens)
	assert.Equal(t, 33, resp.Usage.TotalTokens)
	assert.Equal(t, []string{"https://tiendasneto.com.mx/"}, resp.Citations)
}

func TestChatCompletion_DomainFilter(t *testing.T) {
	hosts := make([]string, 0, 30)
	for i := range 30 {
		hosts = append(hosts, fmt.Sprintf("dir%d.example", i))
	}
	srv := completionServer(t, func(req ChatCompletionRequest) {
		assert.Len(t, req.DomainFilter, maxDomainFilter)
		assert.Equal(t, "-dir0.example", req.DomainFilter[0])
	})
	defer srv.Close()

	filter := append(ExcludeDomains(hosts), "-extra.example")
	_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{DomainFilter: filter})
	require.NoError(t, err)
}

func TestExcludeDomains(t *testing.T) {
	got := ExcludeDomains([]string{"www.Yelp.com", " ", "tripadvisor.com"})
	assert.Equal(t, []string{"-yelp.com", "-tripadvisor.com"}, got)
	assert.Empty(t, ExcludeDomains(nil))
}

func TestDefaultModel(t *testing.T) {
	srv := completionServer(t, func(req ChatCompletionRequest) {
		assert.Equal(t, "sonar", req.Model)
	})
	defer srv.Close()

	_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.NoError(t, err)
}

func TestWithModel(t *testing.T) {
	srv := completionServer(t, func(req ChatCompletionRequest) {
		assert.Equal(t, "sonar-pro", req.Model)
	})
	defer srv.Close()

	_, err := NewClient("test-key", WithBaseURL(srv.URL), WithModel("sonar-pro")).ChatCompletion(context.Background(), ChatCompletionRequest{})
	require.NoError(t, err)
}

func TestChatCompletion_StatusClassification(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusInternalServerError, true},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(tt.status)
			_, _ = w.Write([]byte(`{"error":"detail"}`))
		}))

		_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{})
		srv.Close()

		require.Error(t, err)
		assert.Equal(t, tt.transient, resilience.IsTransient(err), "status %d", tt.status)
		assert.Contains(t, err.Error(), "detail")
		assert.Equal(t, int32(1), calls.Load())
	}
}

func TestChatCompletion_Temperature(t *testing.T) {
	srv := completionServer(t, func(req ChatCompletionRequest) {
		require.NotNil(t, req.Temperature)
		assert.Equal(t, 0.0, *req.Temperature)
	})
	defer srv.Close()

	temp := 0.0
	_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(context.Background(), ChatCompletionRequest{Temperature: &temp})
	require.NoError(t, err)
}

func TestContextCancellation(t *testing.T) {
	srv := completionServer(t, nil)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient("test-key", WithBaseURL(srv.URL)).ChatCompletion(ctx, ChatCompletionRequest{})
	require.Error(t, err)
}

func TestText_NoChoices(t *testing.T) {
	assert.Equal(t, "", (&ChatCompletionResponse{}).Text())
}

func TestWithHTTPClient(t *testing.T) {
	hc := &http.Client{}
	c := NewClient("k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
	assert.Equal(t, defaultBaseURL, c.baseURL)
	assert.Equal(t, defaultModel, c.model)
}
