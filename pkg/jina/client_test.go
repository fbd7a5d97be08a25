package jina

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/merchant-enrich/internal/resilience"
)

func TestSearch_Success(t *testing.T) {
	t.Parallel()

	want := SearchResponse{
		Code: 200,
		Data: []SearchResult{
			{Title: "Uber Eats | Food Delivery", URL: "https://www.ubereats.com/", Description: "Order food online"},
			{Title: "Uber Eats - Wikipedia", URL: "https://en.wikipedia.org/wiki/Uber_Eats"},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/UBER EATS New Delhi", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(want)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	got, err := client.Search(context.Background(), "UBER EATS New Delhi")

	require.NoError(t, err)
	require.Len(t, got.Data, 2)
	assert.Equal(t, "https://www.ubereats.com/", got.Data[0].URL)
	assert.Equal(t, "Order food online", got.Data[0].Snippet())
}

func TestSearch_NoResults(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	got, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), "zzzz")
	require.NoError(t, err)
	assert.Empty(t, got.Data)
	assert.Equal(t, http.StatusUnprocessableEntity, got.Code)
}

func TestSearch_StatusErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"rate limited", http.StatusTooManyRequests, true},
		{"server error", http.StatusInternalServerError, true},
		{"unavailable", http.StatusServiceUnavailable, true},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls++
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			_, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), "acme")
			require.Error(t, err)
			assert.Equal(t, tt.transient, resilience.IsTransient(err))
			assert.Equal(t, 1, calls, "client never retries on its own")
		})
	}
}

func TestSearch_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient("k", WithBaseURL(srv.URL)).Search(context.Background(), "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearchResult_Snippet(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("a", 400)
	assert.Len(t, SearchResult{Content: long}.Snippet(), 300)
	assert.Equal(t, "desc", SearchResult{Description: "desc", Content: long}.Snippet())

	// Byte 300 falls inside a two-byte rune.
	multi := "a" + strings.Repeat("é", 200)
	got := SearchResult{Content: multi}.Snippet()
	assert.True(t, utf8.ValidString(got))
	assert.Len(t, got, 299)
	assert.True(t, strings.HasPrefix(multi, got))

	short := strings.Repeat("日", 50)
	assert.Equal(t, short, SearchResult{Content: short}.Snippet())
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	hc := &http.Client{}
	c := NewClient("k", WithHTTPClient(hc)).(*httpClient)
	assert.Same(t, hc, c.http)
	assert.Equal(t, "https://s.jina.ai", c.baseURL)
}
