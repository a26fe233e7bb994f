package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientResolvesBaseURLAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/orders", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "Bearer t", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"token":"PEPE"}`, string(body))
		_, _ = w.Write([]byte(`{"status":"filled"}`))
	}))
	defer srv.Close()

	c := NewClient(WithBaseURL(srv.URL+"/v1/"), WithHeader("Authorization", "Bearer t"), WithHeader("X-Empty", ""))
	var out struct{ Status string }
	err := c.SendAndParse(context.Background(), &RequestOptions{
		Method: MethodPost,
		URL:    "orders",
		Query:  url.Values{"limit": {"5"}},
		Body:   map[string]string{"token": "PEPE"},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "filled", out.Status)
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such token", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewClient(WithBaseURL(srv.URL)).SendAndParse(context.Background(),
		&RequestOptions{Method: MethodGet, URL: "/tokens/X/price"}, nil)
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusNotFound))
	assert.Contains(t, err.Error(), "no such token")
}
