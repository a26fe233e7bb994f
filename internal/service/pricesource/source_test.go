package pricesource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TradeCore/internal/domain/models"
	"TradeCore/pkg/logger"
)

func TestHTTPSourcePoll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/PEPE/price", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		_ = json.NewEncoder(w).Encode(priceResponse{Price: 1.25, Volume: 300, Timestamp: 1_700_000_000})
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{BaseURL: srv.URL + "/", APIKey: "k", Timeout: time.Second})
	s, err := src.Poll(context.Background(), "PEPE")
	require.NoError(t, err)
	assert.Equal(t, "PEPE", s.Token)
	assert.Equal(t, 1.25, s.Price)
	assert.Equal(t, 300.0, s.Volume)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), s.ObservedAt)
}

func TestHTTPSourceMillisecondTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(priceResponse{Price: 2, Volume: 1, Timestamp: 1_700_000_000_500})
	}))
	defer srv.Close()

	s, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL}).Poll(context.Background(), "WIF")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1_700_000_000_500).UTC(), s.ObservedAt)
}

func TestHTTPSourceNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL}).Poll(context.Background(), "NOPE")
	assert.ErrorIs(t, err, models.ErrTokenNotFound)
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestHTTPSourceTimeoutIsDataUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL}).Poll(ctx, "PEPE")
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestHTTPSourceRejectsInvalidPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(priceResponse{Price: 0, Volume: 1, Timestamp: 1_700_000_000})
	}))
	defer srv.Close()

	_, err := NewHTTPSource(HTTPConfig{BaseURL: srv.URL}).Poll(context.Background(), "PEPE")
	assert.ErrorIs(t, err, models.ErrInvalidSample)
}

func TestStreamSourceServesLatestTick(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	subscribed := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		var sub subscribeMessage
		require.NoError(t, conn.ReadJSON(&sub))
		subscribed <- sub.Token
		_ = conn.WriteJSON(streamTick{Type: "tick", Token: "PEPE", Price: 1.0, Volume: 10, Timestamp: now.Unix() - 1})
		_ = conn.WriteJSON(streamTick{Type: "tick", Token: "PEPE", Price: 1.1, Volume: 12, Timestamp: now.Unix()})
		_ = conn.WriteJSON(map[string]string{"type": "heartbeat"})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	src := NewStreamSource(StreamConfig{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
		MaxTickAge:     5 * time.Second,
	}, []string{"PEPE"}, logger.Nop())
	src.now = func() time.Time { return now.Add(time.Second) }
	src.Start(context.Background())
	defer src.Close()

	assert.Equal(t, "PEPE", <-subscribed)
	require.Eventually(t, func() bool {
		s, err := src.Poll(context.Background(), "PEPE")
		return err == nil && s.Price == 1.1
	}, 2*time.Second, 10*time.Millisecond)

	src.now = func() time.Time { return now.Add(time.Minute) }
	_, err := src.Poll(context.Background(), "PEPE")
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestStreamSourceUnknownToken(t *testing.T) {
	src := NewStreamSource(StreamConfig{URL: "ws://127.0.0.1:1"}, nil, logger.Nop())
	_, err := src.Poll(context.Background(), "PEPE")
	assert.ErrorIs(t, err, models.ErrDataUnavailable)
}

func TestStreamSourceIgnoresOlderTicks(t *testing.T) {
	src := NewStreamSource(StreamConfig{}, nil, logger.Nop())
	newer, _ := json.Marshal(streamTick{Type: "tick", Token: "PEPE", Price: 2, Timestamp: 1_700_000_010})
	older, _ := json.Marshal(streamTick{Type: "tick", Token: "PEPE", Price: 1, Timestamp: 1_700_000_000})
	src.handle(newer)
	src.handle(older)
	src.handle([]byte("not json"))
	assert.Equal(t, 2.0, src.latest["PEPE"].Price)
}
