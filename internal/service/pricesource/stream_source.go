package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	"TradeCore/pkg/logger"
)

type StreamConfig struct {
	URL            string        `yaml:"url"`
	APIKey         string        `yaml:"api_key"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"2s"`
	PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
	MaxTickAge     time.Duration `yaml:"max_tick_age" default:"10s"`
}

type streamTick struct {
	Type      string  `json:"type"`
	Token     string  `json:"token"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

type subscribeMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// StreamSource keeps the latest pushed tick per token from a websocket feed
// and serves it to pollers.
type StreamSource struct {
	cfg    StreamConfig
	tokens []string
	dialer *websocket.Dialer
	log    *logger.Logger
	now    func() time.Time

	mu     sync.RWMutex
	latest map[string]models.PriceSample

	connMu    sync.Mutex
	conn      *websocket.Conn
	connected bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

var _ repository.PriceSource = (*StreamSource)(nil)

func NewStreamSource(cfg StreamConfig, tokens []string, log *logger.Logger) *StreamSource {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 15 * time.Second
	}
	if cfg.MaxTickAge <= 0 {
		cfg.MaxTickAge = 10 * time.Second
	}
	return &StreamSource{
		cfg:    cfg,
		tokens: append([]string(nil), tokens...),
		dialer: websocket.DefaultDialer,
		log:    log.With(logger.String("component", "price_stream")),
		now:    time.Now,
		latest: make(map[string]models.PriceSample),
	}
}

// Poll returns the latest tick for token if it is recent enough.
func (s *StreamSource) Poll(ctx context.Context, token string) (models.PriceSample, error) {
	if err := ctx.Err(); err != nil {
		return models.PriceSample{}, fmt.Errorf("%w: %v", models.ErrDataUnavailable, err)
	}
	s.mu.RLock()
	sample, ok := s.latest[token]
	s.mu.RUnlock()
	if !ok {
		return models.PriceSample{}, fmt.Errorf("%w: no tick for %s", models.ErrDataUnavailable, token)
	}
	if age := s.now().Sub(sample.ObservedAt); age > s.cfg.MaxTickAge {
		return models.PriceSample{}, fmt.Errorf("%w: last tick for %s is %s old", models.ErrDataUnavailable, token, age)
	}
	return sample, nil
}

// Start connects and keeps the feed running until ctx is done or Close is called.
func (s *StreamSource) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(2)
	go s.pingLoop(ctx)
	go s.readLoop(ctx)
}

func (s *StreamSource) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	err := s.closeConn()
	s.wg.Wait()
	return err
}

func (s *StreamSource) IsConnected() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.connected
}

func (s *StreamSource) connect(ctx context.Context) error {
	u := s.cfg.URL
	if s.cfg.APIKey != "" {
		u = fmt.Sprintf("%s?token=%s", u, s.cfg.APIKey)
	}
	conn, _, err := s.dialer.DialContext(ctx, u, nil)
	if err != nil {
		return fmt.Errorf("stream connect: %w", err)
	}
	for _, token := range s.tokens {
		if err := conn.WriteJSON(subscribeMessage{Type: "subscribe", Token: token}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("subscribe %s: %w", token, err)
		}
	}
	s.connMu.Lock()
	s.conn = conn
	s.connected = true
	s.connMu.Unlock()
	s.log.Info("price stream connected", logger.Int("tokens", len(s.tokens)))
	return nil
}

func (s *StreamSource) closeConn() error {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connected = false
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *StreamSource) readLoop(ctx context.Context) {
	defer s.wg.Done()
	for ctx.Err() == nil {
		if err := s.connect(ctx); err != nil {
			s.log.Warn("price stream unavailable", logger.Error(err))
			if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		err := s.consume(ctx)
		_ = s.closeConn()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("price stream dropped, reconnecting", logger.Error(err))
		if !sleepCtx(ctx, s.cfg.ReconnectDelay) {
			return
		}
	}
}

func (s *StreamSource) consume(ctx context.Context) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("stream read: %w", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.handle(b)
	}
}

// handle ignores frames that are not well-formed ticks.
func (s *StreamSource) handle(b []byte) {
	var tick streamTick
	if err := json.Unmarshal(b, &tick); err != nil || tick.Type != "tick" {
		return
	}
	sample := models.PriceSample{
		Token:      tick.Token,
		Price:      tick.Price,
		Volume:     tick.Volume,
		ObservedAt: unixAuto(tick.Timestamp),
	}
	if !sample.Valid() {
		s.log.Debug("invalid tick dropped", logger.String("token", tick.Token), logger.Float64("price", tick.Price))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.latest[sample.Token]; ok && sample.ObservedAt.Before(prev.ObservedAt) {
		return
	}
	s.latest[sample.Token] = sample
}

func (s *StreamSource) pingLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.connMu.Lock()
			if s.conn != nil {
				_ = s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			}
			s.connMu.Unlock()
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
