package pricesource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	xhttp "TradeCore/pkg/http"
)

type HTTPConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" default:"2s"`
}

type priceResponse struct {
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// HTTPSource polls GET {base}/tokens/{token}/price.
type HTTPSource struct {
	cfg    HTTPConfig
	client *xhttp.Client
}

var _ repository.PriceSource = (*HTTPSource)(nil)

func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HTTPSource{cfg: cfg, client: xhttp.NewClient(
		xhttp.WithTimeout(timeout),
		xhttp.WithBaseURL(cfg.BaseURL),
		xhttp.WithHeader("X-API-Key", cfg.APIKey),
	)}
}

func (s *HTTPSource) Poll(ctx context.Context, token string) (models.PriceSample, error) {
	var resp priceResponse
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodGet,
		URL:    "/tokens/" + url.PathEscape(token) + "/price",
	}, &resp)
	switch {
	case xhttp.IsStatus(err, http.StatusNotFound):
		return models.PriceSample{}, fmt.Errorf("%w: %w: %s", models.ErrDataUnavailable, models.ErrTokenNotFound, token)
	case err != nil:
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.PriceSample{}, fmt.Errorf("%w: poll %s timed out", models.ErrDataUnavailable, token)
		}
		return models.PriceSample{}, fmt.Errorf("%w: poll %s: %v", models.ErrDataUnavailable, token, err)
	}

	sample := models.PriceSample{
		Token:      token,
		Price:      resp.Price,
		Volume:     resp.Volume,
		ObservedAt: unixAuto(resp.Timestamp),
	}
	if !sample.Valid() {
		return models.PriceSample{}, fmt.Errorf("%w: %s price=%v volume=%v", models.ErrInvalidSample, token, resp.Price, resp.Volume)
	}
	return sample, nil
}

// unixAuto accepts second or millisecond epoch timestamps.
func unixAuto(ts int64) time.Time {
	switch {
	case ts <= 0:
		return time.Time{}
	case ts > 1e12:
		return time.UnixMilli(ts).UTC()
	default:
		return time.Unix(ts, 0).UTC()
	}
}
