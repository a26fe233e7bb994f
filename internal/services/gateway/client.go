package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"TradeCore/internal/domain/models"
	"TradeCore/internal/domain/repository"
	xhttp "TradeCore/pkg/http"
	"TradeCore/pkg/logger"
)

// microUnits is the fixed-point scale the gateway expects amounts in.
var microUnits = decimal.NewFromInt(1_000_000)

type Config struct {
	BaseURL string        `yaml:"base_url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout" default:"2s"`
	DryRun  bool          `yaml:"dry_run"`
}

type orderRequest struct {
	DecisionID  string `json:"decision_id"`
	UserID      string `json:"user_id"`
	Token       string `json:"token"`
	Side        string `json:"side"`
	Amount      string `json:"amount,omitempty"`
	Quantity    string `json:"quantity,omitempty"`
	MinOut      string `json:"min_out"`
	SlippageBps int64  `json:"slippage_bps"`
	Source      string `json:"source"`
}

type orderResponse struct {
	Status       string  `json:"status"`
	TxHash       string  `json:"tx_hash"`
	FillPrice    float64 `json:"fill_price"`
	FillQuantity float64 `json:"fill_quantity"`
	Error        string  `json:"error"`
}

// Client submits decisions to the execution gateway over HTTP.
type Client struct {
	cfg    Config
	client *xhttp.Client
	log    *logger.Logger
	now    func() time.Time
}

var _ repository.ExecutionGateway = (*Client)(nil)

func NewClient(cfg Config, log *logger.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	opts := []xhttp.ClientOption{xhttp.WithTimeout(timeout), xhttp.WithBaseURL(cfg.BaseURL)}
	if cfg.Token != "" {
		opts = append(opts, xhttp.WithHeader("Authorization", "Bearer "+cfg.Token))
	}
	return &Client{
		cfg:    cfg,
		client: xhttp.NewClient(opts...),
		log:    log.With(logger.String("component", "gateway")),
		now:    time.Now,
	}
}

// ToMicro converts an amount to the gateway's integer micro-unit string.
func ToMicro(x float64) string {
	return decimal.NewFromFloat(x).Mul(microUnits).Truncate(0).String()
}

func buildOrder(d models.Decision, slippage float64) (orderRequest, error) {
	req := orderRequest{
		DecisionID:  d.ID,
		UserID:      d.UserID,
		Token:       d.Token,
		Side:        string(d.Action),
		SlippageBps: decimal.NewFromFloat(slippage).Mul(decimal.NewFromInt(10_000)).Round(0).IntPart(),
		Source:      string(d.Source),
	}
	keep := decimal.NewFromInt(1).Sub(decimal.NewFromFloat(slippage))
	price := decimal.NewFromFloat(d.ReferencePrice)

	switch d.Action {
	case models.ActionBuy:
		if d.Amount <= 0 || d.ReferencePrice <= 0 {
			return req, fmt.Errorf("%w: buy needs amount and reference price", models.ErrExecutionFailure)
		}
		amount := decimal.NewFromFloat(d.Amount)
		req.Amount = amount.Mul(microUnits).Truncate(0).String()
		req.MinOut = amount.Div(price).Mul(keep).Mul(microUnits).Truncate(0).String()
	case models.ActionSell:
		if d.Quantity <= 0 {
			return req, fmt.Errorf("%w: sell needs a quantity", models.ErrExecutionFailure)
		}
		qty := decimal.NewFromFloat(d.Quantity)
		req.Quantity = qty.Mul(microUnits).Truncate(0).String()
		req.MinOut = qty.Mul(price).Mul(keep).Mul(microUnits).Truncate(0).String()
	default:
		return req, fmt.Errorf("%w: cannot submit %q", models.ErrExecutionFailure, d.Action)
	}
	return req, nil
}

// Submit sends one order. It does not retry.
func (c *Client) Submit(ctx context.Context, d models.Decision, slippage float64) (models.ExecutionResult, error) {
	start := c.now()
	req, err := buildOrder(d, slippage)
	if err != nil {
		return models.ExecutionResult{Error: err.Error()}, err
	}

	if c.cfg.DryRun {
		return c.simulate(d, start), nil
	}

	var resp orderResponse
	err = c.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method: xhttp.MethodPost,
		URL:    "/orders",
		Body:   req,
	}, &resp)
	res := models.ExecutionResult{Latency: c.now().Sub(start)}
	if err != nil {
		res.Error = err.Error()
		return res, fmt.Errorf("%w: submit %s: %v", models.ErrExecutionFailure, d.ID, err)
	}

	res.TxHash = resp.TxHash
	res.FillPrice = resp.FillPrice
	res.FillQuantity = resp.FillQuantity
	res.FillAmount = resp.FillPrice * resp.FillQuantity
	if resp.Status != "filled" || resp.FillQuantity <= 0 {
		res.Error = resp.Error
		if res.Error == "" {
			res.Error = "status " + resp.Status
		}
		return res, fmt.Errorf("%w: %s rejected: %s", models.ErrExecutionFailure, d.ID, res.Error)
	}
	res.Filled = true
	return res, nil
}

// simulate fills at the reference price without contacting the gateway.
func (c *Client) simulate(d models.Decision, start time.Time) models.ExecutionResult {
	res := models.ExecutionResult{
		Filled:    true,
		FillPrice: d.ReferencePrice,
		TxHash:    fmt.Sprintf("DRY-RUN-%d", start.Unix()),
		DryRun:    true,
	}
	if d.Action == models.ActionBuy {
		res.FillQuantity = d.Amount / d.ReferencePrice
	} else {
		res.FillQuantity = d.Quantity
	}
	res.FillAmount = res.FillQuantity * res.FillPrice
	res.Latency = c.now().Sub(start)
	c.log.Info("dry-run fill",
		logger.String("decision_id", d.ID), logger.String("side", string(d.Action)),
		logger.String("token", d.Token), logger.Float64("quantity", res.FillQuantity),
		logger.Float64("price", res.FillPrice))
	return res
}
