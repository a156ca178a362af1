package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"mv-hedge-bot/internal/config"
	"mv-hedge-bot/internal/venue"

	"go.uber.org/zap"
)

const defaultTimeout = 10 * time.Second

// Client talks to one venue's REST trading API. All calls are bounded by the
// configured per-venue timeout; rejections keep the venue's reason verbatim.
type Client struct {
	name          string
	baseURL       string
	apiKey        string
	priceDecimals int
	sizeDecimals  int
	http          *http.Client
	log           *zap.Logger
}

func New(cfg config.VenueConfig, log *zap.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("venue %s: base_url is required", cfg.Name)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	var apiKey string
	if cfg.APIKeyEnv != "" {
		apiKey = strings.TrimSpace(os.Getenv(cfg.APIKeyEnv))
		if apiKey == "" {
			return nil, fmt.Errorf("venue %s: env %s is empty", cfg.Name, cfg.APIKeyEnv)
		}
	}
	return &Client{
		name:          cfg.Name,
		baseURL:       baseURL,
		apiKey:        apiKey,
		priceDecimals: cfg.PriceDecimals,
		sizeDecimals:  cfg.SizeDecimals,
		http:          &http.Client{Timeout: timeout},
		log:           log,
	}, nil
}

func (c *Client) Name() string       { return c.name }
func (c *Client) PriceDecimals() int { return c.priceDecimals }
func (c *Client) SizeDecimals() int  { return c.sizeDecimals }

type tickerResponse struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (venue.Quote, error) {
	var resp tickerResponse
	query := url.Values{"symbol": {symbol}}
	if err := c.get(ctx, "/api/v1/ticker", query, &resp); err != nil {
		return venue.Quote{}, fmt.Errorf("%w: %v", venue.ErrQuoteUnavailable, err)
	}
	if resp.Bid <= 0 || resp.Ask <= 0 {
		return venue.Quote{}, fmt.Errorf("%w: empty book for %s", venue.ErrQuoteUnavailable, symbol)
	}
	return venue.Quote{Bid: resp.Bid, Ask: resp.Ask}, nil
}

type orderRequest struct {
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	NotionalUSD    float64 `json:"notional_usd"`
	LimitPrice     float64 `json:"limit_price,omitempty"`
	Leverage       float64 `json:"leverage,omitempty"`
	MaxSlippagePct float64 `json:"max_slippage_pct,omitempty"`
	ClientOrderID  string  `json:"client_order_id,omitempty"`
}

type orderResponse struct {
	OrderID     string  `json:"order_id"`
	Filled      bool    `json:"filled"`
	FilledPrice float64 `json:"filled_price"`
	FilledSize  float64 `json:"filled_size"`
	Reason      string  `json:"reason"`
}

func (c *Client) PlaceMarketOrder(ctx context.Context, order venue.MarketOrder) (venue.Fill, error) {
	req := orderRequest{
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           "market",
		NotionalUSD:    order.USDSize,
		Leverage:       order.Leverage,
		MaxSlippagePct: order.MaxSlippagePct,
		ClientOrderID:  order.ClientOrderID,
	}
	var resp orderResponse
	if err := c.post(ctx, "/api/v1/orders", req, &resp); err != nil {
		return venue.Fill{}, err
	}
	if !resp.Filled {
		reason := resp.Reason
		if reason == "" {
			reason = "order not filled"
		}
		return venue.Fill{}, &venue.OrderRejectedError{Venue: c.name, Reason: reason}
	}
	return venue.Fill{
		Filled:      true,
		FilledPrice: resp.FilledPrice,
		FilledSize:  resp.FilledSize,
		OrderID:     resp.OrderID,
	}, nil
}

func (c *Client) PlaceLimitOrder(ctx context.Context, order venue.LimitOrder) (string, error) {
	req := orderRequest{
		Symbol:        order.Symbol,
		Side:          string(order.Side),
		Type:          "limit",
		NotionalUSD:   order.USDSize,
		LimitPrice:    order.LimitPrice,
		Leverage:      order.Leverage,
		ClientOrderID: order.ClientOrderID,
	}
	var resp orderResponse
	if err := c.post(ctx, "/api/v1/orders", req, &resp); err != nil {
		return "", err
	}
	if resp.OrderID == "" {
		reason := resp.Reason
		if reason == "" {
			reason = "no order id returned"
		}
		return "", &venue.OrderRejectedError{Venue: c.name, Reason: reason}
	}
	return resp.OrderID, nil
}

type protectiveRequest struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	Size        float64 `json:"size"`
	EntryPrice  float64 `json:"entry_price"`
	TargetPrice float64 `json:"target_price,omitempty"`
	StopPrice   float64 `json:"stop_price,omitempty"`
	ReduceOnly  bool    `json:"reduce_only"`
}

type protectiveResponse struct {
	TargetOrderID string `json:"target_order_id"`
	StopOrderID   string `json:"stop_order_id"`
}

func (c *Client) AttachProtectiveOrders(ctx context.Context, req venue.ProtectiveRequest) (venue.ProtectiveRefs, error) {
	body := protectiveRequest{
		Symbol:      req.Symbol,
		Side:        string(req.Side),
		Size:        req.FilledSize,
		EntryPrice:  req.EntryPrice,
		TargetPrice: req.TargetPrice,
		StopPrice:   req.StopPrice,
		ReduceOnly:  true,
	}
	var resp protectiveResponse
	if err := c.post(ctx, "/api/v1/orders/protective", body, &resp); err != nil {
		return venue.ProtectiveRefs{}, err
	}
	return venue.ProtectiveRefs{TargetOrderID: resp.TargetOrderID, StopOrderID: resp.StopOrderID}, nil
}

type cancelResponse struct {
	Canceled bool   `json:"canceled"`
	Reason   string `json:"reason"`
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	var resp cancelResponse
	body := map[string]string{"order_id": orderID}
	if err := c.post(ctx, "/api/v1/orders/cancel", body, &resp); err != nil {
		return false, err
	}
	return resp.Canceled, nil
}

type closeRequest struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size,omitempty"`
	LimitPrice float64 `json:"limit_price,omitempty"`
	ReduceOnly bool    `json:"reduce_only"`
}

type closeResponse struct {
	Closed     bool    `json:"closed"`
	ClosePrice float64 `json:"close_price"`
	PnlPercent float64 `json:"pnl_percent"`
	Reason     string  `json:"reason"`
}

func (c *Client) ClosePosition(ctx context.Context, req venue.CloseRequest) (venue.CloseResult, error) {
	body := closeRequest{
		Symbol:     req.Symbol,
		Side:       string(req.Side),
		Size:       req.SizeOverride,
		LimitPrice: req.LimitPrice,
		ReduceOnly: true,
	}
	var resp closeResponse
	if err := c.post(ctx, "/api/v1/positions/close", body, &resp); err != nil {
		return venue.CloseResult{}, err
	}
	if !resp.Closed {
		reason := resp.Reason
		if reason == "" {
			reason = "close not accepted"
		}
		return venue.CloseResult{}, &venue.OrderRejectedError{Venue: c.name, Reason: reason}
	}
	return venue.CloseResult{Closed: true, ClosePrice: resp.ClosePrice, PnlPercent: resp.PnlPercent}, nil
}

type positionResponse struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
}

func (c *Client) Positions(ctx context.Context) ([]venue.Position, error) {
	var resp []positionResponse
	if err := c.get(ctx, "/api/v1/positions", nil, &resp); err != nil {
		return nil, err
	}
	positions := make([]venue.Position, 0, len(resp))
	for _, p := range resp {
		positions = append(positions, venue.Position{
			Symbol:     p.Symbol,
			Side:       venue.Side(p.Side),
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
		})
	}
	return positions, nil
}

type balanceResponse struct {
	Available float64 `json:"available"`
	Total     float64 `json:"total"`
}

func (c *Client) Balance(ctx context.Context) (venue.Balance, error) {
	var resp balanceResponse
	if err := c.get(ctx, "/api/v1/balance", nil, &resp); err != nil {
		return venue.Balance{}, err
	}
	return venue.Balance{Available: resp.Available, Total: resp.Total}, nil
}

func (c *Client) post(ctx context.Context, path string, req any, out any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return c.do(httpReq, out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	return c.do(httpReq, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		reason := strings.TrimSpace(string(body))
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
			return &venue.OrderRejectedError{Venue: c.name, Reason: rejectionReason(reason)}
		}
		return fmt.Errorf("%s: http %d: %s", c.name, resp.StatusCode, reason)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return nil
}

// rejectionReason pulls the venue's own message out of an error body so retry
// rules can match on it.
func rejectionReason(body string) string {
	var payload struct {
		Reason string `json:"reason"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err == nil {
		if payload.Reason != "" {
			return payload.Reason
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	if body == "" {
		return "request rejected"
	}
	return body
}

var _ venue.Venue = (*Client)(nil)
