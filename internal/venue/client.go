package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Signer produces the auth headers a request needs for (method, path).
// The concrete signing scheme (RSA-PSS, HMAC, ...) is an external
// collaborator; Client only needs the header map back.
type Signer interface {
	Sign(method, path string) (map[string]string, error)
}

// Client is a resty-backed implementation of Adapter: wire encoding over
// the REST order API of §6, with 3-attempt exponential-backoff retry of
// transient network failures.
type Client struct {
	http    *resty.Client
	signer  Signer
	baseURL string
	logger  *slog.Logger
}

// NewClient returns a Client pointed at baseURL, signing each request with
// signer.
func NewClient(baseURL string, signer Signer, logger *slog.Logger) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2). // retries after the first try: 3 attempts in all
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(8 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true // transient network error: timeout, connection reset
			}
			return r.StatusCode() >= 500
		})

	return &Client{
		http:    rc,
		signer:  signer,
		baseURL: baseURL,
		logger:  logger.With("component", "venue_client"),
	}
}

type orderRequest struct {
	TokenID  string `json:"token_id"`
	Side     string `json:"side"`
	Price    string `json:"price"`
	Size     string `json:"size"`
	PostOnly bool   `json:"post_only"`
}

type orderResponse struct {
	OrderID string `json:"order_id"`
}

type venueErrorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type balanceResponse struct {
	Balance     string            `json:"balance"`
	Allowances  map[string]string `json:"allowances"`
}

// PlaceOrder implements Adapter.
func (c *Client) PlaceOrder(ctx context.Context, token string, side OrderSide, price, size decimal.Decimal, postOnly bool) (OrderAck, error) {
	const path = "/orders"

	headers, err := c.signer.Sign(http.MethodPost, path)
	if err != nil {
		return OrderAck{}, fmt.Errorf("venue: sign place order: %w", err)
	}

	body := orderRequest{
		TokenID:  token,
		Side:     string(side),
		Price:    price.String(),
		Size:     size.String(),
		PostOnly: postOnly,
	}

	var out orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(body).
		SetResult(&out).
		Post(path)
	if err != nil {
		return OrderAck{}, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	if resp.IsError() {
		return OrderAck{}, classifyFailure(resp)
	}

	return OrderAck{OrderID: out.OrderID, Token: token, Side: side, Price: price, Size: size}, nil
}

// CancelOrder implements Adapter.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	path := "/orders/" + orderID

	headers, err := c.signer.Sign(http.MethodDelete, path)
	if err != nil {
		return fmt.Errorf("venue: sign cancel order: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		Delete(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if resp.IsError() {
		return classifyFailure(resp)
	}
	return nil
}

// GetCollateralBalance implements Adapter. The wire format denominates
// balance in 10^-6 units; this converts to a plain decimal amount.
func (c *Client) GetCollateralBalance(ctx context.Context) (decimal.Decimal, error) {
	const path = "/balance"

	headers, err := c.signer.Sign(http.MethodGet, path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue: sign balance: %w", err)
	}

	var out balanceResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetResult(&out).
		Get(path)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if resp.IsError() {
		return decimal.Zero, classifyFailure(resp)
	}

	raw, err := decimal.NewFromString(out.Balance)
	if err != nil {
		return decimal.Zero, fmt.Errorf("venue: parse balance %q: %w", out.Balance, err)
	}
	return raw.Div(decimal.NewFromInt(1_000_000)), nil
}

// classifyFailure maps a venue error response to the sentinel Failure
// taxonomy of §4.2/§7.
func classifyFailure(resp *resty.Response) error {
	var body venueErrorBody
	_ = json.Unmarshal(resp.Body(), &body)

	switch body.Kind {
	case "min_notional":
		return fmt.Errorf("%w: %s", ErrMinNotional, body.Message)
	case "insufficient_balance":
		return fmt.Errorf("%w: %s", ErrInsufficientBalance, body.Message)
	default:
		return fmt.Errorf("%w (status %d): %s", ErrRejected, resp.StatusCode(), body.Message)
	}
}
