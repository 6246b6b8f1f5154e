package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Session is what a gateway hands back for a new payment: Reference is kept
// on the order, ClientToken goes to the client (a redirect URL here).
type Session struct {
	Reference   string `json:"reference"`
	ClientToken string `json:"client_token"`
}

type Gateway interface {
	CreateSession(ctx context.Context, amount decimal.Decimal, orderID string) (Session, error)
}

type Config struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	NotificationID string
	CallbackURL    string
	Currency       string
	Timeout        time.Duration
}

// HTTPGateway talks to a Pesapal-style API: request a bearer token, then
// submit the order and read back the tracking id and redirect URL.
type HTTPGateway struct {
	cfg    Config
	client *resty.Client
}

func NewHTTPGateway(cfg Config) *HTTPGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	return &HTTPGateway{cfg: cfg, client: c}
}

type tokenRequest struct {
	ConsumerKey    string `json:"consumer_key"`
	ConsumerSecret string `json:"consumer_secret"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type submitOrderRequest struct {
	ID             string `json:"id"`
	Currency       string `json:"currency"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
	CallbackURL    string `json:"callback_url"`
	NotificationID string `json:"notification_id"`
}

type submitOrderResponse struct {
	OrderTrackingID string `json:"order_tracking_id"`
	RedirectURL     string `json:"redirect_url"`
	Error           any    `json:"error"`
}

func (g *HTTPGateway) token(ctx context.Context) (string, error) {
	var out tokenResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(tokenRequest{ConsumerKey: g.cfg.ConsumerKey, ConsumerSecret: g.cfg.ConsumerSecret}).
		Post("/api/Auth/RequestToken")
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("token request failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	// the provider does not always label its replies as JSON
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Token == "" {
		return "", errors.New("token not found in response")
	}
	return out.Token, nil
}

func (g *HTTPGateway) CreateSession(ctx context.Context, amount decimal.Decimal, orderID string) (Session, error) {
	tok, err := g.token(ctx)
	if err != nil {
		return Session{}, err
	}

	var out submitOrderResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetBody(submitOrderRequest{
			ID:             orderID,
			Currency:       g.cfg.Currency,
			Amount:         amount.StringFixed(2),
			Description:    "Payment for order " + orderID,
			CallbackURL:    g.cfg.CallbackURL,
			NotificationID: g.cfg.NotificationID,
		}).
		Post("/api/Transactions/SubmitOrderRequest")
	if err != nil {
		return Session{}, fmt.Errorf("submit order: %w", err)
	}
	if resp.IsError() {
		return Session{}, fmt.Errorf("submit order failed with status %d: %s", resp.StatusCode(), resp.String())
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return Session{}, fmt.Errorf("decode submit order response: %w", err)
	}
	if out.Error != nil || out.OrderTrackingID == "" || out.RedirectURL == "" {
		return Session{}, fmt.Errorf("unexpected submit order response: %s", resp.String())
	}
	return Session{Reference: out.OrderTrackingID, ClientToken: out.RedirectURL}, nil
}
