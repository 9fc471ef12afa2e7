// Package stripe implements payment.Gateway against the Stripe REST API.
package stripe

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrey-lukin/storefront-backend/internal/config"
	"github.com/andrey-lukin/storefront-backend/internal/payment"
)

type Client struct {
	http          *resty.Client
	webhookSecret string
}

func NewClient(cfg config.StripeConfig) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetTimeout(cfg.RequestTimeout).
		SetAuthToken(cfg.SecretKey).
		SetHeader("Content-Type", "application/x-www-form-urlencoded")

	return &Client{
		http:          httpClient,
		webhookSecret: cfg.WebhookSecret,
	}
}

// sessionResponse mirrors the subset of the checkout session object this
// service consumes.
type sessionResponse struct {
	ID              string            `json:"id"`
	Status          string            `json:"status"`
	PaymentStatus   string            `json:"payment_status"`
	ClientSecret    string            `json:"client_secret"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails *struct {
		Email string `json:"email"`
	} `json:"customer_details"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params payment.CreateSessionParams) (*payment.CheckoutSession, error) {
	form := map[string]string{
		"ui_mode":           "embedded",
		"mode":              "payment",
		"return_url":        params.ReturnURL,
		"metadata[orderId]": params.OrderID.String(),
	}
	for i, item := range params.LineItems {
		form[fmt.Sprintf("line_items[%d][price]", i)] = item.PriceID
		form[fmt.Sprintf("line_items[%d][quantity]", i)] = strconv.Itoa(item.Quantity)
	}

	var session sessionResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&session).
		SetError(&apiErr).
		Post("/v1/checkout/sessions")
	if err != nil {
		return nil, fmt.Errorf("%w: create checkout session: %v", payment.ErrGatewayUnavailable, err)
	}
	if resp.IsError() {
		log.Error().
			Int("status", resp.StatusCode()).
			Str("stripe_error_code", apiErr.Error.Code).
			Str("stripe_error_message", apiErr.Error.Message).
			Msg("stripe: create checkout session rejected")
		return nil, fmt.Errorf("%w: create checkout session returned %d", payment.ErrGatewayUnavailable, resp.StatusCode())
	}

	return toCheckoutSession(&session), nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (*payment.CheckoutSession, error) {
	var session sessionResponse
	var apiErr errorResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&session).
		SetError(&apiErr).
		Get("/v1/checkout/sessions/" + sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve checkout session %s: %v", payment.ErrGatewayUnavailable, sessionID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, fmt.Errorf("session %s: %w", sessionID, payment.ErrSessionNotFound)
	}
	if resp.IsError() {
		log.Error().
			Int("status", resp.StatusCode()).
			Str("session_id", sessionID).
			Str("stripe_error_message", apiErr.Error.Message).
			Msg("stripe: retrieve checkout session failed")
		return nil, fmt.Errorf("%w: retrieve checkout session returned %d", payment.ErrGatewayUnavailable, resp.StatusCode())
	}

	return toCheckoutSession(&session), nil
}

func toCheckoutSession(resp *sessionResponse) *payment.CheckoutSession {
	session := &payment.CheckoutSession{
		ID:            resp.ID,
		Status:        resp.Status,
		PaymentStatus: payment.SessionPaymentStatus(resp.PaymentStatus),
		ClientSecret:  resp.ClientSecret,
	}
	if resp.CustomerDetails != nil {
		session.CustomerEmail = resp.CustomerDetails.Email
	}
	if raw, ok := resp.Metadata["orderId"]; ok {
		if orderID, err := uuid.FromString(raw); err == nil {
			session.OrderID = orderID
		}
	}
	return session
}
