package stripe_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrey-lukin/storefront-backend/internal/config"
	"github.com/andrey-lukin/storefront-backend/internal/payment"
	"github.com/andrey-lukin/storefront-backend/internal/payment/stripe"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *stripe.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return stripe.NewClient(config.StripeConfig{
		SecretKey:      "sk_test_123",
		WebhookSecret:  "whsec_test",
		APIBaseURL:     srv.URL,
		RequestTimeout: 5 * time.Second,
	})
}

func TestClient_CreateCheckoutSession(t *testing.T) {
	orderID := uuid.FromStringOrNil("9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d")

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseForm())
		assert.Equal(t, "embedded", r.FormValue("ui_mode"))
		assert.Equal(t, "payment", r.FormValue("mode"))
		assert.Equal(t, orderID.String(), r.FormValue("metadata[orderId]"))
		assert.Equal(t, "price_123", r.FormValue("line_items[0][price]"))
		assert.Equal(t, "2", r.FormValue("line_items[0][quantity]"))
		assert.Equal(t, "https://shop.example.com/shop/complete?session_id={CHECKOUT_SESSION_ID}", r.FormValue("return_url"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "cs_test_a1b2c3",
			"status": "open",
			"payment_status": "unpaid",
			"client_secret": "cs_secret_xyz",
			"metadata": {"orderId": "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"}
		}`))
	})

	session, err := client.CreateCheckoutSession(context.Background(), payment.CreateSessionParams{
		OrderID:   orderID,
		LineItems: []payment.LineItem{{PriceID: "price_123", Quantity: 2}},
		ReturnURL: "https://shop.example.com/shop/complete?session_id={CHECKOUT_SESSION_ID}",
	})

	require.NoError(t, err)
	assert.Equal(t, "cs_test_a1b2c3", session.ID)
	assert.Equal(t, "cs_secret_xyz", session.ClientSecret)
	assert.Equal(t, payment.SessionUnpaid, session.PaymentStatus)
	assert.Equal(t, orderID, session.OrderID)
}

func TestClient_CreateCheckoutSession_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"parameter_missing","message":"Missing required param"}}`))
	})

	_, err := client.CreateCheckoutSession(context.Background(), payment.CreateSessionParams{})
	assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
}

func TestClient_GetCheckoutSession(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodGet, r.Method)
			assert.Equal(t, "/v1/checkout/sessions/cs_test_a1b2c3", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"id": "cs_test_a1b2c3",
				"status": "complete",
				"payment_status": "paid",
				"customer_details": {"email": "buyer@example.com"},
				"metadata": {"orderId": "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"}
			}`))
		})

		session, err := client.GetCheckoutSession(context.Background(), "cs_test_a1b2c3")
		require.NoError(t, err)
		assert.Equal(t, payment.SessionPaid, session.PaymentStatus)
		assert.Equal(t, "buyer@example.com", session.CustomerEmail)
		assert.Equal(t, "complete", session.Status)
	})

	t.Run("not_found", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout session"}}`))
		})

		_, err := client.GetCheckoutSession(context.Background(), "cs_missing")
		assert.ErrorIs(t, err, payment.ErrSessionNotFound)
	})

	t.Run("server_error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})

		_, err := client.GetCheckoutSession(context.Background(), "cs_test_a1b2c3")
		assert.ErrorIs(t, err, payment.ErrGatewayUnavailable)
	})
}
