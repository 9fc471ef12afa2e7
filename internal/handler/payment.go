package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrey-lukin/storefront-backend/internal/fulfillment"
	"github.com/andrey-lukin/storefront-backend/internal/payment"
)

// maxWebhookBody caps how much of a webhook delivery is read before
// verification.
const maxWebhookBody = 64 * 1024

// WebhookVerifier authenticates a raw webhook delivery and narrows it to a
// typed event. Implemented by the stripe client.
type WebhookVerifier interface {
	ConstructEvent(body []byte, sigHeader string) (*payment.Event, error)
}

// FulfillmentService is the coordinator surface the payment routes need.
type FulfillmentService interface {
	HandleEvent(ctx context.Context, event *payment.Event) error
	CreateCheckoutSession(ctx context.Context, orderID uuid.UUID) (string, error)
	GetSessionStatus(ctx context.Context, sessionID string) (*fulfillment.SessionStatus, error)
}

type CreateCheckoutSessionRequest struct {
	OrderID string `json:"order_id" validate:"required,uuid"`
}

type PaymentHandler struct {
	coordinator FulfillmentService
	verifier    WebhookVerifier
	validate    *validator.Validate
}

func NewPaymentHandler(coordinator FulfillmentService, verifier WebhookVerifier) *PaymentHandler {
	return &PaymentHandler{
		coordinator: coordinator,
		verifier:    verifier,
		validate:    validator.New(),
	}
}

func (h *PaymentHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/webhook", h.handleWebhook)
	router.Post("/payments/create-checkout-session", h.handleCreateCheckoutSession)
	router.Get("/payments/session-status", h.handleSessionStatus)
}

// handleWebhook verifies the delivery's signature over the raw body before
// anything else happens; an unverified payload is never parsed or acted on.
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	event, err := h.verifier.ConstructEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			log.Warn().Err(err).Msg("Webhook signature verification failed")
			respondWithError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
		log.Error().Err(err).Msg("Failed to parse webhook event")
		respondWithError(w, http.StatusBadRequest, "Invalid event payload")
		return
	}

	if err := h.coordinator.HandleEvent(r.Context(), event); err != nil {
		log.Error().Err(err).Str("event_type", event.Type).Msg("Webhook handling failed")
		// No internal detail leaks to the gateway; it retries on 5xx.
		respondWithError(w, mapErrorToStatusCode(err), "Failed to process event")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *PaymentHandler) handleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateCheckoutSessionRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&requestPayload); err != nil {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	orderID, err := uuid.FromString(requestPayload.OrderID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	clientSecret, err := h.coordinator.CreateCheckoutSession(r.Context(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to create checkout session")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to create checkout session")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]string{"clientSecret": clientSecret})
}

func (h *PaymentHandler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondWithError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	status, err := h.coordinator.GetSessionStatus(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to get session status")
		respondWithError(w, mapErrorToStatusCode(err), "Failed to get session status")
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}
