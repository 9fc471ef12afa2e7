// Package fulfillment holds the order fulfillment coordinator: the single
// place that applies the business effects of a confirmed payment.
package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/andrey-lukin/storefront-backend/internal/order"
	"github.com/andrey-lukin/storefront-backend/internal/payment"
	"github.com/andrey-lukin/storefront-backend/internal/product"
)

// ErrMissingOrderRef means the checkout session carries no usable orderId
// metadata, so there is no order to correlate the payment with.
var ErrMissingOrderRef = errors.New("checkout session has no order reference")

// SessionStatus is what the client-facing status poll reports back.
type SessionStatus struct {
	OrderID            uuid.UUID           `json:"order_id"`
	Status             string              `json:"status"`
	CustomerEmail      string              `json:"customer_email,omitempty"`
	OrderStatus        order.OrderStatus   `json:"order_status"`
	OrderPaymentStatus order.PaymentStatus `json:"payment_status"`
}

// Coordinator funnels every payment-completion signal, from the webhook and
// from status polls alike, through one idempotent confirmation path.
type Coordinator struct {
	orders    order.Repository
	products  product.Repository
	gateway   payment.Gateway
	returnURL string
	tracer    trace.Tracer
	fulfilled metric.Int64Counter
}

func NewCoordinator(orders order.Repository, products product.Repository, gateway payment.Gateway, frontendURL string) *Coordinator {
	fulfilled, err := otel.Meter("fulfillment").Int64Counter("orders_fulfilled_total",
		metric.WithDescription("Orders confirmed and stock-decremented after payment"))
	if err != nil {
		log.Error().Err(err).Msg("fulfillment: failed to create fulfilled counter")
	}

	return &Coordinator{
		orders:    orders,
		products:  products,
		gateway:   gateway,
		returnURL: frontendURL + "/shop/complete?session_id={CHECKOUT_SESSION_ID}",
		tracer:    otel.Tracer("fulfillment"),
		fulfilled: fulfilled,
	}
}

// ConfirmPayment applies the effects of a payment-completion signal for the
// given checkout session exactly once. Redelivered events and poll/webhook
// races resolve to a no-op success.
func (c *Coordinator) ConfirmPayment(ctx context.Context, sessionID string) error {
	ctx, span := c.tracer.Start(ctx, "fulfillment.confirm_payment")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	session, err := c.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	return c.confirm(ctx, span, session)
}

func (c *Coordinator) confirm(ctx context.Context, span trace.Span, session *payment.CheckoutSession) error {
	if session.OrderID == uuid.Nil {
		return fmt.Errorf("session %s: %w", session.ID, ErrMissingOrderRef)
	}
	span.SetAttributes(attribute.String("order_id", session.OrderID.String()))

	ord, err := c.orders.GetByID(ctx, session.OrderID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	// Idempotent short-circuit: an already-paid order means a previous
	// delivery of this event did the work.
	if ord.Confirmed() {
		log.Debug().Stringer("order_id", ord.ID).Str("session_id", session.ID).Msg("fulfillment: order already confirmed, nothing to do")
		return nil
	}

	if session.PaymentStatus != payment.SessionPaid {
		// Not paid yet. Leave all state untouched and wait for a later event.
		log.Debug().Stringer("order_id", ord.ID).Str("session_id", session.ID).
			Str("session_payment_status", string(session.PaymentStatus)).
			Msg("fulfillment: session not paid, deferring")
		return nil
	}

	err = c.orders.ConfirmPaid(ctx, ord.ID, session.ID)
	if errors.Is(err, order.ErrAlreadyConfirmed) {
		// Lost a race against a concurrent delivery; the effects are applied.
		return nil
	}
	if err != nil {
		span.RecordError(err)
		log.Error().Err(err).Stringer("order_id", ord.ID).Str("session_id", session.ID).Msg("fulfillment: failed to confirm order")
		return err
	}

	if c.fulfilled != nil {
		c.fulfilled.Add(ctx, 1)
	}
	log.Info().Stringer("order_id", ord.ID).Str("session_id", session.ID).Msg("fulfillment: order fulfilled")
	return nil
}

// CreateCheckoutSession starts a payment attempt for a pending order and
// returns the gateway client secret for the embedded checkout UI. No order or
// stock state changes here.
func (c *Coordinator) CreateCheckoutSession(ctx context.Context, orderID uuid.UUID) (string, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.create_checkout_session")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID.String()))

	ord, err := c.orders.GetByID(ctx, orderID)
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	if len(ord.Items) == 0 {
		return "", fmt.Errorf("%w: order %s has no items", order.ErrInvalidOrderState, ord.ID)
	}
	if ord.OrderStatus != order.StatusPending || ord.PaymentStatus != order.PaymentPending {
		return "", fmt.Errorf("%w: order %s is %s/%s", order.ErrInvalidOrderState, ord.ID, ord.OrderStatus, ord.PaymentStatus)
	}

	productIDs := make([]uuid.UUID, 0, len(ord.Items))
	for _, item := range ord.Items {
		productIDs = append(productIDs, item.ProductID)
	}
	products, err := c.products.FindManyByID(ctx, productIDs)
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("fulfillment: failed to load products for order %s: %w", ord.ID, err)
	}

	lineItems := make([]payment.LineItem, 0, len(ord.Items))
	for _, item := range ord.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return "", fmt.Errorf("product %s: %w", item.ProductID, product.ErrProductNotFound)
		}
		lineItems = append(lineItems, payment.LineItem{
			PriceID:  p.StripePriceID,
			Quantity: item.Quantity,
		})
	}

	session, err := c.gateway.CreateCheckoutSession(ctx, payment.CreateSessionParams{
		OrderID:   ord.ID,
		LineItems: lineItems,
		ReturnURL: c.returnURL,
	})
	if err != nil {
		span.RecordError(err)
		return "", err
	}

	log.Info().Stringer("order_id", ord.ID).Str("session_id", session.ID).Msg("fulfillment: checkout session created")
	return session.ClientSecret, nil
}

// GetSessionStatus reports a checkout session's state to the client. A paid
// session triggers the same confirmation path as the webhook, so a client
// polling ahead of a delayed webhook still gets its order fulfilled once.
func (c *Coordinator) GetSessionStatus(ctx context.Context, sessionID string) (*SessionStatus, error) {
	ctx, span := c.tracer.Start(ctx, "fulfillment.session_status")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	session, err := c.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if session.PaymentStatus == payment.SessionPaid {
		if err := c.confirm(ctx, span, session); err != nil {
			return nil, err
		}
	}

	if session.OrderID == uuid.Nil {
		return nil, fmt.Errorf("session %s: %w", session.ID, ErrMissingOrderRef)
	}

	ord, err := c.orders.GetByID(ctx, session.OrderID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &SessionStatus{
		OrderID:            ord.ID,
		Status:             session.Status,
		CustomerEmail:      session.CustomerEmail,
		OrderStatus:        ord.OrderStatus,
		OrderPaymentStatus: ord.PaymentStatus,
	}, nil
}

// HandleEvent consumes a verified webhook event. Only
// checkout.session.completed is acted on; everything else is acknowledged and
// dropped.
func (c *Coordinator) HandleEvent(ctx context.Context, event *payment.Event) error {
	if event.Type != payment.EventCheckoutSessionCompleted || event.Completed == nil {
		log.Debug().Str("event_type", event.Type).Msg("fulfillment: ignoring webhook event")
		return nil
	}
	return c.ConfirmPayment(ctx, event.Completed.SessionID)
}
