// Package payment defines the payment-processor capability the rest of the
// service depends on. The concrete Stripe client lives in the stripe
// subpackage; the fulfillment flow only ever sees this interface, so tests
// substitute a double.
package payment

import (
	"context"
	"errors"

	"github.com/gofrs/uuid"
)

var (
	ErrInvalidSignature   = errors.New("invalid webhook signature")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrSessionNotFound    = errors.New("checkout session not found")
)

type SessionPaymentStatus string

const (
	SessionPaid   SessionPaymentStatus = "paid"
	SessionUnpaid SessionPaymentStatus = "unpaid"
)

// CheckoutSession is the processor-side payment attempt, correlated to an
// order through session metadata.
type CheckoutSession struct {
	ID            string
	Status        string
	PaymentStatus SessionPaymentStatus
	ClientSecret  string
	CustomerEmail string
	// OrderID is parsed from the session's orderId metadata; uuid.Nil when
	// the session carries no usable correlation key.
	OrderID uuid.UUID
}

type LineItem struct {
	PriceID  string
	Quantity int
}

type CreateSessionParams struct {
	OrderID   uuid.UUID
	LineItems []LineItem
	ReturnURL string
}

type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params CreateSessionParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error)
}

// EventCheckoutSessionCompleted is the one webhook event kind the fulfillment
// flow acts on.
const EventCheckoutSessionCompleted = "checkout.session.completed"

// Event is the narrowed form of a verified webhook payload. Completed is
// non-nil only for checkout.session.completed; every other kind is carried as
// a bare Type so handlers can acknowledge and ignore it.
type Event struct {
	ID        string
	Type      string
	Completed *SessionCompleted
}

type SessionCompleted struct {
	SessionID     string
	OrderID       uuid.UUID
	PaymentStatus SessionPaymentStatus
}
