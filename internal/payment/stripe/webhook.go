package stripe

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"

	"github.com/andrey-lukin/storefront-backend/internal/payment"
)

// SignatureTolerance bounds how far a webhook's signed timestamp may drift
// from the local clock before the delivery is rejected as a replay.
const SignatureTolerance = 5 * time.Minute

// ConstructEvent verifies the Stripe-Signature header over the raw body and,
// only then, decodes the payload into the narrowed event union. Nothing in
// the body is trusted before the signature check passes.
func (c *Client) ConstructEvent(body []byte, sigHeader string) (*payment.Event, error) {
	if err := VerifySignature(body, sigHeader, c.webhookSecret, time.Now()); err != nil {
		return nil, err
	}
	return ParseEvent(body)
}

// VerifySignature checks a Stripe-Signature header of the form
// "t=<unix>,v1=<hex hmac>[,v1=...]". The signed payload is "<t>.<body>" and
// the MAC is HMAC-SHA256 under the endpoint secret.
func VerifySignature(body []byte, sigHeader, secret string, now time.Time) error {
	var timestamp int64 = -1
	var candidates []string

	for _, pair := range strings.Split(sigHeader, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch parts[0] {
		case "t":
			parsed, err := strconv.ParseInt(parts[1], 10, 64)
			if err != nil {
				return fmt.Errorf("%w: malformed timestamp", payment.ErrInvalidSignature)
			}
			timestamp = parsed
		case "v1":
			candidates = append(candidates, parts[1])
		}
	}

	if timestamp < 0 || len(candidates) == 0 {
		return fmt.Errorf("%w: missing timestamp or v1 signature", payment.ErrInvalidSignature)
	}

	drift := now.Sub(time.Unix(timestamp, 0))
	if drift < 0 {
		drift = -drift
	}
	if drift > SignatureTolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", payment.ErrInvalidSignature)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return nil
		}
	}

	return fmt.Errorf("%w: no matching v1 signature", payment.ErrInvalidSignature)
}

type webhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type webhookSession struct {
	ID            string            `json:"id"`
	PaymentStatus string            `json:"payment_status"`
	Metadata      map[string]string `json:"metadata"`
}

// ParseEvent narrows a verified payload to the event union. Unknown event
// kinds come back with only Type set.
func ParseEvent(body []byte) (*payment.Event, error) {
	var raw webhookEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("stripe: failed to decode webhook event: %w", err)
	}

	event := &payment.Event{
		ID:   raw.ID,
		Type: raw.Type,
	}

	if raw.Type != payment.EventCheckoutSessionCompleted {
		return event, nil
	}

	var session webhookSession
	if err := json.Unmarshal(raw.Data.Object, &session); err != nil {
		return nil, fmt.Errorf("stripe: failed to decode checkout session from event %s: %w", raw.ID, err)
	}

	completed := &payment.SessionCompleted{
		SessionID:     session.ID,
		PaymentStatus: payment.SessionPaymentStatus(session.PaymentStatus),
	}
	if val, ok := session.Metadata["orderId"]; ok {
		if orderID, err := uuid.FromString(val); err == nil {
			completed.OrderID = orderID
		}
	}
	event.Completed = completed

	return event, nil
}
