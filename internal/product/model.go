package product

import (
	"time"

	"github.com/gofrs/uuid"
)

// Product is the stock-relevant projection of a catalog product: the fields
// the order flow needs to validate quantities and build checkout line items.
type Product struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	Price         float64   `json:"price" db:"price"`
	StripePriceID string    `json:"stripe_price_id" db:"stripe_price_id"`
	Stock         int       `json:"stock" db:"stock"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
