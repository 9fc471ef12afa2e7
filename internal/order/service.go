package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrey-lukin/storefront-backend/internal/product"
)

var ErrValidation = errors.New("invalid order input")

type ItemInput struct {
	ProductID uuid.UUID
	Quantity  int
}

type CreateOrderInput struct {
	UserID  uuid.UUID
	Items   []ItemInput
	Address Address
}

type Service interface {
	// CreateOrder validates every item against one batch read of product
	// stock and persists the order as PENDING/PENDING. Stock is not touched
	// here; it is decremented when payment is confirmed.
	CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error)
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
}

type service struct {
	orders   Repository
	products product.Repository
}

func NewService(orders Repository, products product.Repository) Service {
	return &service{
		orders:   orders,
		products: products,
	}
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*Order, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(input.Items) == 0 {
		log.Warn().Stringer("user_id", input.UserID).Msg("service: attempt to create order with no items")
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}

	productIDs := make([]uuid.UUID, 0, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, fmt.Errorf("%w: product id in order item cannot be nil", ErrValidation)
		}
		if item.Quantity < 1 {
			return nil, fmt.Errorf("%w: quantity for product %s must be at least 1", ErrValidation, item.ProductID)
		}
		productIDs = append(productIDs, item.ProductID)
	}

	// One batch read gives a single consistent snapshot to validate every
	// item against, instead of a per-item resolve-then-check.
	products, err := s.products.FindManyByID(ctx, productIDs)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to load products for order validation")
		return nil, fmt.Errorf("service: failed to load products: %w", err)
	}

	for _, item := range input.Items {
		p, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %s: %w", item.ProductID, product.ErrProductNotFound)
		}
		if p.Stock < item.Quantity {
			return nil, fmt.Errorf("product %s: %w: have %d, want %d",
				p.ID, product.ErrInsufficientStock, p.Stock, item.Quantity)
		}
	}

	o := &Order{
		UserID:        input.UserID,
		OrderStatus:   StatusPending,
		PaymentStatus: PaymentPending,
		Items:         make([]OrderItem, 0, len(input.Items)),
	}
	for _, item := range input.Items {
		o.Items = append(o.Items, OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	addr := input.Address
	if err := s.orders.Create(ctx, o, &addr); err != nil {
		log.Error().Err(err).Stringer("user_id", input.UserID).Msg("service: failed to create order in repository")
		return nil, fmt.Errorf("service: failed to create order: %w", err)
	}

	log.Info().Stringer("order_id", o.ID).Stringer("user_id", o.UserID).Int("items", len(o.Items)).Msg("service: order created")
	return o, nil
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("service: failed to fetch order by id")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}
	return o, nil
}

func (s *service) GetOrdersByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	orders, err := s.orders.GetByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return orders, nil
}
