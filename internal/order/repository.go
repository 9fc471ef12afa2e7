package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/andrey-lukin/storefront-backend/internal/product"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	// ErrAlreadyConfirmed means payment effects were applied by an earlier
	// delivery of the same completion event. Callers treat it as success.
	ErrAlreadyConfirmed  = errors.New("order already confirmed")
	ErrInvalidOrderState = errors.New("order is not in a confirmable state")
)

type Repository interface {
	Create(ctx context.Context, o *Order, addr *Address) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error)
	// ConfirmPaid applies the payment effects of sessionID to the order as a
	// single transaction: every line item's stock is re-checked and
	// decremented, the order moves to CONFIRMED/PAID, and the session id is
	// recorded in the fulfillment ledger. Either all of that is visible after
	// the call or none of it.
	ConfirmPaid(ctx context.Context, orderID uuid.UUID, sessionID string) error
}

type postgresRepository struct {
	db       *pgxpool.Pool
	products product.Repository
}

func NewRepository(db *pgxpool.Pool, products product.Repository) Repository {
	return &postgresRepository{db: db, products: products}
}

// finishTx rolls back on error or panic and commits otherwise. Meant to be
// deferred with a named error return.
func finishTx(ctx context.Context, tx pgx.Tx, err *error) {
	if p := recover(); p != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Error().Err(rbErr).Msg("repository: failed to rollback transaction after panic")
		}
		panic(p)
	}
	if *err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).Msg("repository: failed to rollback transaction")
		}
		return
	}
	if commitErr := tx.Commit(ctx); commitErr != nil {
		*err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
	}
}

func (r *postgresRepository) Create(ctx context.Context, o *Order, addr *Address) (err error) {
	if o.ID == uuid.Nil {
		genID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order ID: %w", genErr)
		}
		o.ID = genID
	}

	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer finishTx(ctx, tx, &err)

	now := time.Now().UTC()

	addrID, genErr := uuid.NewV4()
	if genErr != nil {
		return fmt.Errorf("repository: failed to generate address ID: %w", genErr)
	}
	addr.ID = addrID
	addr.UserID = o.UserID
	addr.CreatedAt = now

	queryAddress := `
		INSERT INTO addresses (id, user_id, line_1, line_2, city, state, zip_code, phone, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = tx.Exec(ctx, queryAddress,
		addr.ID,
		addr.UserID,
		addr.Line1,
		addr.Line2,
		addr.City,
		addr.State,
		addr.ZipCode,
		addr.Phone,
		addr.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert address: %w", err)
	}

	o.AddressID = addr.ID
	o.CreatedAt = now
	o.UpdatedAt = now

	queryOrder := `
		INSERT INTO orders (id, user_id, address_id, order_status, payment_status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = tx.Exec(ctx, queryOrder,
		o.ID,
		o.UserID,
		o.AddressID,
		string(o.OrderStatus),
		string(o.PaymentStatus),
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order: %w", err)
	}

	queryItem := `
		INSERT INTO order_items (id, order_id, product_id, quantity, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for i := range o.Items {
		item := &o.Items[i]

		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item ID: %w", genErr)
		}
		item.ID = itemID
		item.OrderID = o.ID
		item.CreatedAt = now

		_, err = tx.Exec(ctx, queryItem,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.Quantity,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	queryOrder := `
		SELECT id, user_id, address_id, order_status, payment_status, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var o Order
	err := r.db.QueryRow(ctx, queryOrder, id).Scan(
		&o.ID,
		&o.UserID,
		&o.AddressID,
		&o.OrderStatus,
		&o.PaymentStatus,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order by id %s: %w", id, err)
	}

	items, err := r.loadItems(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Items = items

	return &o, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, orderID uuid.UUID) ([]OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, quantity, created_at
		FROM order_items
		WHERE order_id = $1
	`

	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}

	return items, nil
}

func (r *postgresRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	queryOrders := `
		SELECT id, user_id, address_id, order_status, payment_status, created_at, updated_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	orderRows, err := r.db.Query(ctx, queryOrders, userID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders for user id %s: %w", userID, err)
	}
	defer orderRows.Close()

	ordersMap := make(map[uuid.UUID]*Order)
	var orderIDs []uuid.UUID

	for orderRows.Next() {
		var o Order
		err := orderRows.Scan(
			&o.ID,
			&o.UserID,
			&o.AddressID,
			&o.OrderStatus,
			&o.PaymentStatus,
			&o.CreatedAt,
			&o.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order for user id %s: %w", userID, err)
		}
		o.Items = make([]OrderItem, 0)
		ordersMap[o.ID] = &o
		orderIDs = append(orderIDs, o.ID)
	}

	if err = orderRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders for user id %s: %w", userID, err)
	}

	if len(orderIDs) == 0 {
		return []Order{}, nil
	}

	queryItems := `
		SELECT id, order_id, product_id, quantity, created_at
		FROM order_items
		WHERE order_id = ANY($1)
	`
	itemRows, err := r.db.Query(ctx, queryItems, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order items for user id %s: %w", userID, err)
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var item OrderItem
		err := itemRows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order item for user id %s: %w", userID, err)
		}
		if o, ok := ordersMap[item.OrderID]; ok {
			o.Items = append(o.Items, item)
		}
	}

	if err = itemRows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order items for user id %s: %w", userID, err)
	}

	orders := make([]Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *ordersMap[id])
	}

	return orders, nil
}

func (r *postgresRepository) ConfirmPaid(ctx context.Context, orderID uuid.UUID, sessionID string) (err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer finishTx(ctx, tx, &err)

	// Lock the order row so concurrent deliveries of the same completion
	// event serialize here and the loser sees the updated statuses.
	var orderStatus OrderStatus
	var paymentStatus PaymentStatus
	err = tx.QueryRow(ctx, `
		SELECT order_status, payment_status
		FROM orders
		WHERE id = $1
		FOR UPDATE
	`, orderID).Scan(&orderStatus, &paymentStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("repository: failed to lock order %s: %w", orderID, err)
	}

	if paymentStatus == PaymentPaid {
		return ErrAlreadyConfirmed
	}
	if orderStatus != StatusPending {
		return fmt.Errorf("%w: order %s is %s", ErrInvalidOrderState, orderID, orderStatus)
	}

	cmdTag, err := tx.Exec(ctx, `
		INSERT INTO fulfillments (session_id, order_id)
		VALUES ($1, $2)
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to record fulfillment for session %s: %w", sessionID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrAlreadyConfirmed
	}

	itemRows, err := tx.Query(ctx, `
		SELECT product_id, quantity
		FROM order_items
		WHERE order_id = $1
	`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to query order items for order id %s: %w", orderID, err)
	}

	type lineItem struct {
		productID uuid.UUID
		quantity  int
	}
	var items []lineItem
	for itemRows.Next() {
		var item lineItem
		if err = itemRows.Scan(&item.productID, &item.quantity); err != nil {
			itemRows.Close()
			return fmt.Errorf("repository: failed to scan order item for order id %s: %w", orderID, err)
		}
		items = append(items, item)
	}
	if err = itemRows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating order items for order id %s: %w", orderID, err)
	}
	itemRows.Close()

	// Any failed decrement aborts the whole transaction, so a partially
	// decremented state is never visible.
	for _, item := range items {
		if err = r.products.DecrementStock(ctx, tx, item.productID, item.quantity); err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE orders
		SET order_status = $1, payment_status = $2, updated_at = now()
		WHERE id = $3
	`, string(StatusConfirmed), string(PaymentPaid), orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to update order %s status: %w", orderID, err)
	}

	log.Info().Stringer("order_id", orderID).Str("session_id", sessionID).Msg("repository: order confirmed and stock decremented")
	return nil
}
