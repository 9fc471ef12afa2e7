package order_test

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrey-lukin/storefront-backend/internal/order"
	"github.com/andrey-lukin/storefront-backend/internal/product"
)

// Integration tests against a real database with the migrations applied.
// Skipped unless TEST_DB_HOST is set.

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	host := os.Getenv("TEST_DB_HOST")
	if host != "" {
		connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host,
			envOr("TEST_DB_PORT", "5432"),
			envOr("TEST_DB_USER", "postgres"),
			envOr("TEST_DB_PASSWORD", "postgres"),
			envOr("TEST_DB_NAME", "storefront_test"),
		)

		var err error
		testDB, err = pgxpool.New(context.Background(), connStr)
		if err != nil {
			log.Fatalf("Failed to connect to test database: %v", err)
		}
	}

	exitCode := m.Run()

	if testDB != nil {
		testDB.Close()
	}

	os.Exit(exitCode)
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func setupRepos(t *testing.T) (order.Repository, product.Repository) {
	t.Helper()
	if testDB == nil {
		t.Skip("TEST_DB_HOST not set, skipping database integration test")
	}

	truncate := func() {
		_, err := testDB.Exec(context.Background(),
			"TRUNCATE TABLE fulfillments, order_items, orders, addresses, products")
		if err != nil {
			t.Fatalf("Failed to truncate tables: %v", err)
		}
	}
	truncate()
	t.Cleanup(truncate)

	productRepo := product.NewRepository(testDB)
	return order.NewRepository(testDB, productRepo), productRepo
}

func insertProduct(t *testing.T, stock int) uuid.UUID {
	t.Helper()
	id := uuid.Must(uuid.NewV4())
	_, err := testDB.Exec(context.Background(), `
		INSERT INTO products (id, name, price, stripe_price_id, stock)
		VALUES ($1, 'Test product', 19.99, 'price_test123', $2)
	`, id, stock)
	require.NoError(t, err)
	return id
}

func productStock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var stock int
	err := testDB.QueryRow(context.Background(), "SELECT stock FROM products WHERE id = $1", id).Scan(&stock)
	require.NoError(t, err)
	return stock
}

func createPendingOrder(t *testing.T, repo order.Repository, items []order.OrderItem) *order.Order {
	t.Helper()
	o := &order.Order{
		UserID:        uuid.Must(uuid.NewV4()),
		OrderStatus:   order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Items:         items,
	}
	addr := &order.Address{
		Line1:   "10 Main St",
		City:    "Springfield",
		State:   "IL",
		ZipCode: "62701",
		Phone:   "+15550100",
	}
	require.NoError(t, repo.Create(context.Background(), o, addr))
	return o
}

func TestRepository_CreateAndGet(t *testing.T) {
	repo, _ := setupRepos(t)
	productID := insertProduct(t, 5)

	created := createPendingOrder(t, repo, []order.OrderItem{{ProductID: productID, Quantity: 2}})

	got, err := repo.GetByID(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, order.StatusPending, got.OrderStatus)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)
	require.Len(t, got.Items, 1)
	assert.Equal(t, productID, got.Items[0].ProductID)
	assert.Equal(t, 2, got.Items[0].Quantity)

	// Creation never touches stock.
	assert.Equal(t, 5, productStock(t, productID))
}

func TestRepository_GetByID_NotFound(t *testing.T) {
	repo, _ := setupRepos(t)

	_, err := repo.GetByID(context.Background(), uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestRepository_ConfirmPaid(t *testing.T) {
	repo, _ := setupRepos(t)
	productID := insertProduct(t, 5)
	o := createPendingOrder(t, repo, []order.OrderItem{{ProductID: productID, Quantity: 2}})

	err := repo.ConfirmPaid(context.Background(), o.ID, "cs_test_a1b2c3")
	require.NoError(t, err)

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.OrderStatus)
	assert.Equal(t, order.PaymentPaid, got.PaymentStatus)
	assert.Equal(t, 3, productStock(t, productID))
}

func TestRepository_ConfirmPaid_Idempotent(t *testing.T) {
	repo, _ := setupRepos(t)
	productID := insertProduct(t, 5)
	o := createPendingOrder(t, repo, []order.OrderItem{{ProductID: productID, Quantity: 2}})

	require.NoError(t, repo.ConfirmPaid(context.Background(), o.ID, "cs_test_a1b2c3"))

	err := repo.ConfirmPaid(context.Background(), o.ID, "cs_test_a1b2c3")
	assert.ErrorIs(t, err, order.ErrAlreadyConfirmed)

	// Redelivery left state exactly as after the first call.
	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusConfirmed, got.OrderStatus)
	assert.Equal(t, 3, productStock(t, productID))
}

func TestRepository_ConfirmPaid_InsufficientStockRollsBack(t *testing.T) {
	repo, _ := setupRepos(t)
	okProduct := insertProduct(t, 5)
	lowProduct := insertProduct(t, 1)
	o := createPendingOrder(t, repo, []order.OrderItem{
		{ProductID: okProduct, Quantity: 2},
		{ProductID: lowProduct, Quantity: 10},
	})

	err := repo.ConfirmPaid(context.Background(), o.ID, "cs_test_low")
	assert.ErrorIs(t, err, product.ErrInsufficientStock)

	// All-or-nothing: neither product moved, order still pending, and the
	// failed attempt left no fulfillment record behind.
	assert.Equal(t, 5, productStock(t, okProduct))
	assert.Equal(t, 1, productStock(t, lowProduct))

	got, err := repo.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, got.OrderStatus)
	assert.Equal(t, order.PaymentPending, got.PaymentStatus)

	var fulfillments int
	require.NoError(t, testDB.QueryRow(context.Background(),
		"SELECT COUNT(*) FROM fulfillments WHERE order_id = $1", o.ID).Scan(&fulfillments))
	assert.Zero(t, fulfillments)
}

func TestRepository_ConfirmPaid_OrderNotFound(t *testing.T) {
	repo, _ := setupRepos(t)

	err := repo.ConfirmPaid(context.Background(), uuid.Must(uuid.NewV4()), "cs_test_missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestRepository_ConfirmPaid_ConcurrentDeliveries(t *testing.T) {
	repo, _ := setupRepos(t)
	productID := insertProduct(t, 5)
	o := createPendingOrder(t, repo, []order.OrderItem{{ProductID: productID, Quantity: 2}})

	const deliveries = 8
	errs := make([]error, deliveries)

	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.ConfirmPaid(context.Background(), o.ID, "cs_test_race")
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		default:
			assert.ErrorIs(t, err, order.ErrAlreadyConfirmed)
		}
	}

	assert.Equal(t, 1, succeeded, "exactly one delivery performs the fulfillment")
	assert.Equal(t, 3, productStock(t, productID), "stock decremented exactly once")
}
