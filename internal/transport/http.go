package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andrey-lukin/storefront-backend/internal/handler"
)

func NewRouter(orderHandler *handler.OrderHandler, paymentHandler *handler.PaymentHandler) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Route("/api", func(api chi.Router) {
		orderHandler.RegisterRoutes(api)
		paymentHandler.RegisterRoutes(api)
	})

	return r
}
