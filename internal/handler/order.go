package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/andrey-lukin/storefront-backend/internal/order"
	"github.com/andrey-lukin/storefront-backend/internal/product"
)

type OrderItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type ShippingAddressRequest struct {
	Line1   string `json:"line_1" validate:"required"`
	Line2   string `json:"line_2"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	ZipCode string `json:"zip_code" validate:"required"`
	Phone   string `json:"phone" validate:"required"`
}

type CreateOrderRequest struct {
	UserID          string                 `json:"user_id" validate:"required,uuid"`
	Items           []OrderItemRequest     `json:"items" validate:"required,min=1,dive"`
	ShippingAddress ShippingAddressRequest `json:"shipping_address" validate:"required"`
}

type OrderHandler struct {
	svc      order.Service
	validate *validator.Validate
}

func NewOrderHandler(svc order.Service) *OrderHandler {
	return &OrderHandler{
		svc:      svc,
		validate: validator.New(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Get("/orders/user/{userId}", h.handleGetUserOrders)
}

func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateOrderRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(&requestPayload); err != nil {
		log.Error().Err(err).Msg("Failed to decode create order request")
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
			log.Error().Err(err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return
	}

	userID, err := uuid.FromString(requestPayload.UserID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	input := order.CreateOrderInput{
		UserID: userID,
		Address: order.Address{
			Line1:   requestPayload.ShippingAddress.Line1,
			Line2:   requestPayload.ShippingAddress.Line2,
			City:    requestPayload.ShippingAddress.City,
			State:   requestPayload.ShippingAddress.State,
			ZipCode: requestPayload.ShippingAddress.ZipCode,
			Phone:   requestPayload.ShippingAddress.Phone,
		},
	}
	for _, item := range requestPayload.Items {
		productID, err := uuid.FromString(item.ProductID)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid product id %q", item.ProductID))
			return
		}
		input.Items = append(input.Items, order.ItemInput{
			ProductID: productID,
			Quantity:  item.Quantity,
		})
	}

	createdOrder, err := h.svc.CreateOrder(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create order via service")

		statusCode := mapErrorToStatusCode(err)

		var clientMessage string
		switch {
		case errors.Is(err, product.ErrProductNotFound):
			clientMessage = "One or more products do not exist"
		case errors.Is(err, product.ErrInsufficientStock):
			clientMessage = "Insufficient stock for one or more items"
		case errors.Is(err, order.ErrValidation):
			clientMessage = err.Error()
		default:
			clientMessage = "Failed to create order"
		}

		respondWithError(w, statusCode, clientMessage)
		return
	}

	respondWithJSON(w, http.StatusCreated, createdOrder)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	o, err := h.svc.GetOrderByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Error().Err(err).Stringer("order_id", id).Msg("Failed to get order by id")
		respondWithError(w, http.StatusInternalServerError, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) handleGetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.FromString(chi.URLParam(r, "userId"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	orders, err := h.svc.GetOrdersByUserID(r.Context(), userID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", userID).Msg("Failed to get user orders")
		respondWithError(w, http.StatusInternalServerError, "Failed to get orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}
