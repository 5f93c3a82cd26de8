package main

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jeffsasaki/robokassa-order-processor/logging"
	"github.com/jeffsasaki/robokassa-order-processor/models"
	"github.com/jeffsasaki/robokassa-order-processor/orders"
	"github.com/jeffsasaki/robokassa-order-processor/robokassa"
)

// defaultDescription is used when the create-order form omits the field.
const defaultDescription = "Order"

// Handler serves the shop's order and payment routes.
type Handler struct {
	orders *orders.Service
}

func NewHandler(svc *orders.Service) *Handler {
	return &Handler{orders: svc}
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/orders", h.ListOrders)
	r.POST("/create-order", h.CreateOrder)
	r.POST("/create-payment", h.CreatePayment)
	r.GET("/payment/success", h.PaymentSuccess)
	r.GET("/payment/fail", h.PaymentFail)
	r.POST("/payment/result", h.PaymentResult)
}

// ListOrders handles GET /orders
func (h *Handler) ListOrders(c *gin.Context) {
	list, err := h.orders.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []*models.Order{}
	}
	c.JSON(http.StatusOK, list)
}

// CreateOrder handles POST /create-order
func (h *Handler) CreateOrder(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Invalid form body"})
		return
	}
	form := c.Request.PostForm

	amount := form.Get("amount")
	if amount == "" {
		amount = "0"
	}
	description := defaultDescription
	if _, ok := form["description"]; ok {
		description = form.Get("description")
	}

	order, err := h.orders.Create(c.Request.Context(), orders.CreateRequest{
		ID:          form.Get("order_id"),
		Amount:      amount,
		Description: description,
		ExtraParams: robokassa.ExtraParamsFromValues(form),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// CreatePayment handles POST /create-payment and redirects to the gateway.
func (h *Handler) CreatePayment(c *gin.Context) {
	orderID := strings.TrimSpace(c.PostForm("order_id"))
	if orderID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "order_id required"})
		return
	}

	paymentURL, _, err := h.orders.RequestPayment(c.Request.Context(), orderID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Redirect(http.StatusFound, paymentURL)
}

// PaymentSuccess handles GET /payment/success. It is display only.
func (h *Handler) PaymentSuccess(c *gin.Context) {
	invID := c.Query("InvId")
	order := h.orders.Lookup(c.Request.Context(), invID)
	c.JSON(http.StatusOK, gin.H{
		"order_id":     invID,
		"payment_data": order,
	})
}

// PaymentFail handles GET /payment/fail.
func (h *Handler) PaymentFail(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"order_id":      c.Query("InvId"),
		"error_message": "Payment cancelled",
	})
}

// PaymentResult handles the gateway's server-to-server POST /payment/result.
// The body is plain text: "OK<InvId>" on success.
func (h *Handler) PaymentResult(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "Invalid signature")
		return
	}
	notice := robokassa.ParseResultNotice(c.Request.PostForm)

	if _, err := h.orders.Confirm(c.Request.Context(), notice); err != nil {
		if errors.Is(err, orders.ErrSignatureMismatch) {
			c.String(http.StatusBadRequest, "Invalid signature")
			return
		}
		logging.L(c.Request.Context()).Error("confirm payment failed", "order_id", notice.InvID, "error", err)
		c.String(http.StatusInternalServerError, "Internal error")
		return
	}
	c.String(http.StatusOK, notice.Ack())
}

func writeError(c *gin.Context, err error) {
	var ve *orders.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": ve.Error()})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Order not found"})
	case errors.Is(err, orders.ErrAlreadyPaid):
		c.JSON(http.StatusConflict, gin.H{"error": "already_paid", "message": "Order is already paid"})
	case errors.Is(err, orders.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "already_exists", "message": "Order already exists"})
	default:
		logging.L(c.Request.Context()).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
