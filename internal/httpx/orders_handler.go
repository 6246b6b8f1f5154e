package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
	"github.com/ariefcatur/go-restaurant-backend/internal/orders"
)

type OrderService interface {
	PlaceOrder(ctx context.Context, in orders.PlaceOrderInput) (*orders.PlaceOrderResult, error)
	MarkPaid(ctx context.Context, orderID, userID string) (*orders.Order, error)
	GetOrder(ctx context.Context, id string, actor auth.Actor) (*orders.Order, error)
	Status(ctx context.Context, id string, actor auth.Actor) (orders.StatusView, error)
	ListMine(ctx context.Context, userID string) ([]orders.Order, error)
	ListAll(ctx context.Context) ([]orders.Order, error)
	UpdateStatus(ctx context.Context, id string, to orders.Status, actor auth.Actor) (*orders.Order, error)
}

type OrdersHandler struct {
	Svc OrderService
	Log zerolog.Logger
}

type placeOrderReq struct {
	ShippingAddress  orders.ShippingAddress `json:"shipping_address" validate:"required"`
	ShippingMethodID string                 `json:"shipping_method_id" validate:"required,uuid"`
	PaymentMethod    string                 `json:"payment_method" validate:"required,oneof=cod card"`
}

// paymentResp is returned instead of the order when the client must finish
// payment with the gateway.
type paymentResp struct {
	OrderID     string `json:"order_id"`
	Total       string `json:"total"`
	Reference   string `json:"payment_reference"`
	ClientToken string `json:"client_token"`
}

type statusReq struct {
	Status string `json:"status" validate:"required"`
}

type orderSummary struct {
	ID            string               `json:"id"`
	OrderStatus   orders.Status        `json:"order_status"`
	PaymentStatus orders.PaymentStatus `json:"payment_status"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Get("/orders", h.listMine)
	r.With(auth.RequireAdmin).Get("/orders/all", h.listAll)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getStatus)
	r.Patch("/orders/{id}/paid", h.markPaid)
	r.With(auth.RequireAdmin).Patch("/orders/{id}/status", h.updateStatus)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	a, _ := auth.ActorFrom(ctx)
	res, err := h.Svc.PlaceOrder(ctx, orders.PlaceOrderInput{
		UserID:           a.ID,
		ShippingAddress:  req.ShippingAddress,
		ShippingMethodID: req.ShippingMethodID,
		PaymentMethod:    orders.PaymentMethod(req.PaymentMethod),
		IdempotencyKey:   r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	if res.Payment != nil {
		writeJSON(w, code, paymentResp{
			OrderID:     res.Order.ID,
			Total:       res.Order.Total.StringFixed(2),
			Reference:   res.Payment.Reference,
			ClientToken: res.Payment.ClientToken,
		})
		return
	}
	writeJSON(w, code, res.Order)
}

func (h *OrdersHandler) listMine(w http.ResponseWriter, r *http.Request) {
	a, _ := auth.ActorFrom(r.Context())
	list, err := h.Svc.ListMine(r.Context(), a.ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) listAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ListAll(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	a, _ := auth.ActorFrom(r.Context())
	o, err := h.Svc.GetOrder(r.Context(), chi.URLParam(r, "id"), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	a, _ := auth.ActorFrom(ctx)
	v, err := h.Svc.Status(ctx, chi.URLParam(r, "id"), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) markPaid(w http.ResponseWriter, r *http.Request) {
	a, _ := auth.ActorFrom(r.Context())
	o, err := h.Svc.MarkPaid(r.Context(), chi.URLParam(r, "id"), a.ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	a, _ := auth.ActorFrom(r.Context())
	o, err := h.Svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), orders.Status(req.Status), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, orderSummary{
		ID:            o.ID,
		OrderStatus:   o.OrderStatus,
		PaymentStatus: o.PaymentStatus,
		UpdatedAt:     o.UpdatedAt,
	})
}
