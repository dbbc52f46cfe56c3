package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/Thiagopc02/site-imperio-sub000/internal/lifecycle"
	"github.com/Thiagopc02/site-imperio-sub000/internal/mercadopago"
	"github.com/Thiagopc02/site-imperio-sub000/internal/orders"
	"github.com/Thiagopc02/site-imperio-sub000/internal/redisx"
)

// Lifecycle is the service surface the handlers call. *lifecycle.Service
// satisfies it.
type Lifecycle interface {
	Create(ctx context.Context, in lifecycle.CreateInput, traceID string) (*orders.Order, error)
	ApplyNotification(ctx context.Context, n mercadopago.Notification, traceID string) error
	SweepExpired(ctx context.Context, now time.Time) (int, error)
	AdminSetStatus(ctx context.Context, orderID string, to orders.Status, reason, traceID string) error
}

// OrderReader covers the read-only repo surface.
type OrderReader interface {
	GetByID(ctx context.Context, id string) (*orders.Order, []orders.Item, error)
	GetStatus(ctx context.Context, id string) (orders.Status, time.Time, error)
}

// AdminChecker is the one authoritative privileged-role check.
type AdminChecker interface {
	IsAdmin(ctx context.Context, token string) (bool, error)
}

type OrdersHandler struct {
	Svc    Lifecycle
	Orders OrderReader
	Admins AdminChecker
	Redis  *redis.Client // optional status cache
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/sweep", h.sweepExpired)
	r.Put("/orders/{id}/status", h.adminSetStatus)
	r.Post("/webhooks/mercadopago", h.webhook)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type CreateOrderReq struct {
	CustomerID    string          `json:"customer_id"`
	DeliveryType  string          `json:"delivery_type"`
	PaymentMethod string          `json:"payment_method"`
	Address       *orders.Address `json:"address,omitempty"`
	Items         []orders.Item   `json:"items"`
}

type CreateOrderResp struct {
	OrderID    string        `json:"order_id"`
	Status     orders.Status `json:"status"`
	TotalCents int           `json:"total_cents"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Svc.Create(ctx, lifecycle.CreateInput{
		CustomerID:    req.CustomerID,
		DeliveryType:  orders.DeliveryType(req.DeliveryType),
		PaymentMethod: orders.PaymentMethod(req.PaymentMethod),
		Address:       req.Address,
		Items:         req.Items,
	}, r.Header.Get("X-Request-Id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		OrderID:    o.ID,
		Status:     o.Status,
		TotalCents: o.TotalCents,
		ExpiresAt:  o.ExpiresAt,
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, items, err := h.Orders.GetByID(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"order": o, "items": items})
}

func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache fast path
	key := fmt.Sprintf(redisx.KeyOrderStatus, id)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(s))
			return
		}
	}

	// 2) DB fallback, re-warm cache
	status, updatedAt, err := h.Orders.GetStatus(ctx, id)
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	body, _ := json.Marshal(map[string]any{"status": status, "updated_at": updatedAt})
	if h.Redis != nil {
		_ = h.Redis.Set(ctx, key, body, redisx.TTLStatusCache).Err()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// webhook acknowledges the provider no matter how reconciliation went; only a
// structurally invalid body earns a 4xx. Anything else answered non-2xx would
// just trigger the provider's retry storm with no one able to act on it.
func (h *OrdersHandler) webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	n, err := mercadopago.ParseWebhook(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	if err := h.Svc.ApplyNotification(ctx, n, r.Header.Get("X-Request-Id")); err != nil {
		log.Printf("[webhook] notification %s/%s not applied: %v", n.EventType, n.PaymentID, err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *OrdersHandler) sweepExpired(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	updated, err := h.Svc.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("[sweep] failed: %v", err)
		writeJSON(w, http.StatusOK, map[string]any{"ok": false, "updated": 0})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "updated": updated})
}

type SetStatusReq struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (h *OrdersHandler) adminSetStatus(w http.ResponseWriter, r *http.Request) {
	token := adminToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing credentials"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	ok, err := h.Admins.IsAdmin(ctx, token)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "not an administrator"})
		return
	}

	var req SetStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	st := orders.Status(req.Status)
	if !st.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}

	id := chi.URLParam(r, "id")
	err = h.Svc.AdminSetStatus(ctx, id, st, req.Reason, r.Header.Get("X-Request-Id"))
	if errors.Is(err, orders.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": st})
}

func adminToken(r *http.Request) string {
	if t := r.Header.Get("X-Admin-Token"); t != "" {
		return t
	}
	auth := r.Header.Get("Authorization")
	return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
}
