// Package foodcourt is the dev stand-in for the remote order backend. It
// implements the wire contract internal/orders speaks against: create
// (deduplicated by idempotency key), fetch, list, and status advancement
// with only legal transitions.
package foodcourt

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/campuseats/orderpay/internal/orders"
)

// Server holds the in-memory order state behind an RWMutex.
type Server struct {
	mu     sync.RWMutex
	orders map[string]*orders.Order
	byKey  map[string]string // idempotency key -> order ID
}

func NewServer() *Server {
	return &Server{
		orders: make(map[string]*orders.Order),
		byKey:  make(map[string]string),
	}
}

// Router builds the HTTP surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/orders", s.createOrder)
	r.Get("/orders/{id}", s.getOrder)
	r.Get("/users/{id}/orders", s.listUserOrders)
	r.Post("/orders/{id}/status", s.updateStatus)
	return r
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var req orders.SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if req.UserID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "user_id and items are required")
		return
	}
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 || !it.Price.IsPositive() {
			writeError(w, http.StatusBadRequest, "invalid_item", "product_id, quantity, and price must be valid")
			return
		}
	}

	key := r.Header.Get(orders.HeaderIdempotencyKey)
	if key == "" {
		writeError(w, http.StatusBadRequest, "idempotency_key_required", "")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// A retried submission with a known key returns the original order
	// unchanged instead of creating a duplicate.
	if id, ok := s.byKey[key]; ok {
		writeJSON(w, http.StatusOK, s.orders[id])
		return
	}

	now := time.Now().UTC()
	order := &orders.Order{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		RestaurantID: req.RestaurantID,
		Items:        req.Items,
		TotalAmount:  orders.Total(req.Items),
		Status:       orders.StatusPending,
		Type:         req.Type,
		ScheduledAt:  req.ScheduledAt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.orders[order.ID] = order
	s.byKey[key] = order.ID

	slog.Info("order created", "order_id", order.ID, "user_id", order.UserID, "idempotency_key", key)
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) getOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	order, ok := s.orders[chi.URLParam(r, "id")]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) listUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")

	s.mu.RLock()
	out := make([]*orders.Order, 0)
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, out)
}

func (s *Server) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status orders.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[chi.URLParam(r, "id")]
	if !ok {
		writeError(w, http.StatusNotFound, "order_not_found", "")
		return
	}
	if !orders.CanTransition(order.Status, req.Status) {
		writeError(w, http.StatusConflict, "illegal_transition",
			string(order.Status)+" -> "+string(req.Status))
		return
	}

	order.Status = req.Status
	order.UpdatedAt = time.Now().UTC()
	writeJSON(w, http.StatusOK, order)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]string{"error": code, "message": msg})
}
