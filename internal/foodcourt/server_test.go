package foodcourt

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuseats/orderpay/internal/orders"
)

func postJSON(t *testing.T, handler http.Handler, path, idempotencyKey string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set(orders.HeaderIdempotencyKey, idempotencyKey)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func validRequest() orders.SubmitRequest {
	return orders.SubmitRequest{
		UserID:       "user-1",
		RestaurantID: "campus-grill",
		Items: []orders.Item{
			{ProductID: "noodles", Quantity: 1, Price: decimal.RequireFromString("6.00")},
		},
		Type: orders.TypeDineIn,
	}
}

func TestCreateValidatesInput(t *testing.T) {
	router := NewServer().Router()

	rec := postJSON(t, router, "/orders", "key-1", orders.SubmitRequest{UserID: "user-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/orders", "", validRequest())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateDeduplicatesByKey(t *testing.T) {
	router := NewServer().Router()

	first := postJSON(t, router, "/orders", "key-1", validRequest())
	require.Equal(t, http.StatusCreated, first.Code)
	second := postJSON(t, router, "/orders", "key-1", validRequest())
	require.Equal(t, http.StatusOK, second.Code)

	var a, b orders.Order
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.Equal(t, a.ID, b.ID)
}

func TestStatusTransitions(t *testing.T) {
	router := NewServer().Router()

	created := postJSON(t, router, "/orders", "key-1", validRequest())
	require.Equal(t, http.StatusCreated, created.Code)
	var order orders.Order
	require.NoError(t, json.Unmarshal(created.Body.Bytes(), &order))

	advance := func(status orders.Status) int {
		rec := postJSON(t, router, "/orders/"+order.ID+"/status", "",
			map[string]orders.Status{"status": status})
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, advance(orders.StatusPreparing))
	assert.Equal(t, http.StatusOK, advance(orders.StatusReadyForPickup))
	// Cancellation is no longer legal once the order is ready.
	assert.Equal(t, http.StatusConflict, advance(orders.StatusCancelled))
	assert.Equal(t, http.StatusOK, advance(orders.StatusCompleted))
	assert.Equal(t, http.StatusConflict, advance(orders.StatusPending))
}
