package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"checkout-service/config"
	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(st *memstore.Memory) *gin.Engine {
	gin.SetMode(gin.TestMode)
	cfg := config.CheckoutConfig{ShippingFee: 10, TaxRate: 0.1, CommitRetries: 3}
	checkout := service.NewCheckoutService(st, nil, nil, cfg)
	carts := service.NewCartService(st)
	router := gin.New()
	NewHandler(checkout, carts, st).SetupRoutes(router)
	return router
}

func doRequest(router *gin.Engine, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func seedCheckoutData(t *testing.T, st *memstore.Memory) {
	t.Helper()
	ctx := context.Background()
	st.PutProduct(&models.Product{ID: "p1", SKU: "SKU-p1", Name: "Widget", Price: 10, Stock: 5, Status: models.ProductStatusActive})
	require.NoError(t, st.CreateAddress(ctx, &models.Address{
		ID: "addr-1", UserID: "user-1", FirstName: "Ada", LastName: "Lovelace",
		AddressLine1: "1 Main St", City: "Springfield", ZipCode: "12345", Country: "US",
		CreatedAt: time.Now(),
	}))
}

func TestPlaceOrderRequiresAuth(t *testing.T) {
	router := newTestRouter(memstore.New())
	w := doRequest(router, http.MethodPost, "/api/v1/orders", "", gin.H{"shipping_address_id": "addr-1"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPlaceOrderEmptyCartMapsTo400(t *testing.T) {
	st := memstore.New()
	seedCheckoutData(t, st)
	router := newTestRouter(st)

	w := doRequest(router, http.MethodPost, "/api/v1/orders", "user-1", gin.H{"shipping_address_id": "addr-1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPlaceOrderFlow(t *testing.T) {
	st := memstore.New()
	seedCheckoutData(t, st)
	router := newTestRouter(st)

	w := doRequest(router, http.MethodPost, "/api/v1/cart/items", "user-1",
		gin.H{"product_id": "p1", "quantity": 2})
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/api/v1/orders", "user-1",
		gin.H{"shipping_address_id": "addr-1"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.Order `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.InDelta(t, 20.0, resp.Data.Subtotal, 1e-9)
	assert.InDelta(t, 32.0, resp.Data.Total, 1e-9)
	assert.Equal(t, models.OrderStatusPending, resp.Data.Status)

	// Cancel by a different user is forbidden.
	w = doRequest(router, http.MethodPost, "/api/v1/orders/"+resp.Data.ID+"/cancel", "user-2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	// Owner cancel succeeds.
	w = doRequest(router, http.MethodPost, "/api/v1/orders/"+resp.Data.ID+"/cancel", "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// A second cancel is rejected as not cancellable.
	w = doRequest(router, http.MethodPost, "/api/v1/orders/"+resp.Data.ID+"/cancel", "user-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCancelUnknownOrderMapsTo404(t *testing.T) {
	st := memstore.New()
	router := newTestRouter(st)
	w := doRequest(router, http.MethodPost, "/api/v1/orders/missing/cancel", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInsufficientStockMapsTo400(t *testing.T) {
	st := memstore.New()
	seedCheckoutData(t, st)
	router := newTestRouter(st)

	w := doRequest(router, http.MethodPost, "/api/v1/cart/items", "user-1",
		gin.H{"product_id": "p1", "quantity": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProductMapsNotFoundTo404(t *testing.T) {
	router := newTestRouter(memstore.New())
	w := doRequest(router, http.MethodGet, "/api/v1/products/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWishlistFlow(t *testing.T) {
	st := memstore.New()
	seedCheckoutData(t, st)
	router := newTestRouter(st)

	// Empty wishlist, product not in it yet.
	w := doRequest(router, http.MethodGet, "/api/v1/wishlist/check/p1", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var check struct {
		Data struct {
			InWishlist bool `json:"in_wishlist"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.False(t, check.Data.InWishlist)

	w = doRequest(router, http.MethodPost, "/api/v1/wishlist", "user-1", gin.H{"product_id": "p1"})
	require.Equal(t, http.StatusOK, w.Code)

	// A second add of the same product is rejected.
	w = doRequest(router, http.MethodPost, "/api/v1/wishlist", "user-1", gin.H{"product_id": "p1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The listing carries the populated product.
	w = doRequest(router, http.MethodGet, "/api/v1/wishlist", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []models.WishlistItem `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 1)
	require.NotNil(t, list.Data[0].Product)
	assert.Equal(t, "Widget", list.Data[0].Product.Name)

	w = doRequest(router, http.MethodGet, "/api/v1/wishlist/check/p1", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.True(t, check.Data.InWishlist)

	// Wishlists are per user.
	w = doRequest(router, http.MethodGet, "/api/v1/wishlist/check/p1", "user-2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &check))
	assert.False(t, check.Data.InWishlist)

	w = doRequest(router, http.MethodDelete, "/api/v1/wishlist/p1", "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Removing it again is a 404.
	w = doRequest(router, http.MethodDelete, "/api/v1/wishlist/p1", "user-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAddToWishlistUnknownProductMapsTo404(t *testing.T) {
	router := newTestRouter(memstore.New())
	w := doRequest(router, http.MethodPost, "/api/v1/wishlist", "user-1", gin.H{"product_id": "ghost"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func addressBody(isDefault bool) gin.H {
	return gin.H{
		"first_name": "Ada", "last_name": "Lovelace",
		"address_line1": "1 Main St", "city": "Springfield",
		"zip_code": "12345", "country": "US", "is_default": isDefault,
	}
}

func TestAddressManagementFlow(t *testing.T) {
	st := memstore.New()
	router := newTestRouter(st)

	w := doRequest(router, http.MethodPost, "/api/v1/addresses", "user-1", addressBody(true))
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Data models.Address `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	first := created.Data.ID

	w = doRequest(router, http.MethodPost, "/api/v1/addresses", "user-1", addressBody(false))
	require.Equal(t, http.StatusCreated, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	second := created.Data.ID

	// Updates replace the address; another user's update is forbidden.
	body := addressBody(false)
	body["city"] = "Shelbyville"
	w = doRequest(router, http.MethodPut, "/api/v1/addresses/"+second, "user-2", body)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(router, http.MethodPut, "/api/v1/addresses/"+second, "user-1", body)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "Shelbyville", created.Data.City)

	// Promoting the second address demotes the first.
	w = doRequest(router, http.MethodPost, "/api/v1/addresses/"+second+"/default", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/v1/addresses", "user-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Data []models.Address `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Data, 2)
	defaults := 0
	for _, addr := range list.Data {
		if addr.IsDefault {
			defaults++
			assert.Equal(t, second, addr.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	// Deletes enforce ownership too.
	w = doRequest(router, http.MethodDelete, "/api/v1/addresses/"+first, "user-2", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = doRequest(router, http.MethodDelete, "/api/v1/addresses/"+first, "user-1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(router, http.MethodDelete, "/api/v1/addresses/"+first, "user-1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
