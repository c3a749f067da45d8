package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/service"
	"checkout-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkout *service.CheckoutService
	carts    *service.CartService
	store    store.Store
}

// NewHandler creates a new HTTP handler
func NewHandler(checkout *service.CheckoutService, carts *service.CartService, st store.Store) *Handler {
	return &Handler{
		checkout: checkout,
		carts:    carts,
		store:    st,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	v1.GET("/products", h.listProducts)
	v1.GET("/products/:id", h.getProduct)

	authed := v1.Group("")
	authed.Use(identityRequired())
	{
		authed.GET("/cart", h.getCart)
		authed.POST("/cart/items", h.addCartItem)
		authed.PUT("/cart/items/:itemId", h.updateCartItem)
		authed.DELETE("/cart/items/:itemId", h.removeCartItem)
		authed.DELETE("/cart", h.clearCart)

		authed.POST("/orders", h.placeOrder)
		authed.GET("/orders", h.listOrders)
		authed.GET("/orders/:id", h.getOrder)
		authed.POST("/orders/:id/cancel", h.cancelOrder)
		authed.POST("/orders/:id/reorder", h.reorder)

		authed.POST("/addresses", h.createAddress)
		authed.GET("/addresses", h.listAddresses)
		authed.PUT("/addresses/:id", h.updateAddress)
		authed.DELETE("/addresses/:id", h.deleteAddress)
		authed.POST("/addresses/:id/default", h.setDefaultAddress)

		authed.GET("/wishlist", h.getWishlist)
		authed.POST("/wishlist", h.addToWishlist)
		authed.DELETE("/wishlist/:productId", h.removeFromWishlist)
		authed.GET("/wishlist/check/:productId", h.checkWishlist)

		authed.GET("/notifications", h.listNotifications)
	}
}

// writeError maps the error taxonomy to HTTP statuses: validation failures
// to 400, missing entities to 404, ownership violations to 403, retryable
// commit conflicts to 409 and store failures to 503.
func writeError(c *gin.Context, err error) {
	var (
		productNotFound *models.ProductNotFoundError
		addrNotFound    *models.AddressNotFoundError
		notFound        *models.NotFoundError
		insufficient    *models.InsufficientStockError
		notCancellable  *models.OrderNotCancellableError
		conflict        *models.StockConflictError
		unavailable     *models.StoreUnavailableError
	)

	switch {
	case errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrProductUnavailable),
		errors.Is(err, models.ErrAlreadyInWishlist),
		errors.As(err, &insufficient),
		errors.As(err, &notCancellable):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &productNotFound),
		errors.As(err, &addrNotFound),
		errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Checkout conflicted with a concurrent request, please retry"})
	case errors.Is(err, models.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().Unix()})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ready", "time": time.Now().Unix()})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.store.ListProducts(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": products})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.store.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": product})
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.GetCart(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cart})
}

type addCartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req addCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	cart, err := h.carts.AddItem(c.Request.Context(), currentUserID(c), req.ProductID, req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cart})
}

type updateCartItemRequest struct {
	Quantity int `json:"quantity" binding:"required,min=1"`
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req updateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Valid quantity is required"})
		return
	}

	cart, err := h.carts.UpdateItem(c.Request.Context(), currentUserID(c), c.Param("itemId"), req.Quantity)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cart})
}

func (h *Handler) removeCartItem(c *gin.Context) {
	cart, err := h.carts.RemoveItem(c.Request.Context(), currentUserID(c), c.Param("itemId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cart})
}

func (h *Handler) clearCart(c *gin.Context) {
	cart, err := h.carts.ClearCart(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cart})
}

func (h *Handler) placeOrder(c *gin.Context) {
	var req service.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.checkout.PlaceOrder(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}

func (h *Handler) listOrders(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	status := models.OrderStatus(c.Query("status"))

	orders, pagination, err := h.checkout.ListOrders(c.Request.Context(), currentUserID(c), status, page, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": orders, "pagination": pagination})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.checkout.GetOrder(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order})
}

func (h *Handler) cancelOrder(c *gin.Context) {
	order, err := h.checkout.CancelOrder(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": order, "message": "Order cancelled"})
}

func (h *Handler) reorder(c *gin.Context) {
	cart, err := h.carts.Reorder(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": cart})
}

type createAddressRequest struct {
	FirstName    string `json:"first_name" binding:"required"`
	LastName     string `json:"last_name" binding:"required"`
	Phone        string `json:"phone"`
	AddressLine1 string `json:"address_line1" binding:"required"`
	AddressLine2 string `json:"address_line2"`
	City         string `json:"city" binding:"required"`
	State        string `json:"state"`
	ZipCode      string `json:"zip_code" binding:"required"`
	Country      string `json:"country" binding:"required"`
	IsDefault    bool   `json:"is_default"`
}

func (h *Handler) createAddress(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	now := time.Now()
	addr := &models.Address{
		ID:           uuid.NewString(),
		UserID:       currentUserID(c),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Phone:        req.Phone,
		AddressLine1: req.AddressLine1,
		AddressLine2: req.AddressLine2,
		City:         req.City,
		State:        req.State,
		ZipCode:      req.ZipCode,
		Country:      req.Country,
		IsDefault:    req.IsDefault,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.store.CreateAddress(c.Request.Context(), addr); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": addr})
}

func (h *Handler) listAddresses(c *gin.Context) {
	addrs, err := h.store.ListAddresses(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": addrs})
}

// ownedAddress loads an address and enforces that the caller owns it.
func (h *Handler) ownedAddress(c *gin.Context, id string) (*models.Address, error) {
	addr, err := h.store.GetAddress(c.Request.Context(), id)
	if err != nil {
		return nil, err
	}
	if addr.UserID != currentUserID(c) {
		return nil, models.ErrForbidden
	}
	return addr, nil
}

func (h *Handler) updateAddress(c *gin.Context) {
	var req createAddressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	addr, err := h.ownedAddress(c, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	addr.FirstName = req.FirstName
	addr.LastName = req.LastName
	addr.Phone = req.Phone
	addr.AddressLine1 = req.AddressLine1
	addr.AddressLine2 = req.AddressLine2
	addr.City = req.City
	addr.State = req.State
	addr.ZipCode = req.ZipCode
	addr.Country = req.Country
	addr.IsDefault = req.IsDefault
	addr.UpdatedAt = time.Now()

	if err := h.store.UpdateAddress(c.Request.Context(), addr); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": addr})
}

func (h *Handler) deleteAddress(c *gin.Context) {
	if _, err := h.ownedAddress(c, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.DeleteAddress(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Address deleted"})
}

func (h *Handler) setDefaultAddress(c *gin.Context) {
	if _, err := h.ownedAddress(c, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	if err := h.store.SetDefaultAddress(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Default address updated"})
}

func (h *Handler) getWishlist(c *gin.Context) {
	items, err := h.store.ListWishlist(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": items})
}

type addWishlistRequest struct {
	ProductID string `json:"product_id" binding:"required"`
}

func (h *Handler) addToWishlist(c *gin.Context) {
	var req addWishlistRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Product ID is required"})
		return
	}

	if _, err := h.store.GetProduct(c.Request.Context(), req.ProductID); err != nil {
		writeError(c, err)
		return
	}

	item := &models.WishlistItem{
		ID:        uuid.NewString(),
		UserID:    currentUserID(c),
		ProductID: req.ProductID,
		AddedAt:   time.Now(),
	}
	if err := h.store.AddWishlistItem(c.Request.Context(), item); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": item})
}

func (h *Handler) removeFromWishlist(c *gin.Context) {
	err := h.store.RemoveWishlistItem(c.Request.Context(), currentUserID(c), c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Item removed from wishlist"})
}

func (h *Handler) checkWishlist(c *gin.Context) {
	inWishlist, err := h.store.InWishlist(c.Request.Context(), currentUserID(c), c.Param("productId"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"in_wishlist": inWishlist}})
}

func (h *Handler) listNotifications(c *gin.Context) {
	list, err := h.store.ListNotifications(c.Request.Context(), currentUserID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": list})
}
