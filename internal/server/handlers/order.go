package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"salesorder-system/internal/database/models"
	"salesorder-system/internal/order"
)

type OrderHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	txTimeout time.Duration
	inventory *InventoryHandler
}

// NewOrderHandler shares the inventory handler so order mutations can
// drop the inventory caches they invalidate.
func NewOrderHandler(db *gorm.DB, redisClient *redis.Client, txTimeout time.Duration, inventory *InventoryHandler) *OrderHandler {
	return &OrderHandler{
		db:        db,
		redis:     redisClient,
		txTimeout: txTimeout,
		inventory: inventory,
	}
}

func (s *OrderHandler) invalidateForOrder(c *gin.Context, o *models.SalesOrder) {
	if s.inventory == nil || o == nil {
		return
	}
	goodsIDs := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		goodsIDs = append(goodsIDs, item.GoodsID)
	}
	s.inventory.invalidateInventoryCaches(c.Request.Context(), goodsIDs...)
}

// POST /api/orders
func (s *OrderHandler) CreateOrder(c *gin.Context) {
	var req order.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Customer ID and items array are required")
		return
	}

	o, err := order.Create(c.Request.Context(), s.db, req, s.txTimeout)
	if err != nil {
		fail(c, err)
		return
	}

	s.invalidateForOrder(c, o)

	msg := "Order created successfully"
	if o.IsPreorder {
		msg = "Pre-order created successfully"
	}
	created(c, msg, o)
}

// GET /api/orders/:id
func (s *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	o, err := order.Get(s.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, o)
}

// GET /api/orders
func (s *OrderHandler) ListOrders(c *gin.Context) {
	page, limit := pageAndLimit(c)

	filter := order.ListFilter{
		IsPreorder: parseBoolQuery(c, "isPreorder"),
		CustomerID: parseInt64Query(c, "customerId"),
		Page:       page,
		Limit:      limit,
	}
	if str := c.Query("status"); str != "" {
		status := models.OrderStatus(str)
		if !order.ValidStatus(status) {
			failValidation(c, "Status must be one of: PENDING, CONFIRMED, PROCESSING, SHIPPED, DELIVERED, CANCELLED")
			return
		}
		filter.Status = &status
	}

	orders, total, err := order.List(s.db, filter)
	if err != nil {
		fail(c, err)
		return
	}
	successPaginated(c, orders, page, limit, total)
}

type updateStatusRequest struct {
	Status models.OrderStatus `json:"status"`
}

// PUT /api/orders/:id/status
func (s *OrderHandler) UpdateOrderStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Invalid request body: "+err.Error())
		return
	}

	o, err := order.SetStatus(c.Request.Context(), s.db, id, req.Status, s.txTimeout)
	if err != nil {
		fail(c, err)
		return
	}

	// Cancellation through the status endpoint releases stock too.
	if req.Status == models.OrderStatusCancelled {
		s.invalidateForOrder(c, o)
		successMessage(c, "Order cancelled successfully", o)
		return
	}
	successMessage(c, "Order status updated successfully", o)
}

// DELETE /api/orders/:id
func (s *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	o, err := order.Cancel(c.Request.Context(), s.db, id, s.txTimeout)
	if err != nil {
		fail(c, err)
		return
	}

	s.invalidateForOrder(c, o)
	successMessage(c, "Order cancelled successfully", o)
}

// POST /api/orders/:id/fulfill
func (s *OrderHandler) FulfillPreorder(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	o, err := order.Fulfill(c.Request.Context(), s.db, id, s.txTimeout)
	if err != nil {
		fail(c, err)
		return
	}

	s.invalidateForOrder(c, o)
	successMessage(c, "Pre-order fulfilled successfully", o)
}
