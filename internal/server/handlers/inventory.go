package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

const (
	INVENTORY_CACHE_PREFIX      = "inventory:goods:"
	INVENTORY_LIST_CACHE_PREFIX = "inventory:list:"
	GOODS_CACHE_PREFIX          = "goods:"
	CACHE_TTL_SHORT             = 5 * time.Minute
	CACHE_TTL_MEDIUM            = 30 * time.Minute
)

type InventoryHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	txTimeout time.Duration
}

func NewInventoryHandler(db *gorm.DB, redisClient *redis.Client, txTimeout time.Duration) *InventoryHandler {
	return &InventoryHandler{
		db:        db,
		redis:     redisClient,
		txTimeout: txTimeout,
	}
}

// inventoryView augments the stored row with the derived fields every
// read endpoint reports.
type inventoryView struct {
	models.Inventory
	AvailableStock int64 `json:"available_stock"`
	IsLowStock     bool  `json:"is_low_stock"`
}

func newInventoryView(inv models.Inventory) inventoryView {
	return inventoryView{
		Inventory:      inv,
		AvailableStock: inv.AvailableStock(),
		IsLowStock:     inv.IsLowStock(),
	}
}

func (s *InventoryHandler) invalidateInventoryCaches(ctx context.Context, goodsIDs ...int64) {
	if s.redis == nil {
		return
	}

	// List pages are keyed by page/limit/filter, so sweep the prefix.
	if keys, err := s.redis.Keys(ctx, INVENTORY_LIST_CACHE_PREFIX+"*").Result(); err == nil && len(keys) > 0 {
		_ = s.redis.Del(ctx, keys...)
	}

	for _, id := range goodsIDs {
		_ = s.redis.Del(ctx,
			fmt.Sprintf("%s%d", INVENTORY_CACHE_PREFIX, id),
			fmt.Sprintf("%s%d", GOODS_CACHE_PREFIX, id))
	}
}

// cachedInventoryPage is the serialized form of one inventory list page.
type cachedInventoryPage struct {
	Views []inventoryView `json:"views"`
	Total int64           `json:"total"`
}

// GET /api/inventory
func (s *InventoryHandler) ListInventory(c *gin.Context) {
	page, limit := pageAndLimit(c)
	lowStock := false
	if v := parseBoolQuery(c, "lowStock"); v != nil {
		lowStock = *v
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d:%d:%t", INVENTORY_LIST_CACHE_PREFIX, page, limit, lowStock)

	if s.redis != nil {
		val, err := s.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached cachedInventoryPage
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				successPaginated(c, cached.Views, page, limit, cached.Total)
				return
			}
		} else if err != redis.Nil {
			log.Printf("Redis error on GET %s: %v. Falling back to DB.", cacheKey, err)
		}
	}

	var total int64
	if err := s.db.Model(&models.Inventory{}).Count(&total).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to list inventory"))
		return
	}

	var rows []models.Inventory
	offset := (page - 1) * limit
	if err := s.db.Preload("Goods").
		Order("updated_at DESC").
		Offset(offset).Limit(limit).
		Find(&rows).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to list inventory"))
		return
	}

	views := make([]inventoryView, 0, len(rows))
	for _, inv := range rows {
		view := newInventoryView(inv)
		if lowStock && !view.IsLowStock {
			continue
		}
		views = append(views, view)
	}

	if lowStock {
		total = int64(len(views))
	}

	if s.redis != nil {
		if jsonData, err := json.Marshal(&cachedInventoryPage{Views: views, Total: total}); err == nil {
			if err := s.redis.Set(ctx, cacheKey, jsonData, CACHE_TTL_SHORT).Err(); err != nil {
				log.Printf("Failed to set cache for key %s: %v", cacheKey, err)
			}
		}
	}

	successPaginated(c, views, page, limit, total)
}

// GET /api/inventory/goods/:goodsId
func (s *InventoryHandler) GetInventoryByGoods(c *gin.Context) {
	goodsID, ok := parseIDParam(c, "goodsId")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", INVENTORY_CACHE_PREFIX, goodsID)

	if s.redis != nil {
		val, err := s.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached inventoryView
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				success(c, cached)
				return
			}
		} else if err != redis.Nil {
			log.Printf("Redis error on GET %s: %v. Falling back to DB.", cacheKey, err)
		}
	}

	var inv models.Inventory
	if err := s.db.Preload("Goods").Where("goods_id = ?", goodsID).First(&inv).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Inventory not found for this goods"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to get inventory"))
		return
	}

	view := newInventoryView(inv)

	if s.redis != nil {
		if jsonData, err := json.Marshal(&view); err == nil {
			if err := s.redis.Set(ctx, cacheKey, jsonData, CACHE_TTL_MEDIUM).Err(); err != nil {
				log.Printf("Failed to set cache for key %s: %v", cacheKey, err)
			}
		}
	}

	success(c, view)
}

type updateStockRequest struct {
	Action   string `json:"action"`
	Quantity *int64 `json:"quantity"`
	MinStock *int64 `json:"minStock"`
}

// PUT /api/inventory/:id
func (s *InventoryHandler) UpdateStock(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req updateStockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Invalid request body: "+err.Error())
		return
	}

	if req.Action != "add" && req.Action != "reduce" && req.Action != "set" {
		failValidation(c, "Action must be one of: add, reduce, set")
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 {
		failValidation(c, "Quantity must be a non-negative number")
		return
	}

	var existing models.Inventory
	if err := s.db.First(&existing, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Inventory not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to update stock"))
		return
	}

	ctx := c.Request.Context()
	tx, cancel := ledger.BeginSerializable(ctx, s.db, s.txTimeout)
	defer cancel()
	if tx.Error != nil {
		fail(c, ledger.NormalizeError(tx.Error, "Failed to update stock"))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var (
		inv *models.Inventory
		err error
		msg string
	)
	switch req.Action {
	case "add":
		inv, err = ledger.AdjustStock(tx, existing.GoodsID, *req.Quantity)
		msg = "Stock added successfully"
	case "reduce":
		inv, err = ledger.AdjustStock(tx, existing.GoodsID, -*req.Quantity)
		msg = "Stock reduced successfully"
	case "set":
		inv, err = ledger.SetStock(tx, existing.GoodsID, *req.Quantity, req.MinStock)
		msg = "Stock updated successfully"
	}
	if err == nil && req.Action != "set" && req.MinStock != nil {
		inv.MinStock = *req.MinStock
		err = tx.Save(inv).Error
	}
	if err != nil {
		tx.Rollback()
		fail(c, ledger.NormalizeError(err, "Failed to update stock"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to update stock"))
		return
	}

	s.invalidateInventoryCaches(ctx, existing.GoodsID)

	if err := s.db.Preload("Goods").First(inv, inv.ID).Error; err != nil {
		log.Printf("Failed to reload inventory %d after update: %v", inv.ID, err)
	}
	successMessage(c, msg, newInventoryView(*inv))
}

type checkAvailabilityRequest struct {
	Items []ledger.LineItem `json:"items"`
}

// POST /api/inventory/check
func (s *InventoryHandler) CheckAvailability(c *gin.Context) {
	var req checkAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Items) == 0 {
		failValidation(c, "Items array is required")
		return
	}

	allAvailable, verdicts, err := ledger.CheckAvailability(s.db, req.Items)
	if err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to check availability"))
		return
	}

	c.JSON(200, gin.H{
		"success":      true,
		"allAvailable": allAvailable,
		"items":        verdicts,
	})
}

type reservationRequest struct {
	GoodsID  int64 `json:"goodsId"`
	Quantity int64 `json:"quantity"`
}

// POST /api/inventory/reserve
func (s *InventoryHandler) ReserveStock(c *gin.Context) {
	s.mutateReservation(c, "Stock reserved successfully", ledger.Reserve)
}

// POST /api/inventory/release
func (s *InventoryHandler) ReleaseReservation(c *gin.Context) {
	s.mutateReservation(c, "Reservation released successfully", ledger.Release)
}

func (s *InventoryHandler) mutateReservation(c *gin.Context, msg string, apply func(*gorm.DB, int64, int64) (*models.Inventory, error)) {
	var req reservationRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.GoodsID <= 0 || req.Quantity <= 0 {
		failValidation(c, "Valid goodsId and quantity are required")
		return
	}

	ctx := c.Request.Context()
	tx, cancel := ledger.BeginSerializable(ctx, s.db, s.txTimeout)
	defer cancel()
	if tx.Error != nil {
		fail(c, ledger.NormalizeError(tx.Error, "Failed to update reservation"))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	inv, err := apply(tx, req.GoodsID, req.Quantity)
	if err != nil {
		tx.Rollback()
		fail(c, ledger.NormalizeError(err, "Failed to update reservation"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to update reservation"))
		return
	}

	s.invalidateInventoryCaches(ctx, req.GoodsID)

	if err := s.db.Preload("Goods").First(inv, inv.ID).Error; err != nil {
		log.Printf("Failed to reload inventory %d after update: %v", inv.ID, err)
	}
	successMessage(c, msg, newInventoryView(*inv))
}
