package handlers

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

type GoodsHandler struct {
	db        *gorm.DB
	redis     *redis.Client
	inventory *InventoryHandler
}

func NewGoodsHandler(db *gorm.DB, redisClient *redis.Client, inventory *InventoryHandler) *GoodsHandler {
	return &GoodsHandler{
		db:        db,
		redis:     redisClient,
		inventory: inventory,
	}
}

type createGoodsRequest struct {
	SKU          string           `json:"sku"`
	GoodsName    string           `json:"goodsName"`
	Price        *decimal.Decimal `json:"price"`
	Description  *string          `json:"description"`
	InitialStock int64            `json:"initialStock"`
	MinStock     int64            `json:"minStock"`
}

type updateGoodsRequest struct {
	SKU         string           `json:"sku"`
	GoodsName   string           `json:"goodsName"`
	Price       *decimal.Decimal `json:"price"`
	Description *string          `json:"description"`
}

// goodsView mirrors the read shape of the inventory endpoints so stock
// numbers always arrive with the derived availability.
type goodsView struct {
	models.Goods
	Inventory *inventoryView `json:"inventory"`
}

func newGoodsView(g models.Goods) goodsView {
	view := goodsView{Goods: g}
	if g.Inventory != nil {
		inv := newInventoryView(*g.Inventory)
		inv.Goods = nil
		view.Inventory = &inv
	}
	view.Goods.Inventory = nil
	return view
}

// POST /api/goods
func (s *GoodsHandler) CreateGoods(c *gin.Context) {
	var req createGoodsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Invalid request body: "+err.Error())
		return
	}
	if req.SKU == "" || req.GoodsName == "" || req.Price == nil {
		failValidation(c, "SKU, goods name, and price are required")
		return
	}
	if req.InitialStock < 0 || req.MinStock < 0 {
		failValidation(c, "initialStock and minStock must be non-negative")
		return
	}

	var count int64
	if err := s.db.Model(&models.Goods{}).Where("sku = ?", req.SKU).Count(&count).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to create goods"))
		return
	}
	if count > 0 {
		fail(c, apperr.New(apperr.KindConflict, "SKU already exists"))
		return
	}

	goods := models.Goods{
		SKU:         req.SKU,
		GoodsName:   req.GoodsName,
		Price:       *req.Price,
		Description: req.Description,
	}

	// The goods row and its inventory row are born together.
	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := tx.Create(&goods).Error; err != nil {
		tx.Rollback()
		if err == gorm.ErrDuplicatedKey {
			fail(c, apperr.New(apperr.KindConflict, "SKU already exists"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to create goods"))
		return
	}

	inv := models.Inventory{
		GoodsID:       goods.ID,
		Stock:         req.InitialStock,
		ReservedStock: 0,
		MinStock:      req.MinStock,
	}
	if err := tx.Create(&inv).Error; err != nil {
		tx.Rollback()
		fail(c, ledger.NormalizeError(err, "Failed to create goods"))
		return
	}

	if err := tx.Commit().Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to create goods"))
		return
	}

	goods.Inventory = &inv
	created(c, "Goods created successfully", newGoodsView(goods))
}

// GET /api/goods/:id
func (s *GoodsHandler) GetGoods(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	cacheKey := fmt.Sprintf("%s%d", GOODS_CACHE_PREFIX, id)

	if s.redis != nil {
		val, err := s.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var cached goodsView
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				success(c, cached)
				return
			}
		} else if err != redis.Nil {
			log.Printf("Redis error on GET %s: %v. Falling back to DB.", cacheKey, err)
		}
	}

	var goods models.Goods
	if err := s.db.Preload("Inventory").First(&goods, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Goods not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to get goods"))
		return
	}

	view := newGoodsView(goods)

	if s.redis != nil {
		if jsonData, err := json.Marshal(&view); err == nil {
			if err := s.redis.Set(ctx, cacheKey, jsonData, CACHE_TTL_MEDIUM).Err(); err != nil {
				log.Printf("Failed to set cache for key %s: %v", cacheKey, err)
			}
		}
	}

	success(c, view)
}

// GET /api/goods
func (s *GoodsHandler) ListGoods(c *gin.Context) {
	page, limit := pageAndLimit(c)
	search := c.Query("search")

	query := s.db.Model(&models.Goods{})
	if search != "" {
		term := "%" + search + "%"
		query = query.Where("sku ILIKE ? OR goods_name ILIKE ?", term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to list goods"))
		return
	}

	var rows []models.Goods
	offset := (page - 1) * limit
	if err := query.Preload("Inventory").Order("created_at DESC").
		Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to list goods"))
		return
	}

	views := make([]goodsView, len(rows))
	for i, g := range rows {
		views[i] = newGoodsView(g)
	}

	successPaginated(c, views, page, limit, total)
}

// PUT /api/goods/:id
func (s *GoodsHandler) UpdateGoods(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req updateGoodsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failValidation(c, "Invalid request body: "+err.Error())
		return
	}

	var goods models.Goods
	if err := s.db.First(&goods, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Goods not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to update goods"))
		return
	}

	if req.SKU != "" && req.SKU != goods.SKU {
		var count int64
		if err := s.db.Model(&models.Goods{}).Where("sku = ? AND id <> ?", req.SKU, id).Count(&count).Error; err != nil {
			fail(c, ledger.NormalizeError(err, "Failed to update goods"))
			return
		}
		if count > 0 {
			fail(c, apperr.New(apperr.KindConflict, "SKU already exists"))
			return
		}
		goods.SKU = req.SKU
	}
	if req.GoodsName != "" {
		goods.GoodsName = req.GoodsName
	}
	if req.Price != nil {
		goods.Price = *req.Price
	}
	if req.Description != nil {
		goods.Description = req.Description
	}

	if err := s.db.Save(&goods).Error; err != nil {
		if err == gorm.ErrDuplicatedKey {
			fail(c, apperr.New(apperr.KindConflict, "SKU already exists"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to update goods"))
		return
	}

	if err := s.db.Preload("Inventory").First(&goods, id).Error; err == nil {
		s.inventory.invalidateInventoryCaches(c.Request.Context(), goods.ID)
	}

	successMessage(c, "Goods updated successfully", newGoodsView(goods))
}

// DELETE /api/goods/:id
//
// Deletion is refused while any order item references the goods or any
// stock is still reserved. A referenced goods row is part of order
// history and must outlive the orders that point at it.
func (s *GoodsHandler) DeleteGoods(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var goods models.Goods
	if err := s.db.Preload("Inventory").First(&goods, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fail(c, apperr.New(apperr.KindNotFound, "Goods not found"))
			return
		}
		fail(c, ledger.NormalizeError(err, "Failed to delete goods"))
		return
	}

	var refCount int64
	if err := s.db.Model(&models.SalesOrderItem{}).Where("goods_id = ?", id).Count(&refCount).Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to delete goods"))
		return
	}
	if refCount > 0 {
		fail(c, apperr.New(apperr.KindConflict, "Cannot delete goods referenced by existing orders"))
		return
	}
	if goods.Inventory != nil && goods.Inventory.ReservedStock > 0 {
		fail(c, apperr.New(apperr.KindConflict, "Cannot delete goods with reserved stock"))
		return
	}

	tx := s.db.Begin()
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if goods.Inventory != nil {
		if err := tx.Delete(goods.Inventory).Error; err != nil {
			tx.Rollback()
			fail(c, ledger.NormalizeError(err, "Failed to delete goods"))
			return
		}
	}
	if err := tx.Delete(&goods).Error; err != nil {
		tx.Rollback()
		fail(c, ledger.NormalizeError(err, "Failed to delete goods"))
		return
	}
	if err := tx.Commit().Error; err != nil {
		fail(c, ledger.NormalizeError(err, "Failed to delete goods"))
		return
	}

	s.inventory.invalidateInventoryCaches(c.Request.Context(), id)

	successMessage(c, "Goods deleted successfully", nil)
}
