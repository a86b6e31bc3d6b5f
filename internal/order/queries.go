package order

import (
	"errors"

	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

type ListFilter struct {
	Status     *models.OrderStatus
	IsPreorder *bool
	CustomerID *int64
	Page       int
	Limit      int
}

// Get loads an order with customer, items and their goods.
func Get(db *gorm.DB, id int64) (*models.SalesOrder, error) {
	var o models.SalesOrder
	err := db.Preload("Customer").
		Preload("Items").
		Preload("Items.Goods").
		Preload("Items.Goods.Inventory").
		First(&o, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Order not found")
		}
		return nil, ledger.NormalizeError(err, "failed to load order")
	}
	return &o, nil
}

func List(db *gorm.DB, filter ListFilter) ([]models.SalesOrder, int64, error) {
	query := db.Model(&models.SalesOrder{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.IsPreorder != nil {
		query = query.Where("is_preorder = ?", *filter.IsPreorder)
	}
	if filter.CustomerID != nil {
		query = query.Where("customer_id = ?", *filter.CustomerID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, ledger.NormalizeError(err, "failed to count orders")
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}

	var orders []models.SalesOrder
	err := query.Preload("Customer").
		Preload("Items").
		Preload("Items.Goods").
		Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&orders).Error
	if err != nil {
		return nil, 0, ledger.NormalizeError(err, "failed to list orders")
	}
	return orders, total, nil
}
