package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

// Fulfill re-evaluates a pending preorder against current stock and, when
// every line can now be satisfied in full, converts the reservations into
// committed deductions. Partial fulfillment is not supported: one short line
// aborts the whole operation with the ledger untouched.
func Fulfill(ctx context.Context, db *gorm.DB, id int64, txTimeout time.Duration) (*models.SalesOrder, error) {
	tx, cancel := ledger.BeginSerializable(ctx, db, txTimeout)
	defer cancel()
	if tx.Error != nil {
		return nil, ledger.NormalizeError(tx.Error, "failed to begin transaction")
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	var existing models.SalesOrder
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Items").
		First(&existing, id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Order not found")
		}
		return nil, ledger.NormalizeError(err, "failed to load order")
	}

	if !existing.IsPreorder {
		tx.Rollback()
		return nil, apperr.New(apperr.KindValidation, "This is not a pre-order")
	}
	if existing.Status == models.OrderStatusCancelled {
		tx.Rollback()
		return nil, apperr.New(apperr.KindValidation, "Cannot fulfill cancelled order")
	}

	goodsIDs := make([]int64, 0, len(existing.Items))
	for _, item := range existing.Items {
		goodsIDs = append(goodsIDs, item.GoodsID)
	}
	locked, err := ledger.LockInventories(tx, goodsIDs)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// Every line must be fully coverable before any ledger mutation.
	var shortages []string
	for _, item := range existing.Items {
		inv := locked[item.GoodsID]
		if inv.AvailableStock() < item.Quantity {
			shortages = append(shortages, fmt.Sprintf("goods %d: required %d, available %d",
				item.GoodsID, item.Quantity, inv.AvailableStock()))
		}
	}
	if len(shortages) > 0 {
		tx.Rollback()
		return nil, apperr.New(apperr.KindInsufficientStock,
			"Insufficient stock to fulfill order: %s", strings.Join(shortages, "; "))
	}

	// Convert each reservation into a committed deduction.
	for _, item := range existing.Items {
		if item.ReservedQuantity > 0 {
			if _, err := ledger.Release(tx, item.GoodsID, item.ReservedQuantity); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		if _, err := ledger.AdjustStock(tx, item.GoodsID, -item.Quantity); err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := tx.Model(&models.SalesOrderItem{}).
			Where("id = ?", item.ID).
			Update("reserved_quantity", 0).Error; err != nil {
			tx.Rollback()
			return nil, ledger.NormalizeError(err, "failed to clear item reservation")
		}
	}

	if err := tx.Model(&existing).Updates(map[string]interface{}{
		"is_preorder":            false,
		"status":                 models.OrderStatusConfirmed,
		"expected_delivery_date": nil,
		"updated_at":             time.Now(),
	}).Error; err != nil {
		tx.Rollback()
		return nil, ledger.NormalizeError(err, "failed to update fulfilled order")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, ledger.NormalizeError(err, "failed to commit fulfillment")
	}

	return Get(db, id)
}
