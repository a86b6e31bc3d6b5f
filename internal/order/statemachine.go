package order

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

// SetStatus applies a status transition. CANCELLED carries compensating
// ledger actions and is routed through Cancel; everything else is a pure
// status write.
func SetStatus(ctx context.Context, db *gorm.DB, id int64, status models.OrderStatus, txTimeout time.Duration) (*models.SalesOrder, error) {
	if !ValidStatus(status) {
		return nil, apperr.New(apperr.KindValidation,
			"Status must be one of: PENDING, CONFIRMED, PROCESSING, SHIPPED, DELIVERED, CANCELLED")
	}
	if status == models.OrderStatusCancelled {
		return Cancel(ctx, db, id, txTimeout)
	}

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
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&existing, id).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Order not found")
		}
		return nil, ledger.NormalizeError(err, "failed to load order")
	}

	if err := CheckTransition(existing.Status, status); err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := tx.Model(&existing).Updates(map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}).Error; err != nil {
		tx.Rollback()
		return nil, ledger.NormalizeError(err, "failed to update order status")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, ledger.NormalizeError(err, "failed to commit status update")
	}

	return Get(db, id)
}

// Cancel flips the order to CANCELLED and reverses its ledger effects in the
// same transaction: a preorder releases exactly what was reserved per item
// (which may be less than the requested quantity), a regular order restores
// the deducted stock.
func Cancel(ctx context.Context, db *gorm.DB, id int64, txTimeout time.Duration) (*models.SalesOrder, error) {
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

	if err := CheckTransition(existing.Status, models.OrderStatusCancelled); err != nil {
		tx.Rollback()
		return nil, err
	}

	goodsIDs := make([]int64, 0, len(existing.Items))
	for _, item := range existing.Items {
		goodsIDs = append(goodsIDs, item.GoodsID)
	}
	if len(goodsIDs) > 0 {
		if _, err := ledger.LockInventories(tx, goodsIDs); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	for _, item := range existing.Items {
		if existing.IsPreorder {
			if item.ReservedQuantity > 0 {
				if _, err := ledger.Release(tx, item.GoodsID, item.ReservedQuantity); err != nil {
					tx.Rollback()
					return nil, err
				}
			}
		} else {
			if _, err := ledger.AdjustStock(tx, item.GoodsID, item.Quantity); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
	}

	if err := tx.Model(&existing).Updates(map[string]interface{}{
		"status":     models.OrderStatusCancelled,
		"updated_at": time.Now(),
	}).Error; err != nil {
		tx.Rollback()
		return nil, ledger.NormalizeError(err, "failed to cancel order")
	}

	if err := tx.Commit().Error; err != nil {
		return nil, ledger.NormalizeError(err, "failed to commit cancellation")
	}

	return Get(db, id)
}
