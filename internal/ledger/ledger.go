// Package ledger owns the per-goods stock and reserved-stock counters.
// Every mutation runs against an explicit transaction handle with the
// affected inventory rows locked, so no caller can act on stale counters.
// The invariant 0 <= reservedStock <= stock holds after every operation.
package ledger

import (
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
)

type LineItem struct {
	GoodsID  int64 `json:"goodsId" binding:"required"`
	Quantity int64 `json:"quantity" binding:"required"`
}

// LockInventories acquires exclusive row locks on the inventory rows for
// every distinct goods id, in ascending goods order. The stable order keeps
// transactions with overlapping goods sets from deadlocking each other.
func LockInventories(tx *gorm.DB, goodsIDs []int64) (map[int64]*models.Inventory, error) {
	seen := make(map[int64]bool, len(goodsIDs))
	ids := make([]int64, 0, len(goodsIDs))
	for _, id := range goodsIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var rows []models.Inventory
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("goods_id IN ?", ids).
		Order("goods_id ASC").
		Find(&rows).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to lock inventory rows")
	}

	locked := make(map[int64]*models.Inventory, len(rows))
	for i := range rows {
		locked[rows[i].GoodsID] = &rows[i]
	}
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			return nil, apperr.New(apperr.KindNotFound, "Goods with ID %d not found", id)
		}
	}
	return locked, nil
}

func lockInventory(tx *gorm.DB, goodsID int64) (*models.Inventory, error) {
	locked, err := LockInventories(tx, []int64{goodsID})
	if err != nil {
		return nil, err
	}
	return locked[goodsID], nil
}

// AdjustStock applies stock += delta under the row lock.
func AdjustStock(tx *gorm.DB, goodsID int64, delta int64) (*models.Inventory, error) {
	inv, err := lockInventory(tx, goodsID)
	if err != nil {
		return nil, err
	}
	return applyAdjust(tx, inv, delta)
}

func applyAdjust(tx *gorm.DB, inv *models.Inventory, delta int64) (*models.Inventory, error) {
	newStock := inv.Stock + delta
	if newStock < inv.ReservedStock {
		return nil, apperr.New(apperr.KindInvariantViolation,
			"Cannot reduce stock below reserved stock (%d)", inv.ReservedStock)
	}
	inv.Stock = newStock
	inv.UpdatedAt = time.Now()
	if err := tx.Save(inv).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to update stock")
	}
	return inv, nil
}

// Reserve promises amount units to a pending pre-order without deducting
// them from stock.
func Reserve(tx *gorm.DB, goodsID int64, amount int64) (*models.Inventory, error) {
	inv, err := lockInventory(tx, goodsID)
	if err != nil {
		return nil, err
	}
	return applyReserve(tx, inv, amount)
}

func applyReserve(tx *gorm.DB, inv *models.Inventory, amount int64) (*models.Inventory, error) {
	if amount > inv.AvailableStock() {
		return nil, apperr.New(apperr.KindInsufficientStock,
			"Insufficient stock. Available: %d, Requested: %d", inv.AvailableStock(), amount)
	}
	inv.ReservedStock += amount
	inv.UpdatedAt = time.Now()
	if err := tx.Save(inv).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to reserve stock")
	}
	return inv, nil
}

// Release gives back amount previously reserved units.
func Release(tx *gorm.DB, goodsID int64, amount int64) (*models.Inventory, error) {
	inv, err := lockInventory(tx, goodsID)
	if err != nil {
		return nil, err
	}
	return applyRelease(tx, inv, amount)
}

func applyRelease(tx *gorm.DB, inv *models.Inventory, amount int64) (*models.Inventory, error) {
	if amount > inv.ReservedStock {
		return nil, apperr.New(apperr.KindInvalidRelease,
			"Cannot release more than reserved. Reserved: %d", inv.ReservedStock)
	}
	inv.ReservedStock -= amount
	inv.UpdatedAt = time.Now()
	if err := tx.Save(inv).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to release reservation")
	}
	return inv, nil
}

// SetStock replaces the stock counter outright, for the inventory `set`
// action. The new value may not undercut outstanding reservations.
func SetStock(tx *gorm.DB, goodsID int64, value int64, minStock *int64) (*models.Inventory, error) {
	inv, err := lockInventory(tx, goodsID)
	if err != nil {
		return nil, err
	}
	if value < inv.ReservedStock {
		return nil, apperr.New(apperr.KindInvariantViolation,
			"Stock cannot be less than reserved stock (%d)", inv.ReservedStock)
	}
	inv.Stock = value
	if minStock != nil {
		inv.MinStock = *minStock
	}
	inv.UpdatedAt = time.Now()
	if err := tx.Save(inv).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to set stock")
	}
	return inv, nil
}

// ReservableAmount is how much of a requested quantity the allocator may
// reserve: whatever is available, capped at the request, never negative.
func ReservableAmount(available, requested int64) int64 {
	if available <= 0 {
		return 0
	}
	if available < requested {
		return available
	}
	return requested
}
