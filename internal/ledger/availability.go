package ledger

import (
	"fmt"

	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
)

type AvailabilityItem struct {
	GoodsID           int64  `json:"goods_id"`
	GoodsName         string `json:"goods_name,omitempty"`
	SKU               string `json:"sku,omitempty"`
	RequestedQuantity int64  `json:"requested_quantity"`
	AvailableStock    int64  `json:"available_stock"`
	Available         bool   `json:"available"`
	Reason            string `json:"reason,omitempty"`
}

// VerdictFor composes the per-item availability verdict from a snapshot.
// A nil inventory means the goods was never registered.
func VerdictFor(inv *models.Inventory, item LineItem) AvailabilityItem {
	if inv == nil {
		return AvailabilityItem{
			GoodsID:           item.GoodsID,
			RequestedQuantity: item.Quantity,
			Available:         false,
			Reason:            "Goods not found",
		}
	}

	verdict := AvailabilityItem{
		GoodsID:           item.GoodsID,
		RequestedQuantity: item.Quantity,
		AvailableStock:    inv.AvailableStock(),
		Available:         inv.AvailableStock() >= item.Quantity,
	}
	if inv.Goods != nil {
		verdict.GoodsName = inv.Goods.GoodsName
		verdict.SKU = inv.Goods.SKU
	}
	if !verdict.Available {
		if verdict.AvailableStock == 0 {
			verdict.Reason = "Out of stock"
		} else {
			verdict.Reason = fmt.Sprintf("Insufficient stock (only %d available)", verdict.AvailableStock)
		}
	}
	return verdict
}

// CheckAvailability is a best-effort snapshot read. Stock can change between
// this check and a reservation; the allocator re-decides under lock.
func CheckAvailability(db *gorm.DB, items []LineItem) (bool, []AvailabilityItem, error) {
	goodsIDs := make([]int64, 0, len(items))
	for _, item := range items {
		goodsIDs = append(goodsIDs, item.GoodsID)
	}

	var inventories []models.Inventory
	if err := db.Preload("Goods").Where("goods_id IN ?", goodsIDs).Find(&inventories).Error; err != nil {
		return false, nil, apperr.Wrap(apperr.KindInternal, err, "failed to read inventory")
	}

	byGoods := make(map[int64]*models.Inventory, len(inventories))
	for i := range inventories {
		byGoods[inventories[i].GoodsID] = &inventories[i]
	}

	allAvailable := true
	verdicts := make([]AvailabilityItem, len(items))
	for i, item := range items {
		verdicts[i] = VerdictFor(byGoods[item.GoodsID], item)
		if !verdicts[i].Available {
			allAvailable = false
		}
	}
	return allAvailable, verdicts, nil
}
