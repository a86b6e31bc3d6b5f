package order

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"salesorder-system/internal/apperr"
	"salesorder-system/internal/database/models"
	"salesorder-system/internal/ledger"
)

type CreateInput struct {
	CustomerID      int64             `json:"customerId" binding:"required"`
	Items           []ledger.LineItem `json:"items" binding:"required"`
	DeliveryAddress string            `json:"deliveryAddress"`
	Notes           string            `json:"notes"`
}

const preorderDeliveryLead = 7 * 24 * time.Hour

// Create runs the order allocation protocol as one serializable transaction:
// validate the customer, lock every referenced inventory row in ascending
// goods order, classify the whole order regular-or-preorder, snapshot prices,
// persist the order with its items, and apply the ledger effects while the
// locks are still held. Any failure rolls the whole thing back.
func Create(ctx context.Context, db *gorm.DB, in CreateInput, txTimeout time.Duration) (*models.SalesOrder, error) {
	if in.CustomerID == 0 || len(in.Items) == 0 {
		return nil, apperr.New(apperr.KindValidation, "Customer ID and items array are required")
	}
	for _, item := range in.Items {
		if item.GoodsID == 0 || item.Quantity <= 0 {
			return nil, apperr.New(apperr.KindValidation, "Each item must have goodsId and positive quantity")
		}
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

	var customer models.Customer
	if err := tx.First(&customer, in.CustomerID).Error; err != nil {
		tx.Rollback()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Customer not found")
		}
		return nil, ledger.NormalizeError(err, "failed to load customer")
	}

	goodsIDs := make([]int64, 0, len(in.Items))
	for _, item := range in.Items {
		goodsIDs = append(goodsIDs, item.GoodsID)
	}

	locked, err := ledger.LockInventories(tx, goodsIDs)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	var goods []models.Goods
	if err := tx.Where("id IN ?", goodsIDs).Find(&goods).Error; err != nil {
		tx.Rollback()
		return nil, ledger.NormalizeError(err, "failed to load goods")
	}
	goodsByID := make(map[int64]*models.Goods, len(goods))
	for i := range goods {
		goodsByID[goods[i].ID] = &goods[i]
	}

	// One under-available line makes the entire order a preorder.
	isPreorder := false
	for _, item := range in.Items {
		if locked[item.GoodsID].AvailableStock() < item.Quantity {
			isPreorder = true
			break
		}
	}

	now := time.Now()
	totalAmount := decimal.Zero
	orderItems := make([]models.SalesOrderItem, 0, len(in.Items))
	for _, item := range in.Items {
		g, ok := goodsByID[item.GoodsID]
		if !ok {
			tx.Rollback()
			return nil, apperr.New(apperr.KindNotFound, "Goods with ID %d not found", item.GoodsID)
		}
		totalPrice := g.Price.Mul(decimal.NewFromInt(item.Quantity))
		totalAmount = totalAmount.Add(totalPrice)
		orderItems = append(orderItems, models.SalesOrderItem{
			GoodsID:    item.GoodsID,
			Quantity:   item.Quantity,
			UnitPrice:  g.Price,
			TotalPrice: totalPrice,
			CreatedAt:  now,
		})
	}

	newOrder := models.SalesOrder{
		OrderNumber:     NewOrderNumber(),
		CustomerID:      in.CustomerID,
		IsPreorder:      isPreorder,
		Status:          models.OrderStatusPending,
		TotalAmount:     totalAmount,
		OrderDate:       now,
		DeliveryAddress: in.DeliveryAddress,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if isPreorder {
		expected := now.Add(preorderDeliveryLead)
		newOrder.ExpectedDeliveryDate = &expected
	}

	if err := tx.Create(&newOrder).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			newOrder.OrderNumber = NewOrderNumber()
			err = tx.Create(&newOrder).Error
		}
		if err != nil {
			tx.Rollback()
			return nil, ledger.NormalizeError(err, "failed to create order")
		}
	}

	for i := range orderItems {
		orderItems[i].OrderID = newOrder.ID
	}

	// Ledger effects while the row locks are still held.
	for i := range orderItems {
		item := &orderItems[i]
		if isPreorder {
			reserveAmount := ledger.ReservableAmount(locked[item.GoodsID].AvailableStock(), item.Quantity)
			item.ReservedQuantity = reserveAmount
			if reserveAmount > 0 {
				if _, err := ledger.Reserve(tx, item.GoodsID, reserveAmount); err != nil {
					tx.Rollback()
					return nil, err
				}
			}
		} else {
			if _, err := ledger.AdjustStock(tx, item.GoodsID, -item.Quantity); err != nil {
				tx.Rollback()
				return nil, err
			}
		}
		if err := tx.Create(item).Error; err != nil {
			tx.Rollback()
			return nil, ledger.NormalizeError(err, "failed to create order item")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, ledger.NormalizeError(err, "failed to commit order")
	}

	return Get(db, newOrder.ID)
}
