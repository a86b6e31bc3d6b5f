package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

type Customer struct {
	ID        int64   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string  `gorm:"size:255;not null" json:"name"`
	Email     *string `gorm:"size:255;uniqueIndex" json:"email"`
	Phone     string  `gorm:"size:50;not null" json:"phone"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Orders []SalesOrder `gorm:"foreignKey:CustomerID" json:"orders,omitempty"`
}

type Goods struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	SKU         string          `gorm:"size:100;uniqueIndex;not null" json:"sku"`
	GoodsName   string          `gorm:"size:255;not null" json:"goods_name"`
	Price       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"price"`
	Description *string         `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`

	Inventory *Inventory `gorm:"foreignKey:GoodsID" json:"inventory,omitempty"`
}

type Inventory struct {
	ID            int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	GoodsID       int64 `gorm:"uniqueIndex;not null" json:"goods_id"`
	Stock         int64 `gorm:"not null;default:0" json:"stock"`
	ReservedStock int64 `gorm:"not null;default:0" json:"reserved_stock"`
	MinStock      int64 `gorm:"not null;default:0" json:"min_stock"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`

	Goods *Goods `gorm:"foreignKey:GoodsID" json:"goods,omitempty"`
}

// AvailableStock is stock not promised to pending pre-orders.
func (i Inventory) AvailableStock() int64 {
	return i.Stock - i.ReservedStock
}

func (i Inventory) IsLowStock() bool {
	return i.AvailableStock() <= i.MinStock
}

type SalesOrder struct {
	ID                   int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderNumber          string          `gorm:"size:100;uniqueIndex;not null" json:"order_number"`
	CustomerID           int64           `gorm:"index;not null" json:"customer_id"`
	IsPreorder           bool            `gorm:"not null;default:false" json:"is_preorder"`
	Status               OrderStatus     `gorm:"size:32;not null;default:'PENDING'" json:"status"`
	TotalAmount          decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_amount"`
	OrderDate            time.Time       `gorm:"not null" json:"order_date"`
	ExpectedDeliveryDate *time.Time      `json:"expected_delivery_date"`
	DeliveryAddress      string          `gorm:"type:text" json:"delivery_address"`
	Notes                string          `gorm:"type:text" json:"notes"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`

	Customer *Customer        `gorm:"foreignKey:CustomerID" json:"customer,omitempty"`
	Items    []SalesOrderItem `gorm:"foreignKey:OrderID" json:"items,omitempty"`
}

type SalesOrderItem struct {
	ID       int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID  int64 `gorm:"index;not null" json:"order_id"`
	GoodsID  int64 `gorm:"index;not null" json:"goods_id"`
	Quantity int64 `gorm:"not null" json:"quantity"`
	// ReservedQuantity is what the allocator actually reserved for this line
	// (at most Quantity, zero for regular orders). Cancellation and
	// fulfillment release exactly this amount.
	ReservedQuantity int64           `gorm:"not null;default:0" json:"reserved_quantity"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"unit_price"`
	TotalPrice       decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"total_price"`
	CreatedAt        time.Time       `json:"created_at"`

	Goods *Goods `gorm:"foreignKey:GoodsID" json:"goods,omitempty"`
}
