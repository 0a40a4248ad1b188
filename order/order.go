package order

import (
	"time"
)

// Status of an order as it moves through checkout
type Status string

// Order statuses
const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// Order is a one-time purchase record. Like subscription records it is paired
// with a document in the content store, referenced by DocumentID.
type Order struct {
	ID         string `gorm:"primaryKey"`
	UserID     string `gorm:"index"`
	UserEmail  string `gorm:"index"`
	DocumentID string `gorm:"index"`

	StripeSessionID       string `gorm:"index"`
	StripePaymentIntentID string

	TotalAmount float64
	Currency    string

	Status    Status
	IsDeleted bool `gorm:"index"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Order) TableName() string {
	return "orders"
}

// OrderItem is a line item on an order. Items are soft-deleted alongside
// their parent order so reporting over historical line items keeps working.
type OrderItem struct {
	ID      string `gorm:"primaryKey"`
	OrderID string `gorm:"index"`

	ProductID   string
	ProductName string
	Quantity    int
	UnitPrice   float64

	IsDeleted bool `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderItem) TableName() string {
	return "order_items"
}
