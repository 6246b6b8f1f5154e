package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCOD  PaymentMethod = "cod"
	PaymentCard PaymentMethod = "card"
)

func (m PaymentMethod) Valid() bool { return m == PaymentCOD || m == PaymentCard }

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

type ShippingAddress struct {
	FullName     string `json:"full_name" validate:"required,max=120"`
	AddressLine1 string `json:"address_line1" validate:"required,max=200"`
	AddressLine2 string `json:"address_line2,omitempty" validate:"max=200"`
	City         string `json:"city" validate:"required,max=100"`
	State        string `json:"state,omitempty" validate:"max=100"`
	PostalCode   string `json:"postal_code" validate:"required,max=20"`
	Country      string `json:"country" validate:"required,max=60"`
	Phone        string `json:"phone" validate:"required,min=5,max=20"`
}

// LineItem is the immutable snapshot of a cart line taken at checkout.
type LineItem struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Image        string          `json:"image,omitempty"`
	Quantity     int             `json:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order"`
}

type StatusEntry struct {
	Status    Status    `json:"status"`
	ChangedBy string    `json:"changed_by"`
	ChangedAt time.Time `json:"changed_at"`
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Items            []LineItem      `json:"items"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Tax              decimal.Decimal `json:"tax"`
	DeliveryFee      decimal.Decimal `json:"delivery_fee"`
	Total            decimal.Decimal `json:"total"`
	ShippingMethodID string          `json:"shipping_method_id"`
	ShippingAddress  ShippingAddress `json:"shipping_address"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentRef       string          `json:"payment_ref,omitempty"`
	OrderStatus      Status          `json:"order_status"`
	StatusHistory    []StatusEntry   `json:"status_history"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// CartLine is a cart line joined with the current product row.
type CartLine struct {
	ProductID       string
	Name            string
	Image           string
	Quantity        int
	Price           decimal.Decimal
	DiscountedPrice decimal.NullDecimal
}

type Cart struct {
	ID    string
	Lines []CartLine
}

type ShippingMethod struct {
	ID       string
	Name     string
	Fee      decimal.Decimal
	IsActive bool
}

// StatusView is the small document kept in the status cache.
type StatusView struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
