package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
	"github.com/ariefcatur/go-restaurant-backend/internal/pricing"
)

type Item struct {
	ProductID  string          `json:"product_id"`
	Name       string          `json:"name"`
	Image      string          `json:"image,omitempty"`
	Quantity   int             `json:"quantity"`
	PriceAtAdd decimal.Decimal `json:"price_at_add"`
}

type Cart struct {
	ID         string          `json:"id,omitempty"`
	UserID     string          `json:"user_id"`
	Items      []Item          `json:"items"`
	TotalPrice decimal.Decimal `json:"total_price"`
	UpdatedAt  time.Time       `json:"updated_at,omitempty"`
}

type Product struct {
	ID              string
	Name            string
	Image           string
	Price           decimal.Decimal
	DiscountedPrice decimal.NullDecimal
	Quantity        int
}

func (p Product) EffectivePrice() decimal.Decimal {
	var disc *decimal.Decimal
	if p.DiscountedPrice.Valid {
		disc = &p.DiscountedPrice.Decimal
	}
	return pricing.EffectiveUnitPrice(p.Price, disc)
}

type Store interface {
	// Product returns nil when the product does not exist.
	Product(ctx context.Context, id string) (*Product, error)
	// Cart returns nil when the user has no cart yet.
	Cart(ctx context.Context, userID string) (*Cart, error)
	EnsureCart(ctx context.Context, userID string) (string, error)
	SetItem(ctx context.Context, cartID, productID string, qty int, priceAtAdd decimal.Decimal) error
	DeleteItem(ctx context.Context, cartID, productID string) error
	ClearItems(ctx context.Context, userID string) error
}

// Service manages the per-user cart checkout reads from. Stock checks here
// are advisory; checkout re-checks with the atomic decrement.
type Service struct {
	Store Store
	Log   zerolog.Logger
}

func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	c, err := s.Store.Cart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c = &Cart{UserID: userID, Items: []Item{}}
	}
	c.TotalPrice = Total(c.Items)
	return c, nil
}

// Total is Σ priceAtAdd × quantity.
func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.PriceAtAdd.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return sum
}

func find(c *Cart, productID string) *Item {
	if c == nil {
		return nil
	}
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return &c.Items[i]
		}
	}
	return nil
}

func (s *Service) product(ctx context.Context, id string) (*Product, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Validation(map[string]string{"product_id": "invalid product"})
	}
	p, err := s.Store.Product(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, apperr.New(apperr.CodeNotFound, "product not found")
	}
	return p, nil
}

// AddItem merges quantity into the user's line for the product, creating
// the cart on first use, and re-snapshots the unit price.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, apperr.Validation(map[string]string{"quantity": "must be at least 1"})
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	c, err := s.Store.Cart(ctx, userID)
	if err != nil {
		return nil, err
	}

	newQty := qty
	if existing := find(c, productID); existing != nil {
		if existing.Quantity+qty > p.Quantity {
			return nil, apperr.New(apperr.CodeInsufficientStock, "only %d more units available", max(p.Quantity-existing.Quantity, 0))
		}
		newQty = existing.Quantity + qty
	} else if qty > p.Quantity {
		return nil, apperr.New(apperr.CodeInsufficientStock, "only %d units available", p.Quantity)
	}

	cartID, err := s.Store.EnsureCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.Store.SetItem(ctx, cartID, productID, newQty, p.EffectivePrice()); err != nil {
		return nil, err
	}
	s.Log.Debug().Str("user_id", userID).Str("product_id", productID).Int("quantity", newQty).Msg("cart updated")
	return s.Get(ctx, userID)
}

func (s *Service) UpdateQuantity(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if qty < 1 {
		return nil, apperr.Validation(map[string]string{"quantity": "must be at least 1"})
	}
	c, err := s.Store.Cart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.ErrCartNotFound
	}
	item := find(c, productID)
	if item == nil {
		return nil, apperr.New(apperr.CodeNotFound, "product not in cart")
	}
	p, err := s.product(ctx, productID)
	if err != nil {
		return nil, err
	}
	if qty > p.Quantity {
		return nil, apperr.New(apperr.CodeInsufficientStock, "only %d units available", p.Quantity)
	}
	if err := s.Store.SetItem(ctx, c.ID, productID, qty, item.PriceAtAdd); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	c, err := s.Store.Cart(ctx, userID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, apperr.ErrCartNotFound
	}
	if err := s.Store.DeleteItem(ctx, c.ID, productID); err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func (s *Service) Clear(ctx context.Context, userID string) error {
	return s.Store.ClearItems(ctx, userID)
}
