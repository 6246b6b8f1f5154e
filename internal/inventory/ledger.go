package inventory

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
)

// ErrUnknownProduct is returned by a StockStore when the product row is missing.
var ErrUnknownProduct = errors.New("unknown product")

// StockStore performs the conditional decrement. Implementations must apply
// it as one atomic step: decrement only if available >= qty. available is the
// quantity left after a successful decrement, or the current quantity when
// ok is false.
type StockStore interface {
	DecrementStock(ctx context.Context, productID string, qty int) (available int, ok bool, err error)
}

type Line struct {
	ProductID string
	Name      string
	Quantity  int
}

type Ledger struct {
	store StockStore
}

func NewLedger(store StockStore) *Ledger {
	return &Ledger{store: store}
}

// Reserve takes qty units of productID out of stock.
func (l *Ledger) Reserve(ctx context.Context, productID string, qty int) error {
	if qty < 1 {
		return apperr.Validation(map[string]string{"quantity": "must be at least 1"})
	}
	available, ok, err := l.store.DecrementStock(ctx, productID, qty)
	if errors.Is(err, ErrUnknownProduct) {
		return apperr.New(apperr.CodeNotFound, "product %s not found", productID)
	}
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.CodeInsufficientStock, "only %d units available", available)
	}
	return nil
}

// ReserveAll reserves every line in product id order and stops at the first
// failure. Callers run it inside a transaction so earlier decrements roll back
// with it. The fixed order keeps two checkouts sharing products from locking
// the same rows in opposite order.
func (l *Ledger) ReserveAll(ctx context.Context, lines []Line) error {
	lines = slices.Clone(lines)
	slices.SortStableFunc(lines, func(a, b Line) int { return cmp.Compare(a.ProductID, b.ProductID) })
	for _, ln := range lines {
		if err := l.Reserve(ctx, ln.ProductID, ln.Quantity); err != nil {
			var ae *apperr.Error
			if errors.As(err, &ae) && ae.Code == apperr.CodeInsufficientStock && ln.Name != "" {
				ae.Message = ln.Name + ": " + ae.Message
			}
			return err
		}
	}
	return nil
}
