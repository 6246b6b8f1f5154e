package cart

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Product(ctx context.Context, id string) (*Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `
		SELECT id, name, image, price, discounted_price, quantity FROM products WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Image, &p.Price, &p.DiscountedPrice, &p.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repo) Cart(ctx context.Context, userID string) (*Cart, error) {
	c := Cart{UserID: userID, Items: []Item{}}
	err := r.DB.QueryRow(ctx, `SELECT id, updated_at FROM carts WHERE user_id = $1`, userID).Scan(&c.ID, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.DB.Query(ctx, `
		SELECT ci.product_id, p.name, p.image, ci.quantity, ci.price_at_add
		FROM cart_items ci JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY ci.created_at, ci.product_id`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Image, &it.Quantity, &it.PriceAtAdd); err != nil {
			return nil, err
		}
		c.Items = append(c.Items, it)
	}
	return &c, rows.Err()
}

func (r *Repo) EnsureCart(ctx context.Context, userID string) (string, error) {
	var id string
	err := r.DB.QueryRow(ctx, `
		INSERT INTO carts(user_id) VALUES ($1)
		ON CONFLICT (user_id) DO UPDATE SET updated_at = now()
		RETURNING id`, userID).Scan(&id)
	return id, err
}

// SetItem upserts the line; (cart_id, product_id) is the primary key, so a
// product appears at most once per cart.
func (r *Repo) SetItem(ctx context.Context, cartID, productID string, qty int, priceAtAdd decimal.Decimal) error {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO cart_items(cart_id, product_id, quantity, price_at_add)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (cart_id, product_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, price_at_add = EXCLUDED.price_at_add`,
		cartID, productID, qty, priceAtAdd.String())
	return err
}

func (r *Repo) DeleteItem(ctx context.Context, cartID, productID string) error {
	_, err := r.DB.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1 AND product_id::text = $2`, cartID, productID)
	return err
}

func (r *Repo) ClearItems(ctx context.Context, userID string) error {
	_, err := r.DB.Exec(ctx, `
		DELETE FROM cart_items WHERE cart_id IN (SELECT id FROM carts WHERE user_id = $1)`, userID)
	return err
}
