package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
	"github.com/ariefcatur/go-restaurant-backend/internal/inventory"
)

// Repo stores orders in Postgres. Money goes in as decimal strings and
// comes back through decimal's sql.Scanner.
type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *Repo) InTx(ctx context.Context, fn func(Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

type pgTx struct{ tx pgx.Tx }

// DecrementStock is a single conditional update, so two concurrent
// checkouts cannot both take the last unit.
func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) (int, bool, error) {
	var left int
	err := t.tx.QueryRow(ctx, `
		UPDATE products SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2
		RETURNING quantity`, productID, qty).Scan(&left)
	if err == nil {
		return left, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, err
	}

	var have int
	err = t.tx.QueryRow(ctx, `SELECT quantity FROM products WHERE id = $1`, productID).Scan(&have)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, inventory.ErrUnknownProduct
	}
	if err != nil {
		return 0, false, err
	}
	return have, false, nil
}

func (t *pgTx) LoadCart(ctx context.Context, userID string) (*Cart, error) {
	var c Cart
	err := t.tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := t.tx.Query(ctx, `
		SELECT p.id, p.name, p.image, ci.quantity, p.price, p.discounted_price
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = $1
		ORDER BY p.id`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ProductID, &l.Name, &l.Image, &l.Quantity, &l.Price, &l.DiscountedPrice); err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, l)
	}
	return &c, rows.Err()
}

func (t *pgTx) GetShippingMethod(ctx context.Context, id string) (*ShippingMethod, error) {
	var m ShippingMethod
	err := t.tx.QueryRow(ctx, `SELECT id, name, fee, is_active FROM shipping_methods WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.Fee, &m.IsActive)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	a := o.ShippingAddress
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, user_id, subtotal, tax, delivery_fee, total, shipping_method_id,
			ship_full_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
			payment_method, payment_status, order_status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$19)`,
		o.ID, o.UserID, o.Subtotal.String(), o.Tax.String(), o.DeliveryFee.String(), o.Total.String(), o.ShippingMethodID,
		a.FullName, a.AddressLine1, a.AddressLine2, a.City, a.State, a.PostalCode, a.Country, a.Phone,
		string(o.PaymentMethod), string(o.PaymentStatus), string(o.OrderStatus), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i, it := range o.Items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, name, image, quantity, price_at_order)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			o.ID, i, it.ProductID, it.Name, it.Image, it.Quantity, it.PriceAtOrder.String()); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	for _, h := range o.StatusHistory {
		if err := insertHistory(ctx, t.tx, o.ID, h); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) ClearCart(ctx context.Context, cartID string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
	return err
}

func insertHistory(ctx context.Context, q querier, orderID string, h StatusEntry) error {
	_, err := q.Exec(ctx, `
		INSERT INTO order_status_history(order_id, status, changed_by, changed_at)
		VALUES ($1,$2,$3,$4)`, orderID, string(h.Status), h.ChangedBy, h.ChangedAt)
	if err != nil {
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

const orderColumns = `id, user_id, subtotal, tax, delivery_fee, total, shipping_method_id,
	ship_full_name, ship_line1, ship_line2, ship_city, ship_state, ship_postal_code, ship_country, ship_phone,
	payment_method, payment_status, payment_ref, order_status, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var pm, ps, st string
	a := &o.ShippingAddress
	err := row.Scan(&o.ID, &o.UserID, &o.Subtotal, &o.Tax, &o.DeliveryFee, &o.Total, &o.ShippingMethodID,
		&a.FullName, &a.AddressLine1, &a.AddressLine2, &a.City, &a.State, &a.PostalCode, &a.Country, &a.Phone,
		&pm, &ps, &o.PaymentRef, &st, &o.CreatedAt, &o.UpdatedAt)
	o.PaymentMethod, o.PaymentStatus, o.OrderStatus = PaymentMethod(pm), PaymentStatus(ps), Status(st)
	return o, err
}

func (r *Repo) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "order not found")
	}
	if err != nil {
		return nil, err
	}
	list := []Order{o}
	if err := r.loadDetails(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r *Repo) ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
}

func (r *Repo) ListOrders(ctx context.Context) ([]Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at DESC`)
}

func (r *Repo) listOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, r.loadDetails(ctx, out)
}

// loadDetails fills items and history for a batch of orders with two queries.
func (r *Repo) loadDetails(ctx context.Context, list []Order) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[string]*Order, len(list))
	for i := range list {
		ids[i] = list[i].ID
		byID[list[i].ID] = &list[i]
		list[i].Items = []LineItem{}
		list[i].StatusHistory = []StatusEntry{}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT order_id, product_id, name, image, quantity, price_at_order
		FROM order_items WHERE order_id::text = ANY($1) ORDER BY order_id, position`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var oid string
		var it LineItem
		if err := rows.Scan(&oid, &it.ProductID, &it.Name, &it.Image, &it.Quantity, &it.PriceAtOrder); err != nil {
			rows.Close()
			return err
		}
		byID[oid].Items = append(byID[oid].Items, it)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.DB.Query(ctx, `
		SELECT order_id, status, changed_by, changed_at
		FROM order_status_history WHERE order_id::text = ANY($1) ORDER BY order_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var oid, st string
		var h StatusEntry
		if err := rows.Scan(&oid, &st, &h.ChangedBy, &h.ChangedAt); err != nil {
			return err
		}
		h.Status = Status(st)
		byID[oid].StatusHistory = append(byID[oid].StatusHistory, h)
	}
	return rows.Err()
}

func (r *Repo) TransitionStatus(ctx context.Context, id string, from Status, e StatusEntry) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE orders SET order_status = $3, updated_at = $4
		WHERE id = $1 AND order_status = $2`, id, string(from), string(e.Status), e.ChangedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.CodeInvalidTransition, "order status changed concurrently, no longer %s", from)
	}
	if err := insertHistory(ctx, tx, id, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repo) SetPaymentRef(ctx context.Context, id, ref string) error {
	_, err := r.DB.Exec(ctx, `UPDATE orders SET payment_ref = $2, updated_at = $3 WHERE id = $1`, id, ref, time.Now().UTC())
	return err
}

func (r *Repo) SetPaymentStatus(ctx context.Context, id string, st PaymentStatus) error {
	_, err := r.DB.Exec(ctx, `UPDATE orders SET payment_status = $2, updated_at = $3 WHERE id = $1`, id, string(st), time.Now().UTC())
	return err
}

func (r *Repo) MarkPaid(ctx context.Context, id, userID string) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_status = 'paid', updated_at = now()
		WHERE id = $1 AND user_id = $2 AND payment_status <> 'paid'`, id, userID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	err = r.DB.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1 AND user_id = $2)`, id, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, apperr.New(apperr.CodeNotFound, "order not found")
	}
	return false, nil
}
