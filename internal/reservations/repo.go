package reservations

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-restaurant-backend/internal/apperr"
)

// exclusion_violation, raised by reservations_no_overlap.
const sqlStateExclusion = "23P01"

type Repo struct{ DB *pgxpool.Pool }

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

func (t *pgTx) LockTable(ctx context.Context, tableID string) (bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `SELECT id FROM restaurant_tables WHERE id = $1 FOR UPDATE`, tableID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (t *pgTx) BookingsOnTable(ctx context.Context, tableID string, window Interval) ([]Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, status, start_time, end_time FROM reservations
		WHERE table_id = $1 AND start_time < $3 AND end_time > $2
		  AND status = ANY($4)`,
		tableID, window.Start, window.End, blockingNames())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Booking
	for rows.Next() {
		var b Booking
		var st string
		if err := rows.Scan(&b.ID, &st, &b.Interval.Start, &b.Interval.End); err != nil {
			return nil, err
		}
		b.Status = Status(st)
		out = append(out, b)
	}
	return out, rows.Err()
}

func (t *pgTx) InsertReservation(ctx context.Context, r *Reservation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO reservations(id, table_id, user_id, name, phone, notes, start_time, end_time, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		r.ID, r.TableID, r.UserID, r.Name, r.Phone, r.Notes, r.StartTime, r.EndTime, string(r.Status), r.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == sqlStateExclusion {
		return apperr.ErrSlotUnavailable
	}
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	for _, e := range r.AuditLog {
		if err := insertAudit(ctx, t.tx, r.ID, e); err != nil {
			return err
		}
	}
	return nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, id string, e AuditEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO reservation_audit_log(reservation_id, action, actor_id, at)
		VALUES ($1,$2,$3,$4)`, id, e.Action, e.By, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func blockingNames() []string {
	out := make([]string, len(BlockingStatuses))
	for i, s := range BlockingStatuses {
		out[i] = string(s)
	}
	return out
}

const reservationColumns = `id, table_id, user_id, name, phone, notes, start_time, end_time, status, created_at, updated_at`

func scanReservation(row pgx.Row) (Reservation, error) {
	var r Reservation
	var st string
	err := row.Scan(&r.ID, &r.TableID, &r.UserID, &r.Name, &r.Phone, &r.Notes,
		&r.StartTime, &r.EndTime, &st, &r.CreatedAt, &r.UpdatedAt)
	r.Status = Status(st)
	return r, err
}

func (r *Repo) GetReservation(ctx context.Context, id string) (*Reservation, error) {
	res, err := scanReservation(r.DB.QueryRow(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.CodeNotFound, "reservation not found")
	}
	if err != nil {
		return nil, err
	}
	list := []Reservation{res}
	if err := r.loadAudit(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (r *Repo) ListByUser(ctx context.Context, userID string) ([]Reservation, error) {
	return r.list(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE user_id = $1 ORDER BY start_time`, userID)
}

func (r *Repo) ListAll(ctx context.Context) ([]Reservation, error) {
	return r.list(ctx, `SELECT `+reservationColumns+` FROM reservations ORDER BY start_time`)
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]Reservation, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Reservation{}
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, r.loadAudit(ctx, out)
}

func (r *Repo) loadAudit(ctx context.Context, list []Reservation) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]string, len(list))
	byID := make(map[string]*Reservation, len(list))
	for i := range list {
		ids[i] = list[i].ID
		byID[list[i].ID] = &list[i]
		list[i].AuditLog = []AuditEntry{}
	}

	rows, err := r.DB.Query(ctx, `
		SELECT reservation_id, action, actor_id, at FROM reservation_audit_log
		WHERE reservation_id::text = ANY($1) ORDER BY reservation_id, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var rid string
		var e AuditEntry
		if err := rows.Scan(&rid, &e.Action, &e.By, &e.Timestamp); err != nil {
			return err
		}
		byID[rid].AuditLog = append(byID[rid].AuditLog, e)
	}
	return rows.Err()
}

func (r *Repo) Transition(ctx context.Context, id string, from, to Status, e AuditEntry) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		UPDATE reservations SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2`, id, string(from), string(to), e.Timestamp)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return apperr.New(apperr.CodeInvalidTransition, "reservation status changed concurrently, no longer %s", from)
	}
	if err := insertAudit(ctx, tx, id, e); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
