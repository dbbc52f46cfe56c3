package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("order not found")

type Repo struct{ DB *pgxpool.Pool }

// Create persists the order and its items in one transaction.
func (r *Repo) Create(ctx context.Context, o *Order, items []Item) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var addr []byte
	if o.Address != nil {
		addr, err = json.Marshal(o.Address)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, delivery_type, payment_method, status,
		                   total_cents, address, external_ref, expires_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
	`, o.ID, o.CustomerID, o.DeliveryType, o.PaymentMethod, o.Status,
		o.TotalCents, addr, o.ExternalRef, o.ExpiresAt, o.CreatedAt)
	if err != nil {
		return err
	}

	for _, it := range items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, name, unit_price_cents, qty, image_url, item_type)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			it.ID, o.ID, it.Name, it.UnitPriceCents, it.Qty, it.ImageURL, it.Type,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Order, []Item, error) {
	var (
		o    Order
		addr []byte
	)
	err := r.DB.QueryRow(ctx, `
		SELECT id, customer_id, delivery_type, payment_method, status, total_cents,
		       address, COALESCE(cancel_reason,''), external_ref, COALESCE(payment_id,''),
		       expires_at, created_at, updated_at
		FROM orders WHERE id=$1
	`, id).Scan(&o.ID, &o.CustomerID, &o.DeliveryType, &o.PaymentMethod, &o.Status,
		&o.TotalCents, &addr, &o.CancelReason, &o.ExternalRef, &o.PaymentID,
		&o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if len(addr) > 0 {
		var a Address
		if err := json.Unmarshal(addr, &a); err != nil {
			return nil, nil, err
		}
		o.Address = &a
	}

	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, name, unit_price_cents, qty,
		       COALESCE(image_url,''), COALESCE(item_type,'')
		FROM order_items WHERE order_id=$1
	`, id)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.Name, &it.UnitPriceCents,
			&it.Qty, &it.ImageURL, &it.Type); err != nil {
			return nil, nil, err
		}
		items = append(items, it)
	}
	return &o, items, rows.Err()
}

func (r *Repo) GetStatus(ctx context.Context, id string) (Status, time.Time, error) {
	var (
		s  string
		at time.Time
	)
	err := r.DB.QueryRow(ctx, `SELECT status, updated_at FROM orders WHERE id=$1`, id).Scan(&s, &at)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", time.Time{}, err
	}
	return Status(s), at, nil
}

// TransitionFrom is a compare-and-set on status: the row is updated only if
// its current status still equals from. Returns false when the guard missed,
// which is how stale or replayed events become no-ops. Leaving the
// pending-payment state also drops the expiry so the invariant
// "expires_at set iff awaiting online payment" holds.
func (r *Repo) TransitionFrom(ctx context.Context, id string, from, to Status, reason string, now time.Time) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders
		SET status=$3, cancel_reason=NULLIF($4,''), expires_at=NULL, updated_at=$5
		WHERE id=$1 AND status=$2
	`, id, from, to, reason, now)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// SetStatus is the unguarded admin write. It owns only status, cancel_reason
// and updated_at.
func (r *Repo) SetStatus(ctx context.Context, id string, to Status, reason string, now time.Time) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2, cancel_reason=NULLIF($3,''), expires_at=NULL, updated_at=$4
		WHERE id=$1
	`, id, to, reason, now)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetPaymentID records the provider payment id once known. Never overwrites
// an existing value.
func (r *Repo) SetPaymentID(ctx context.Context, id, paymentID string) error {
	_, err := r.DB.Exec(ctx, `
		UPDATE orders SET payment_id=$2 WHERE id=$1 AND payment_id IS NULL
	`, id, paymentID)
	return err
}

// SweepExpired cancels every order still awaiting payment past its expiry in
// a single statement, so a crash leaves no half-swept batch behind. Returns
// the ids it cancelled.
func (r *Repo) SweepExpired(ctx context.Context, now time.Time, reason string) ([]string, error) {
	rows, err := r.DB.Query(ctx, `
		UPDATE orders
		SET status=$1, cancel_reason=$2, expires_at=NULL, updated_at=$3
		WHERE status=$4 AND expires_at IS NOT NULL AND expires_at <= $3
		RETURNING id
	`, StatusCancelled, reason, now, StatusAwaitingPayment)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
