package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"p2precon/internal/database"
	"p2precon/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// OrderRepo is the persisted order store. Upserts replace business fields only;
// reconciliation columns change through UpdateReconciliation alone.
type OrderRepo struct {
	db  *database.DB
	now func() time.Time
}

func NewOrderRepo(db *database.DB) *OrderRepo {
	return &OrderRepo{db: db, now: time.Now}
}

const orderColumns = `id, order_id, side, status, token_id, price, notify_token_quantity, target_nickname,
	create_date, seller_real_name, buyer_real_name, amount, reconciled, reconciled_by, reconciled_at, notes`

// Upsert writes orders keyed by order_id inside one transaction.
func (r *OrderRepo) Upsert(ctx context.Context, orders []model.Order, source model.Source) (err error) {
	if len(orders) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, r.db.Rebind(`
		INSERT INTO orders (`+orderColumns+`, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_id) DO UPDATE SET
			side = excluded.side,
			status = excluded.status,
			token_id = excluded.token_id,
			price = excluded.price,
			notify_token_quantity = excluded.notify_token_quantity,
			target_nickname = excluded.target_nickname,
			create_date = excluded.create_date,
			seller_real_name = excluded.seller_real_name,
			buyer_real_name = excluded.buyer_real_name,
			amount = excluded.amount,
			source = excluded.source,
			updated_at = excluded.updated_at`))
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	updatedAt := model.FormatTime(r.now())
	for _, o := range orders {
		_, err = stmt.ExecContext(ctx,
			o.ID, o.OrderID, string(o.Side), o.Status, o.TokenID, o.Price, o.NotifyTokenQuantity, o.TargetNickname,
			o.CreateDate, o.SellerRealName, o.BuyerRealName, o.Amount,
			o.Reconciled, nullString(o.ReconciledBy), nullTime(o.ReconciledAt), nullString(o.Notes),
			string(source), updatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert order %s: %w", o.OrderID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// List returns every stored order, newest first.
func (r *OrderRepo) List(ctx context.Context) ([]model.Order, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY create_date DESC`)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return orders, nil
}

// Get looks an order up by id or by order_id.
func (r *OrderRepo) Get(ctx context.Context, id string) (model.Order, error) {
	row := r.db.QueryRowContext(ctx, r.db.Rebind(`SELECT `+orderColumns+` FROM orders WHERE id = ? OR order_id = ? LIMIT 1`), id, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

func (r *OrderRepo) UpdateReconciliation(ctx context.Context, id string, ov model.Override) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE orders SET reconciled = ?, reconciled_by = ?, reconciled_at = ?, notes = ?, updated_at = ?
		WHERE id = ?`),
		ov.Reconciled, nullString(ov.ReconciledBy), nullTime(ov.ReconciledAt), nullString(ov.Notes),
		model.FormatTime(r.now()), id,
	)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *OrderRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (model.Order, error) {
	var (
		o     model.Order
		side  string
		by    sql.NullString
		at    sql.NullString
		notes sql.NullString
	)
	err := s.Scan(&o.ID, &o.OrderID, &side, &o.Status, &o.TokenID, &o.Price, &o.NotifyTokenQuantity, &o.TargetNickname,
		&o.CreateDate, &o.SellerRealName, &o.BuyerRealName, &o.Amount, &o.Reconciled, &by, &at, &notes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Order{}, err
		}
		return model.Order{}, fmt.Errorf("scan order: %w", err)
	}

	o.Side = model.Side(side)
	if by.Valid {
		o.ReconciledBy = &by.String
	}
	if at.Valid {
		if t, err := time.Parse(time.RFC3339Nano, at.String); err == nil {
			o.ReconciledAt = &t
		}
	}
	if notes.Valid {
		o.Notes = &notes.String
	}
	if !o.Reconciled {
		o.ReconciledBy, o.ReconciledAt = nil, nil
	}
	return o, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339Nano), Valid: true}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") || strings.Contains(msg, "UNIQUE constraint failed")
}
