package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AdminRepo answers privileged-role checks against the single admins table.
// The storefront used to consult several overlapping collections for this;
// the admins table is the one authoritative source here.
type AdminRepo struct{ DB *pgxpool.Pool }

func (r *AdminRepo) IsAdmin(ctx context.Context, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	var id string
	err := r.DB.QueryRow(ctx, `
		SELECT id FROM admins WHERE api_token=$1 AND active`, token).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
