package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/intake-service/internal/domain"
)

// AccountRepository reads the internal account directory.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	GetByNationalID(ctx context.Context, nationalID string) (*domain.Account, error)
	SetPhone(ctx context.Context, id, phone string) error
}

type accountRepository struct {
	db DBTX
}

// NewAccountRepository returns a Postgres-backed implementation.
func NewAccountRepository(db DBTX) AccountRepository {
	return &accountRepository{db: db}
}

const accountColumns = `id, name, email, national_id, phone, password_hash, role, created_at, updated_at`

func (r *accountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	return r.fetchSingle(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id)
}

func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	return r.fetchSingle(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email)=lower($1)`, email)
}

func (r *accountRepository) GetByNationalID(ctx context.Context, nationalID string) (*domain.Account, error) {
	return r.fetchSingle(ctx, `SELECT `+accountColumns+` FROM accounts WHERE national_id=$1`, nationalID)
}

func (r *accountRepository) SetPhone(ctx context.Context, id, phone string) error {
	const query = `UPDATE accounts SET phone=$1, updated_at=NOW() WHERE id=$2`
	cmd, err := r.db.Exec(ctx, query, phone, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *accountRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Account, error) {
	var account domain.Account
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.NationalID,
		&account.Phone,
		&account.PasswordHash,
		&account.Role,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &account, nil
}
