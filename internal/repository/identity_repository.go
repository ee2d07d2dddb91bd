package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/intake-service/internal/domain"
	apperrors "github.com/spec-kit/intake-service/pkg/util/errorutil"
)

// IdentityRepository persists conversational identities.
type IdentityRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByAddress(ctx context.Context, address string) (*domain.Identity, error)
	Create(ctx context.Context, identity *domain.Identity) error
	FindOrCreate(ctx context.Context, address, displayName string) (*domain.Identity, bool, error)
	LockByID(ctx context.Context, id string) (*domain.Identity, error)
	Update(ctx context.Context, identity *domain.Identity) error
}

type identityRepository struct {
	db DBTX
}

// NewIdentityRepository builds repository.
func NewIdentityRepository(db DBTX) IdentityRepository {
	return &identityRepository{db: db}
}

const identityColumns = `id, address, display_name, account_id, capability, profile_tag, national_id,
               contact_email, dialog_state, scratch, created_at, updated_at`

func (r *identityRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.fetchSingle(ctx, `SELECT `+identityColumns+` FROM identities WHERE id=$1`, id)
}

func (r *identityRepository) GetByAddress(ctx context.Context, address string) (*domain.Identity, error) {
	return r.fetchSingle(ctx, `SELECT `+identityColumns+` FROM identities WHERE address=$1`, address)
}

// LockByID loads the identity and holds a row lock until the surrounding
// transaction ends.
func (r *identityRepository) LockByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.fetchSingle(ctx, `SELECT `+identityColumns+` FROM identities WHERE id=$1 FOR UPDATE`, id)
}

func (r *identityRepository) Create(ctx context.Context, identity *domain.Identity) error {
	if err := identity.Scratch.Validate(identity.State); err != nil {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	scratch, err := json.Marshal(identity.Scratch)
	if err != nil {
		return fmt.Errorf("encode scratch: %w", err)
	}
	const query = `
        INSERT INTO identities (address, display_name, account_id, capability, profile_tag, national_id,
            contact_email, dialog_state, scratch)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        RETURNING id, created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		identity.Address,
		identity.DisplayName,
		identity.AccountID,
		identity.Capability,
		stringPtr(identity.ProfileTag),
		identity.NationalID,
		identity.ContactEmail,
		identity.State,
		scratch,
	).Scan(&identity.ID, &identity.CreatedAt, &identity.UpdatedAt)
}

// IdentityCreator is the part of an identity store FindOrCreateIdentity needs.
type IdentityCreator interface {
	GetByAddress(ctx context.Context, address string) (*domain.Identity, error)
	Create(ctx context.Context, identity *domain.Identity) error
}

// FindOrCreateIdentity returns the identity for address, creating a guest
// identity on first contact. A concurrent creator losing the unique race
// re-reads the winner's row. The bool reports whether this call created the row.
func FindOrCreateIdentity(ctx context.Context, store IdentityCreator, address, displayName string) (*domain.Identity, bool, error) {
	identity, err := store.GetByAddress(ctx, address)
	if err == nil {
		return identity, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	identity = domain.NewGuestIdentity(address, displayName)
	if err := store.Create(ctx, identity); err != nil {
		if apperrors.IsUniqueViolation(err) {
			existing, fetchErr := store.GetByAddress(ctx, address)
			if fetchErr != nil {
				return nil, false, fetchErr
			}
			return existing, false, nil
		}
		return nil, false, err
	}
	return identity, true, nil
}

func (r *identityRepository) FindOrCreate(ctx context.Context, address, displayName string) (*domain.Identity, bool, error) {
	return FindOrCreateIdentity(ctx, r, address, displayName)
}

func (r *identityRepository) Update(ctx context.Context, identity *domain.Identity) error {
	if err := identity.Scratch.Validate(identity.State); err != nil {
		return apperrors.NewValidationError(err.Error(), map[string]any{"identity_id": identity.ID})
	}
	scratch, err := json.Marshal(identity.Scratch)
	if err != nil {
		return fmt.Errorf("encode scratch: %w", err)
	}
	const query = `
        UPDATE identities SET display_name=$1, account_id=$2, capability=$3, profile_tag=$4, national_id=$5,
            contact_email=$6, dialog_state=$7, scratch=$8, updated_at=NOW()
        WHERE id=$9
        RETURNING updated_at`
	err = r.db.QueryRow(ctx, query,
		identity.DisplayName,
		identity.AccountID,
		identity.Capability,
		stringPtr(identity.ProfileTag),
		identity.NationalID,
		identity.ContactEmail,
		identity.State,
		scratch,
		identity.ID,
	).Scan(&identity.UpdatedAt)
	return err
}

func (r *identityRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Identity, error) {
	var (
		identity   domain.Identity
		profileTag *string
		scratch    []byte
	)
	if err := r.db.QueryRow(ctx, query, arg).Scan(
		&identity.ID,
		&identity.Address,
		&identity.DisplayName,
		&identity.AccountID,
		&identity.Capability,
		&profileTag,
		&identity.NationalID,
		&identity.ContactEmail,
		&identity.State,
		&scratch,
		&identity.CreatedAt,
		&identity.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if profileTag != nil {
		tag := domain.ProfileTag(*profileTag)
		identity.ProfileTag = &tag
	}
	if len(scratch) > 0 {
		if err := json.Unmarshal(scratch, &identity.Scratch); err != nil {
			return nil, fmt.Errorf("decode scratch for identity %s: %w", identity.ID, err)
		}
	}
	return &identity, nil
}
