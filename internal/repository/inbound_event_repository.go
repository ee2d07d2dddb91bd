package repository

import "context"

// InboundEventRepository records processed channel message tokens.
type InboundEventRepository interface {
	Claim(ctx context.Context, token, address string) (bool, error)
}

type inboundEventRepository struct {
	db DBTX
}

// NewInboundEventRepository builds repository.
func NewInboundEventRepository(db DBTX) InboundEventRepository {
	return &inboundEventRepository{db: db}
}

// Claim marks token as processed. It reports false when the token was already
// claimed, in which case the caller must not apply side effects again.
func (r *inboundEventRepository) Claim(ctx context.Context, token, address string) (bool, error) {
	const query = `
        INSERT INTO inbound_events (token, address) VALUES ($1,$2)
        ON CONFLICT (token) DO NOTHING`
	cmd, err := r.db.Exec(ctx, query, token, address)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}
