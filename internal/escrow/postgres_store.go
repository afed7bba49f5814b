package escrow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"lancerpay/internal/models"
)

// PostgresStore keeps escrow contracts in PostgreSQL with milestones as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createEscrowsSQL = `
CREATE TABLE IF NOT EXISTS escrows (
    id TEXT PRIMARY KEY,
    address TEXT NOT NULL,
    client_address TEXT NOT NULL,
    freelancer_address TEXT NOT NULL,
    amount NUMERIC NOT NULL,
    released NUMERIC NOT NULL DEFAULT 0,
    token TEXT NOT NULL,
    project_id TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    deadline BIGINT NOT NULL,
    status TEXT NOT NULL,
    milestones JSONB NOT NULL,
    dispute_reason TEXT NOT NULL DEFAULT '',
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    version BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS escrows_project_idx ON escrows (project_id);
`

const selectEscrowSQL = `
SELECT id, address, client_address, freelancer_address, amount::TEXT, released::TEXT, token,
       project_id, description, deadline, status, milestones, dispute_reason, created_at, updated_at, version
FROM escrows
WHERE id = $1
`

// NewPostgresStore ensures the escrows table exists on the given pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, createEscrowsSQL); err != nil {
		return nil, fmt.Errorf("create escrows table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Create(ctx context.Context, c *models.EscrowContract) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO escrows (id, address, client_address, freelancer_address, amount, released, token, project_id,
                     description, deadline, status, milestones, dispute_reason, created_at, updated_at, version)
VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
`, c.ID, c.Address, c.ClientAddress, c.FreelancerAddress, c.Amount, releasedOrZero(c.Released), c.Token, c.ProjectID,
		c.Description, c.Deadline, string(c.Status), milestones, c.DisputeReason, c.CreatedAt, c.UpdatedAt, c.Version)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*models.EscrowContract, error) {
	var (
		c          models.EscrowContract
		status     string
		milestones []byte
	)
	err := p.pool.QueryRow(ctx, selectEscrowSQL, id).Scan(
		&c.ID, &c.Address, &c.ClientAddress, &c.FreelancerAddress, &c.Amount, &c.Released, &c.Token,
		&c.ProjectID, &c.Description, &c.Deadline, &status, &milestones, &c.DisputeReason,
		&c.CreatedAt, &c.UpdatedAt, &c.Version,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = models.EscrowStatus(status)
	if err := json.Unmarshal(milestones, &c.Milestones); err != nil {
		return nil, fmt.Errorf("decode milestones: %w", err)
	}
	return &c, nil
}

// Update writes c only if the row still carries c.Version.
func (p *PostgresStore) Update(ctx context.Context, c *models.EscrowContract) error {
	milestones, err := json.Marshal(c.Milestones)
	if err != nil {
		return err
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE escrows
SET released = $1::NUMERIC, status = $2, milestones = $3, dispute_reason = $4, updated_at = $5, version = version + 1
WHERE id = $6 AND version = $7
`, releasedOrZero(c.Released), string(c.Status), milestones, c.DisputeReason, c.UpdatedAt, c.ID, c.Version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := p.Get(ctx, c.ID); err != nil {
			return err
		}
		return ErrVersionConflict
	}
	c.Version++
	return nil
}

func releasedOrZero(v string) string {
	if v == "" {
		return "0"
	}
	return v
}
