package wallet

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

// PostgresStore keeps wallets in PostgreSQL. Key material is stored as given;
// deployments holding real funds should point the registry at a KMS-backed
// store instead.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const createWalletsSQL = `
CREATE TABLE IF NOT EXISTS wallets (
    address TEXT PRIMARY KEY,
    public_key TEXT NOT NULL,
    private_key TEXT NOT NULL,
    mnemonic TEXT NOT NULL DEFAULT '',
    balances JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);
`

// NewPostgresStore ensures the wallets table exists on the given pool.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, createWalletsSQL); err != nil {
		return nil, fmt.Errorf("create wallets table: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, address string) (*models.Wallet, error) {
	return scanWallet(p.pool.QueryRow(ctx, `
SELECT address, public_key, private_key, mnemonic, balances, created_at
FROM wallets
WHERE address = $1
`, NormalizeAddress(address)))
}

func (p *PostgresStore) Put(ctx context.Context, w *models.Wallet) error {
	balances, err := json.Marshal(w.Balances)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
INSERT INTO wallets (address, public_key, private_key, mnemonic, balances, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
`, NormalizeAddress(w.Address), w.PublicKey, w.PrivateKey, w.Mnemonic, balances, w.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrWalletExists
	}
	return err
}

func (p *PostgresStore) Update(ctx context.Context, address string, fn func(*models.Wallet) error) (bool, error) {
	address = NormalizeAddress(address)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	w, err := scanWallet(tx.QueryRow(ctx, `
SELECT address, public_key, private_key, mnemonic, balances, created_at
FROM wallets
WHERE address = $1
FOR UPDATE
`, address))
	if err != nil {
		return false, err
	}
	if w == nil {
		return false, nil
	}
	if err := fn(w); err != nil {
		return true, err
	}

	balances, err := json.Marshal(w.Balances)
	if err != nil {
		return true, err
	}
	if _, err := tx.Exec(ctx, `UPDATE wallets SET balances = $1 WHERE address = $2`, balances, address); err != nil {
		return true, err
	}
	return true, tx.Commit(ctx)
}

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var (
		w        models.Wallet
		balances []byte
	)
	if err := row.Scan(&w.Address, &w.PublicKey, &w.PrivateKey, &w.Mnemonic, &balances, &w.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(balances, &w.Balances); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return &w, nil
}
