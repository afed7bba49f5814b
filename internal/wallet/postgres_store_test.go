package wallet

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"lancerpay/internal/models"
)

func TestPostgresStoreLifecycle(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store, err := NewPostgresStore(ctx, pool)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	w := &models.Wallet{
		Address:    "0x" + uuid.NewString(),
		PublicKey:  "0x04ab",
		PrivateKey: "0xkey",
		Balances:   map[string]string{models.TokenBLS: "0.0"},
		CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
	}
	if err := store.Put(ctx, w); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Put(ctx, w); !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}

	found, err := store.Update(ctx, w.Address, func(cur *models.Wallet) error {
		cur.Balances[models.TokenBLS] = "42.5"
		return nil
	})
	if err != nil || !found {
		t.Fatalf("update: found=%v err=%v", found, err)
	}

	got, err := store.Get(ctx, w.Address)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Balances[models.TokenBLS] != "42.5" || got.PrivateKey != "0xkey" {
		t.Fatalf("unexpected wallet: %#v", got)
	}

	found, err = store.Update(ctx, "0xmissing", func(*models.Wallet) error { return nil })
	if err != nil || found {
		t.Fatalf("missing wallet: found=%v err=%v", found, err)
	}
	missing, err := store.Get(ctx, "0xmissing")
	if err != nil || missing != nil {
		t.Fatalf("expected nil, nil for unknown wallet, got %v, %v", missing, err)
	}
}
