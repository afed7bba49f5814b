package network

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lancerpay/internal/models"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestSim() (*SimClient, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewSimClient(2 * time.Second)
	c.Now = clock.now
	return c, clock
}

func TestEstimateGas(t *testing.T) {
	c, _ := newTestSim()
	ctx := context.Background()

	gas, err := c.EstimateGas(ctx, CallMsg{From: "0xa", To: "0xb", Value: "1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(21000), gas)

	gas, err = c.EstimateGas(ctx, CallMsg{From: "0xa", To: "0xb", Value: "1", Data: []byte{0x01}})
	require.NoError(t, err)
	assert.Equal(t, uint64(66000), gas)
}

func TestBalanceUnknownToken(t *testing.T) {
	c, _ := newTestSim()
	ctx := context.Background()

	bal, err := c.Balance(ctx, "0xabc", "DOGE")
	require.NoError(t, err)
	assert.Equal(t, "0.0", bal)

	bal, err = c.Balance(ctx, "0xabc", "")
	require.NoError(t, err)
	assert.Equal(t, "1000.0", bal)
}

func TestReceiptLifecycle(t *testing.T) {
	c, clock := newTestSim()
	ctx := context.Background()

	rec, err := c.TransactionReceipt(ctx, "0xunknown")
	require.NoError(t, err)
	assert.Nil(t, rec)

	rec, err = c.TransactionReceipt(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, rec)

	tx := &models.TransactionRecord{Hash: NewTxHash("a", "b"), From: "0xa", To: "0xb", Value: "1"}
	require.NoError(t, c.Submit(ctx, tx))
	assert.Equal(t, models.TxPending, tx.Status)
	assert.Equal(t, uint64(1_700_000_000), tx.BlockNumber)

	got, err := c.TransactionReceipt(ctx, tx.Hash)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.TxPending, got.Status)

	clock.advance(3 * time.Second)
	got, err = c.TransactionReceipt(ctx, tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.TxConfirmed, got.Status)

	head, _ := c.BlockNumber(ctx)
	assert.Equal(t, 4, Confirmations(got, head))
}

func TestSubmitRejectsDuplicates(t *testing.T) {
	c, _ := newTestSim()
	ctx := context.Background()

	tx := &models.TransactionRecord{Hash: "0x01"}
	require.NoError(t, c.Submit(ctx, tx))
	assert.ErrorIs(t, c.Submit(ctx, &models.TransactionRecord{Hash: "0x01"}), ErrDuplicateTx)
	assert.ErrorIs(t, c.Submit(ctx, &models.TransactionRecord{}), ErrMissingHash)
}

func TestWaitForConfirmation(t *testing.T) {
	c := NewSimClient(0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tx := &models.TransactionRecord{Hash: NewTxHash("x")}
	require.NoError(t, c.Submit(ctx, tx))

	rec, err := WaitForConfirmation(ctx, c, tx.Hash, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, models.TxConfirmed, rec.Status)
}

func TestWaitForConfirmationHonoursContext(t *testing.T) {
	c := NewSimClient(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	tx := &models.TransactionRecord{Hash: NewTxHash("y")}
	require.NoError(t, c.Submit(context.Background(), tx))

	_, err := WaitForConfirmation(ctx, c, tx.Hash, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHashesAreUniqueAndAddressesDeterministic(t *testing.T) {
	assert.NotEqual(t, NewTxHash("same"), NewTxHash("same"))
	assert.Len(t, NewTxHash("same"), 66)
	assert.Equal(t, DeriveAddress("escrow", "1"), DeriveAddress("escrow", "1"))
	assert.Len(t, DeriveAddress("escrow", "1"), 42)
}
