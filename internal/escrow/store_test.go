package escrow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lancerpay/internal/models"
)

func TestMemoryStoreVersionCheck(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, &models.EscrowContract{ID: "e1", Amount: "10", Status: models.EscrowActive}))
	assert.ErrorIs(t, s.Create(ctx, &models.EscrowContract{ID: "e1"}), ErrDuplicate)

	a, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	b, err := s.Get(ctx, "e1")
	require.NoError(t, err)

	a.Status = models.EscrowDisputed
	require.NoError(t, s.Update(ctx, a))
	assert.Equal(t, int64(1), a.Version)

	b.Status = models.EscrowCancelled
	assert.ErrorIs(t, s.Update(ctx, b), ErrVersionConflict)

	got, err := s.Get(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowDisputed, got.Status)

	_, err = s.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, &models.EscrowContract{ID: "nope"}), ErrNotFound)
}

func TestMemoryStoreIsolatesMilestones(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	c := &models.EscrowContract{ID: "e2", Milestones: []models.Milestone{{ID: "m1", Amount: "1"}}}
	require.NoError(t, s.Create(ctx, c))

	c.Milestones[0].Approved = true
	got, _ := s.Get(ctx, "e2")
	assert.False(t, got.Milestones[0].Approved)
}
