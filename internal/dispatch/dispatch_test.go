package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lancerpay/internal/escrow"
	"lancerpay/internal/models"
	"lancerpay/internal/network"
	"lancerpay/internal/payment"
)

func newDispatcher(duration time.Duration) (*Dispatcher, *escrow.Engine) {
	sim := network.NewSimClient(0)
	engine := escrow.NewEngine(escrow.NewMemoryStore(), sim, nil, zap.NewNop())
	d := New(payment.NewProcessor(sim, zap.NewNop()), engine, duration, "Freelancer payment")
	return d, engine
}

func intent() models.PaymentIntent {
	return models.PaymentIntent{
		RequestID:   "req-1",
		Amount:      "250",
		TokenSymbol: models.TokenBLS,
		FromAddress: "0xclient",
		ToAddress:   "0xfreelancer",
	}
}

func TestRouteDirect(t *testing.T) {
	d, _ := newDispatcher(0)
	resp := d.Route(context.Background(), intent())
	require.True(t, resp.Success, resp.Error)
	assert.Empty(t, resp.EscrowID)
	assert.Equal(t, resp.TransactionID, resp.BlessHash)
	assert.Equal(t, "21000", resp.GasUsed)
}

func TestRouteEscrowOnFreelancerID(t *testing.T) {
	d, engine := newDispatcher(0)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	in := intent()
	in.Metadata.FreelancerID = "fl-7"
	resp := d.Route(context.Background(), in)
	require.True(t, resp.Success, resp.Error)
	require.NotEmpty(t, resp.EscrowID)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Empty(t, resp.NetworkFee)

	c, err := engine.GetEscrow(context.Background(), resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "0xclient", c.ClientAddress)
	assert.Equal(t, "0xfreelancer", c.FreelancerAddress)
	assert.Equal(t, "Freelancer payment", c.Description)
	assert.Equal(t, "project_1777593600000", c.ProjectID)
	assert.Equal(t, fixed.Add(DefaultEscrowDuration).UnixMilli(), c.Deadline)
}

func TestEscrowRequestHonoursMetadata(t *testing.T) {
	d, _ := newDispatcher(7 * 24 * time.Hour)
	fixed := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	in := intent()
	in.Metadata.EscrowType = models.EscrowTypeMilestone
	req := d.EscrowRequest(in)
	assert.Equal(t, fixed.Add(7*24*time.Hour).UnixMilli(), req.DeadlineTimestamp)

	deadline := fixed.Add(time.Hour).UnixMilli()
	in.Metadata.DeadlineTimestamp = &deadline
	in.Metadata.ProjectID = "proj-9"
	in.Description = "Logo design"
	req = d.EscrowRequest(in)
	assert.Equal(t, deadline, req.DeadlineTimestamp)
	assert.Equal(t, "proj-9", req.ProjectID)
	assert.Equal(t, "Logo design", req.Description)
}

func TestRouteEscrowFailureIsReported(t *testing.T) {
	d, _ := newDispatcher(0)
	in := intent()
	in.Metadata.EscrowType = models.EscrowTypeFull
	in.TokenSymbol = "DOGE"

	resp := d.Route(context.Background(), in)
	assert.False(t, resp.Success)
	assert.Equal(t, "Unsupported token: DOGE", resp.Error)
	assert.NotZero(t, resp.Timestamp)
}
