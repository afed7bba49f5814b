package escrow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lancerpay/internal/apperr"
	"lancerpay/internal/events"
	"lancerpay/internal/models"
	"lancerpay/internal/network"
	"lancerpay/internal/network/mocks"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine   *Engine
	sim      *network.SimClient
	recorder *events.Recorder
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{now: start, recorder: &events.Recorder{}}
	h.sim = network.NewSimClient(time.Second)
	h.sim.Now = func() time.Time { return h.now }
	h.engine = NewEngine(NewMemoryStore(), h.sim, h.recorder, zap.NewNop())
	h.engine.now = func() time.Time { return h.now }
	return h
}

func milestoneRequest() CreateEscrowRequest {
	return CreateEscrowRequest{
		ClientAddress:     "0xclient",
		FreelancerAddress: "0xfreelancer",
		Amount:            "2000",
		TokenSymbol:       models.TokenUSDC,
		ProjectID:         "proj-1",
		Description:       "Website build",
		DeadlineTimestamp: start.Add(30 * 24 * time.Hour).UnixMilli(),
		Milestones: []MilestoneRequest{
			{ID: "m1", Amount: "500", Deliverables: []string{"wireframes"}},
			{ID: "m2", Amount: "1500"},
		},
	}
}

func TestMilestoneLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success, resp.Error)
	assert.Regexp(t, `^escrow_[0-9a-f-]{36}$`, resp.EscrowID)
	assert.NotEmpty(t, resp.ContractAddress)
	assert.NotEmpty(t, resp.TransactionID)
	assert.Equal(t, milestoneRequest().DeadlineTimestamp, resp.EstimatedReleaseDate)

	status, err := h.engine.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowActive, status.Status)
	assert.Equal(t, "2000", status.Balance)
	require.Len(t, status.Milestones, 2)
	assert.Equal(t, milestoneRequest().DeadlineTimestamp, status.Milestones[1].Deadline)

	tx, err := h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "500", tx.Value)
	assert.Equal(t, "65000", tx.GasUsed)
	assert.Equal(t, "0xfreelancer", tx.To)
	assert.Equal(t, resp.ContractAddress, tx.From)
	assert.Equal(t, models.TxEscrow, tx.Type)
	assert.Equal(t, models.TxPending, tx.Status)

	status, err = h.engine.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowActive, status.Status)
	assert.Equal(t, "1500", status.Balance)
	assert.True(t, status.Milestones[0].Approved)
	assert.NotNil(t, status.Milestones[0].ApprovedAt)
	assert.False(t, status.Milestones[1].Approved)

	_, err = h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m2")
	require.NoError(t, err)

	status, err = h.engine.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowCompleted, status.Status)
	assert.Equal(t, "0", status.Balance)

	assert.Equal(t, []string{
		events.EventEscrowCreated,
		events.EventMilestoneReleased,
		events.EventMilestoneReleased,
		events.EventEscrowReleased,
	}, h.recorder.Types())
}

func TestReleaseMilestoneTwiceEmitsNoTransaction(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Config").Return(network.DefaultConfig())
	client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(66000), nil)
	client.On("GasPrice", mock.Anything).Return(nil, errors.New("no price"))
	client.On("Submit", mock.Anything, mock.Anything).Return(nil).Times(2)

	engine := NewEngine(NewMemoryStore(), client, nil, zap.NewNop())
	ctx := context.Background()

	resp := engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success, resp.Error)

	tx, err := engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.NoError(t, err)
	assert.Equal(t, "20000000000", tx.GasPrice)

	_, err = engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlreadyReleased)
	assert.Equal(t, apperr.CodeAlreadyReleased, apperr.CodeOf(err))

	status, err := engine.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "1500", status.Balance)
	client.AssertNumberOfCalls(t, "Submit", 2)
}

func TestUnknownIDs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ReleaseEscrow(ctx, "escrow_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.EqualError(t, err, "Escrow contract not found")

	_, err = h.engine.GetEscrowStatus(ctx, "escrow_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)

	_, err = h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m9")
	assert.ErrorIs(t, err, ErrMilestoneNotFound)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, apperr.CodeNotFound, apperr.CodeOf(err))

	_, err = h.engine.ReleaseMilestone(ctx, "escrow_missing", "m1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReleaseEscrowPaysRemainder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)
	_, err := h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.NoError(t, err)

	tx, err := h.engine.ReleaseEscrow(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "1500", tx.Value)
	assert.Equal(t, "75000", tx.GasUsed)

	c, err := h.engine.GetEscrow(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowCompleted, c.Status)
	assert.True(t, c.Milestones[1].Approved)
	assert.True(t, c.Balance().IsZero())

	_, err = h.engine.ReleaseEscrow(ctx, resp.EscrowID)
	assert.ErrorIs(t, err, ErrNotActive)
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))
}

func TestReleaseEscrowWithoutMilestones(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := milestoneRequest()
	req.Milestones = nil
	resp := h.engine.CreateEscrow(ctx, req)
	require.True(t, resp.Success, resp.Error)

	tx, err := h.engine.ReleaseEscrow(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "2000", tx.Value)

	h.now = h.now.Add(2 * time.Second)
	rec, err := h.sim.TransactionReceipt(ctx, tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, models.TxConfirmed, rec.Status)
}

func TestCreateEscrowValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateEscrowRequest)
		want   string
	}{
		{"missing client", func(r *CreateEscrowRequest) { r.ClientAddress = "" }, "ClientAddress"},
		{"missing deadline", func(r *CreateEscrowRequest) { r.DeadlineTimestamp = 0 }, "DeadlineTimestamp"},
		{"duplicate milestone ids", func(r *CreateEscrowRequest) { r.Milestones[1].ID = "m1" }, "Milestones"},
		{"zero amount", func(r *CreateEscrowRequest) { r.Amount = "0"; r.Milestones = nil }, "Invalid amount"},
		{"unsupported token", func(r *CreateEscrowRequest) { r.TokenSymbol = "XRP" }, "Unsupported token: XRP"},
		{"milestones short", func(r *CreateEscrowRequest) { r.Milestones[1].Amount = "1000" }, "sum to 1500"},
		{"milestones negative", func(r *CreateEscrowRequest) { r.Milestones[0].Amount = "-5" }, "milestone m1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := milestoneRequest()
			tc.mutate(&req)
			resp := h.engine.CreateEscrow(ctx, req)
			assert.False(t, resp.Success)
			assert.Contains(t, resp.Error, tc.want)
			assert.Equal(t, apperr.CodeValidation, resp.ErrorCode)
			assert.Empty(t, resp.EscrowID)
		})
	}
	assert.Empty(t, h.recorder.Types())
}

func TestCreateEscrowSubmitFailure(t *testing.T) {
	client := mocks.NewClient(t)
	client.On("Config").Return(network.DefaultConfig())
	client.On("EstimateGas", mock.Anything, mock.Anything).Return(uint64(66000), nil)
	client.On("GasPrice", mock.Anything).Return(nil, nil)
	client.On("Submit", mock.Anything, mock.Anything).Return(network.ErrReadOnly)

	resp := NewEngine(NewMemoryStore(), client, nil, zap.NewNop()).CreateEscrow(context.Background(), milestoneRequest())
	assert.False(t, resp.Success)
	assert.Equal(t, apperr.CodeUpstream, resp.ErrorCode)
	assert.Contains(t, resp.Error, "read-only")
}

func TestSubmitMilestone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)

	h.now = h.now.Add(time.Hour)
	m, err := h.engine.SubmitMilestone(ctx, resp.EscrowID, "m1", []string{"https://example.com/design.pdf"})
	require.NoError(t, err)
	assert.True(t, m.Completed)
	assert.False(t, m.Approved)
	require.NotNil(t, m.SubmittedAt)
	assert.Equal(t, h.now.UnixMilli(), *m.SubmittedAt)
	assert.Equal(t, []string{"wireframes", "https://example.com/design.pdf"}, m.Deliverables)

	status, _ := h.engine.GetEscrowStatus(ctx, resp.EscrowID)
	assert.Equal(t, "2000", status.Balance)

	_, err = h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.NoError(t, err)
	_, err = h.engine.SubmitMilestone(ctx, resp.EscrowID, "m1", nil)
	assert.ErrorIs(t, err, ErrAlreadyReleased)
}

func TestDisputeBlocksRelease(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)

	_, err := h.engine.DisputeEscrow(ctx, resp.EscrowID, "")
	assert.Equal(t, apperr.CodeValidation, apperr.CodeOf(err))

	c, err := h.engine.DisputeEscrow(ctx, resp.EscrowID, "work not delivered")
	require.NoError(t, err)
	assert.Equal(t, models.EscrowDisputed, c.Status)
	assert.Equal(t, "work not delivered", c.DisputeReason)

	_, err = h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = h.engine.ReleaseEscrow(ctx, resp.EscrowID)
	assert.ErrorIs(t, err, ErrNotActive)
	_, err = h.engine.DisputeEscrow(ctx, resp.EscrowID, "again")
	assert.ErrorIs(t, err, ErrNotActive)
}

func TestCancelEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)
	tx, err := h.engine.CancelEscrow(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "0xclient", tx.To)
	assert.Equal(t, "2000", tx.Value)
	c, _ := h.engine.GetEscrow(ctx, resp.EscrowID)
	assert.Equal(t, models.EscrowCancelled, c.Status)

	resp = h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)
	_, err = h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.NoError(t, err)
	_, err = h.engine.CancelEscrow(ctx, resp.EscrowID)
	assert.ErrorIs(t, err, ErrPartiallyReleased)

	resp = h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)
	h.now = h.now.Add(31 * 24 * time.Hour)
	_, err = h.engine.CancelEscrow(ctx, resp.EscrowID)
	assert.ErrorIs(t, err, ErrDeadlinePassed)
	assert.Equal(t, apperr.CodeInvalidTransition, apperr.CodeOf(err))
}

func TestConcurrentMilestoneReleasePaysOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	resp := h.engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		released  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.ReleaseMilestone(ctx, resp.EscrowID, "m2")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrAlreadyReleased):
				released++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, workers-1, released)
	status, err := h.engine.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "500", status.Balance)
}

// barrierStore releases Gets of one escrow in rounds of `parties`, so
// separate engines load the same version at every step.
type barrierStore struct {
	Store
	id      string
	parties int

	mu      sync.Mutex
	arrived int
	rounds  map[int]chan struct{}
}

func (b *barrierStore) Get(ctx context.Context, id string) (*models.EscrowContract, error) {
	c, err := b.Store.Get(ctx, id)
	if id != b.id || err != nil {
		return c, err
	}
	b.mu.Lock()
	round := b.arrived / b.parties
	b.arrived++
	ch, ok := b.rounds[round]
	if !ok {
		ch = make(chan struct{})
		b.rounds[round] = ch
	}
	if b.arrived%b.parties == 0 {
		close(ch)
	}
	b.mu.Unlock()
	<-ch
	return c, err
}

type countingClient struct {
	*network.SimClient
	mu      sync.Mutex
	submits map[string]int
	fail    bool
}

func (c *countingClient) Submit(ctx context.Context, tx *models.TransactionRecord) error {
	c.mu.Lock()
	c.submits[tx.To+"/"+tx.Value]++
	fail := c.fail
	c.mu.Unlock()
	if fail {
		return network.ErrReadOnly
	}
	return c.SimClient.Submit(ctx, tx)
}

func (c *countingClient) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.submits {
		n += v
	}
	return n
}

func TestMilestoneReleaseAcrossEnginesPaysOnce(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	client := &countingClient{SimClient: network.NewSimClient(0), submits: map[string]int{}}

	creator := NewEngine(shared, client, nil, zap.NewNop())
	resp := creator.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success, resp.Error)
	funding := client.total()

	store := &barrierStore{Store: shared, id: resp.EscrowID, parties: 2, rounds: map[int]chan struct{}{}}
	a := NewEngine(store, client, nil, zap.NewNop())
	b := NewEngine(store, client, nil, zap.NewNop())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, eng := range []*Engine{a, b} {
		wg.Add(1)
		go func(i int, eng *Engine) {
			defer wg.Done()
			_, errs[i] = eng.ReleaseMilestone(ctx, resp.EscrowID, "m1")
		}(i, eng)
	}
	wg.Wait()

	ok, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrVersionConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok, "errs=%v", errs)
	assert.Equal(t, 1, conflicts, "errs=%v", errs)
	assert.Equal(t, 1, client.total()-funding, "m1 must reach the ledger once")

	status, err := creator.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, "1500", status.Balance)
}

func TestFailedSubmitRestoresEscrow(t *testing.T) {
	ctx := context.Background()
	client := &countingClient{SimClient: network.NewSimClient(0), submits: map[string]int{}}
	engine := NewEngine(NewMemoryStore(), client, nil, zap.NewNop())
	resp := engine.CreateEscrow(ctx, milestoneRequest())
	require.True(t, resp.Success, resp.Error)

	client.fail = true
	_, err := engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	assert.Equal(t, apperr.CodeUpstream, apperr.CodeOf(err))
	_, err = engine.ReleaseEscrow(ctx, resp.EscrowID)
	assert.Equal(t, apperr.CodeUpstream, apperr.CodeOf(err))

	status, err := engine.GetEscrowStatus(ctx, resp.EscrowID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowActive, status.Status)
	assert.Equal(t, "2000", status.Balance)
	assert.False(t, status.Milestones[0].Approved)

	client.fail = false
	_, err = engine.ReleaseMilestone(ctx, resp.EscrowID, "m1")
	require.NoError(t, err)
}

func TestUnknownEscrowLeavesNoLock(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.engine.ReleaseEscrow(ctx, "escrow_ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.engine.CancelEscrow(ctx, "escrow_ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = h.engine.SubmitMilestone(ctx, "escrow_ghost", "m1", []string{"x"})
	assert.ErrorIs(t, err, ErrNotFound)

	entries := 0
	h.engine.locks.Range(func(_, _ any) bool {
		entries++
		return true
	})
	assert.Zero(t, entries)
}
