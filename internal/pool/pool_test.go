package pool_test

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammpool-backend/internal/asset"
	"ammpool-backend/internal/pool"
)

var (
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000fa")
	poolAddr    = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	lp          = common.HexToAddress("0x0000000000000000000000000000000000000001")
	trader      = common.HexToAddress("0x0000000000000000000000000000000000000002")
	voterA      = common.HexToAddress("0x0000000000000000000000000000000000000003")
	voterB      = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func amounts(vs ...uint64) []*uint256.Int {
	out := make([]*uint256.Int, len(vs))
	for i, v := range vs {
		out[i] = u(v)
	}
	return out
}

type fixture struct {
	pool   *pool.Pool
	ledger *asset.Ledger
	clock  *fakeClock
	events []pool.Event
}

func (f *fixture) eventTypes() []pool.EventType {
	out := make([]pool.EventType, len(f.events))
	for i, ev := range f.events {
		out[i] = ev.Type
	}
	return out
}

// newFixture returns an initialized two-option pool with fee 50 bps,
// threshold 1000 and weight 1000 per option. lp, trader and both voters are
// funded with 10000 and have approved the pool for all of it.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{clock: &fakeClock{t: start}}
	f.ledger = asset.NewLedger("USDX", nil)
	for _, a := range []common.Address{lp, trader, voterA, voterB} {
		require.NoError(t, f.ledger.Mint(a, u(10000)))
		f.ledger.Approve(a, poolAddr, u(10000))
	}

	f.pool = pool.New(pool.Config{
		ID:      1,
		Address: poolAddr,
		Clock:   f.clock.Now,
		Sink: pool.SinkFunc(func(_ context.Context, ev pool.Event) error {
			f.events = append(f.events, ev)
			return nil
		}),
	})
	err := f.pool.Initialize(context.Background(), pool.InitParams{
		Factory:     factoryAddr,
		Asset:       f.ledger,
		Description: "Who wins the final?",
		EndTime:     start.Add(24 * time.Hour),
		Options: []pool.OptionParams{
			{Description: "Home", Weight: u(1000)},
			{Description: "Away", Weight: u(1000)},
		},
		FeeRate:             50,
		ResolutionThreshold: u(1000),
	})
	require.NoError(t, err)
	return f
}

func reserves(p *pool.Pool) []uint64 {
	opts := p.Options()
	out := make([]uint64, len(opts))
	for i, o := range opts {
		out[i] = o.Reserve.Uint64()
	}
	return out
}

func TestExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(100, 100)))
	assert.Equal(t, []uint64{100, 100}, reserves(f.pool))
	assert.Equal(t, uint64(200), f.pool.Summary().TotalLiquidity.Uint64())
	assert.Equal(t, uint64(200), f.ledger.BalanceOf(poolAddr).Uint64())

	require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(10), true))
	executed, err := f.pool.ProcessBatch(ctx, []common.Address{trader}, []int{0})
	require.NoError(t, err)
	require.Len(t, executed, 1)
	assert.Equal(t, uint64(913), executed[0].Price.Uint64())

	// k = 100*1000, price = 100000/110 * 10050/10000 = 913
	assert.Equal(t, uint64(10000-913), f.ledger.BalanceOf(trader).Uint64())
	assert.Equal(t, []uint64{110, 100}, reserves(f.pool))
	assert.True(t, f.pool.PendingTrade(trader, 0, true).IsZero())

	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 0))
	sum := f.pool.Summary()
	assert.Equal(t, 0, sum.WinningOption)
	assert.Equal(t, f.clock.Now().Add(pool.DefaultDisputeWindow), sum.DisputeEndTime)
	assert.Equal(t, pool.StateResolved, f.pool.State())

	f.clock.Advance(pool.DefaultDisputeWindow + time.Second)
	assert.Equal(t, pool.StateFinalized, f.pool.State())

	require.NoError(t, f.pool.RemoveLiquidity(ctx, lp, amounts(100, 100)))
	assert.Equal(t, []uint64{10, 0}, reserves(f.pool))
	assert.Equal(t, uint64(9900), f.ledger.BalanceOf(lp).Uint64())
	assert.Equal(t, uint64(100), f.pool.Summary().TotalLiquidity.Uint64())

	assert.Equal(t, []pool.EventType{
		pool.EventLiquidityAdded,
		pool.EventTradeQueued,
		pool.EventTradeExecuted,
		pool.EventBatchProcessed,
		pool.EventPoolResolved,
		pool.EventLiquidityRemoved,
	}, f.eventTypes())
	for i, ev := range f.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, uint64(1), ev.PoolID)
		assert.NotEmpty(t, ev.ID)
	}

	var removed pool.LiquidityRemovedData
	require.NoError(t, json.Unmarshal(f.events[5].Data, &removed))
	assert.Equal(t, "100", removed.Payout)
	assert.Equal(t, []string{"100", "100"}, removed.Amounts)
}

func TestInitialize_Validation(t *testing.T) {
	ledger := asset.NewLedger("USDX", nil)
	valid := func() pool.InitParams {
		return pool.InitParams{
			Factory: factoryAddr,
			Asset:   ledger,
			EndTime: start.Add(time.Hour),
			Options: []pool.OptionParams{
				{Description: "A", Weight: u(1)},
				{Description: "B", Weight: u(1)},
			},
			FeeRate:             1000,
			ResolutionThreshold: u(1),
		}
	}

	tests := []struct {
		name   string
		mutate func(*pool.InitParams)
		want   error
	}{
		{"no factory", func(p *pool.InitParams) { p.Factory = common.Address{} }, pool.ErrInvalidFactory},
		{"no asset", func(p *pool.InitParams) { p.Asset = nil }, pool.ErrInvalidAsset},
		{"one option", func(p *pool.InitParams) { p.Options = p.Options[:1] }, pool.ErrInvalidOptionCount},
		{"fee too high", func(p *pool.InitParams) { p.FeeRate = 1001 }, pool.ErrInvalidFeeRate},
		{"zero threshold", func(p *pool.InitParams) { p.ResolutionThreshold = u(0) }, pool.ErrInvalidThreshold},
		{"nil threshold", func(p *pool.InitParams) { p.ResolutionThreshold = nil }, pool.ErrInvalidThreshold},
		{"end in past", func(p *pool.InitParams) { p.EndTime = start }, pool.ErrInvalidEndTime},
		{"zero weight", func(p *pool.InitParams) { p.Options[1].Weight = u(0) }, pool.ErrInvalidWeight},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := valid()
			tt.mutate(&params)
			p := pool.New(pool.Config{Address: poolAddr, Clock: func() time.Time { return start }})

			err := p.Initialize(context.Background(), params)
			require.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, pool.ErrValidation)
			assert.Equal(t, pool.StateUninitialized, p.State())
		})
	}

	t.Run("exactly once", func(t *testing.T) {
		p := pool.New(pool.Config{Address: poolAddr, Clock: func() time.Time { return start }})
		require.NoError(t, p.Initialize(context.Background(), valid()))
		err := p.Initialize(context.Background(), valid())
		assert.ErrorIs(t, err, pool.ErrAlreadyInitialized)
		assert.ErrorIs(t, err, pool.ErrLifecycle)
	})
}

func TestOperationsRequireInitialize(t *testing.T) {
	p := pool.New(pool.Config{Address: poolAddr})
	ctx := context.Background()

	assert.ErrorIs(t, p.AddLiquidity(ctx, lp, amounts(1, 1)), pool.ErrNotInitialized)
	assert.ErrorIs(t, p.QueueTrade(ctx, trader, 0, u(1), true), pool.ErrNotInitialized)
	_, err := p.ProcessBatch(ctx, nil, nil)
	assert.ErrorIs(t, err, pool.ErrNotInitialized)
	assert.ErrorIs(t, p.Resolve(ctx, factoryAddr, 0), pool.ErrNotInitialized)
	assert.ErrorIs(t, p.SubmitDisputeVote(ctx, voterA, u(1)), pool.ErrNotInitialized)
}

func TestAddLiquidity(t *testing.T) {
	ctx := context.Background()

	t.Run("length mismatch", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.pool.AddLiquidity(ctx, lp, amounts(1, 2, 3)), pool.ErrLengthMismatch)
	})

	t.Run("zero total", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.pool.AddLiquidity(ctx, lp, amounts(0, 0)), pool.ErrZeroAmount)
	})

	t.Run("after end time", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24 * time.Hour)
		assert.ErrorIs(t, f.pool.AddLiquidity(ctx, lp, amounts(1, 1)), pool.ErrPoolEnded)
	})

	t.Run("accumulates positions", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(30, 0)))
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(20, 5)))

		pos := f.pool.Positions(lp)
		assert.Equal(t, uint64(50), pos[0].Uint64())
		assert.Equal(t, uint64(5), pos[1].Uint64())
		assert.Equal(t, uint64(55), f.pool.Summary().TotalLiquidity.Uint64())
	})

	t.Run("failed transfer leaves no trace", func(t *testing.T) {
		f := newFixture(t)
		f.ledger.Approve(lp, poolAddr, u(10))
		f.events = nil

		err := f.pool.AddLiquidity(ctx, lp, amounts(10, 1))
		require.ErrorIs(t, err, pool.ErrTransfer)
		assert.ErrorIs(t, err, asset.ErrInsufficientAllowance)

		assert.Equal(t, []uint64{0, 0}, reserves(f.pool))
		assert.True(t, f.pool.Summary().TotalLiquidity.IsZero())
		pos, err := f.pool.Position(lp, 0)
		require.NoError(t, err)
		assert.True(t, pos.IsZero())
		assert.Empty(t, f.events)
		assert.Equal(t, uint64(10000), f.ledger.BalanceOf(lp).Uint64())
	})
}

func TestRemoveLiquidity(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *fixture {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(100, 60)))
		return f
	}

	t.Run("before resolution", func(t *testing.T) {
		f := setup(t)
		assert.ErrorIs(t, f.pool.RemoveLiquidity(ctx, lp, amounts(1, 0)), pool.ErrNotResolved)
	})

	t.Run("exceeds position", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(24 * time.Hour)
		require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 1))

		err := f.pool.RemoveLiquidity(ctx, lp, amounts(10, 61))
		require.ErrorIs(t, err, pool.ErrInsufficientPosition)
		assert.ErrorIs(t, err, pool.ErrInsufficient)
		assert.Equal(t, []uint64{100, 60}, reserves(f.pool))
	})

	t.Run("unknown provider", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(24 * time.Hour)
		require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 1))
		assert.ErrorIs(t, f.pool.RemoveLiquidity(ctx, trader, amounts(1, 0)), pool.ErrInsufficientPosition)
	})

	t.Run("pays only the winning option", func(t *testing.T) {
		f := setup(t)
		f.clock.Advance(24 * time.Hour)
		require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 1))

		require.NoError(t, f.pool.RemoveLiquidity(ctx, lp, amounts(40, 25)))
		assert.Equal(t, uint64(10000-160+25), f.ledger.BalanceOf(lp).Uint64())
		assert.Equal(t, []uint64{60, 35}, reserves(f.pool))
		assert.Equal(t, uint64(160-25), f.pool.Summary().TotalLiquidity.Uint64())

		// losing option only: no transfer, position still shrinks
		require.NoError(t, f.pool.RemoveLiquidity(ctx, lp, amounts(60, 0)))
		assert.Equal(t, uint64(10000-160+25), f.ledger.BalanceOf(lp).Uint64())
		pos, err := f.pool.Position(lp, 0)
		require.NoError(t, err)
		assert.True(t, pos.IsZero())
	})
}

func TestQueueTrade_LastWriteWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.pool.QueueTrade(ctx, trader, 1, u(7), true))
	require.NoError(t, f.pool.QueueTrade(ctx, trader, 1, u(3), true))
	require.NoError(t, f.pool.QueueTrade(ctx, trader, 1, u(9), false))

	assert.Equal(t, uint64(3), f.pool.PendingTrade(trader, 1, true).Uint64())
	assert.Equal(t, uint64(9), f.pool.PendingTrade(trader, 1, false).Uint64())
	assert.True(t, f.pool.PendingTrade(trader, 0, true).IsZero())
}

func TestQueueTrade_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.pool.QueueTrade(ctx, trader, 2, u(1), true), pool.ErrInvalidOption)
	assert.ErrorIs(t, f.pool.QueueTrade(ctx, trader, -1, u(1), true), pool.ErrInvalidOption)
	assert.ErrorIs(t, f.pool.QueueTrade(ctx, trader, 0, u(0), true), pool.ErrZeroAmount)
	assert.ErrorIs(t, f.pool.QueueTrade(ctx, trader, 0, nil, true), pool.ErrZeroAmount)

	f.clock.Advance(24 * time.Hour)
	assert.ErrorIs(t, f.pool.QueueTrade(ctx, trader, 0, u(1), true), pool.ErrPoolEnded)
}

func TestProcessBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("buy and sell of one pair both execute", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(100, 100)))
		require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(10), true))
		require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(5), false))

		executed, err := f.pool.ProcessBatch(ctx, []common.Address{trader, trader}, []int{0, 0})
		require.NoError(t, err)
		require.Len(t, executed, 2, "repeated pair is a no-op")
		assert.Equal(t, pool.SideBuy, executed[0].Side)
		assert.Equal(t, pool.SideSell, executed[1].Side)
		assert.Equal(t, []uint64{105, 100}, reserves(f.pool))

		trades := f.pool.RecentTrades(10)
		require.Len(t, trades, 2)
		assert.Equal(t, pool.SideBuy, trades[0].Side)
		assert.Equal(t, pool.SideSell, trades[1].Side)
		assert.Equal(t, uint64(110), trades[0].ReserveAfter.Uint64())
		assert.Equal(t, uint64(105), trades[1].ReserveAfter.Uint64())

		// buy: 100000/110*1.005 = 913; sell: 110000/105*1.005 = 1052
		assert.Equal(t, uint64(913), trades[0].Price.Uint64())
		assert.Equal(t, uint64(1052), trades[1].Price.Uint64())
		assert.Equal(t, uint64(10000-913+1052), f.ledger.BalanceOf(trader).Uint64())
	})

	t.Run("empty pairs count zero", func(t *testing.T) {
		f := newFixture(t)
		executed, err := f.pool.ProcessBatch(ctx, []common.Address{trader}, []int{1})
		require.NoError(t, err)
		assert.Empty(t, executed)
	})

	t.Run("length mismatch", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.pool.ProcessBatch(ctx, []common.Address{trader}, nil)
		assert.ErrorIs(t, err, pool.ErrLengthMismatch)
	})

	t.Run("after resolution", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24 * time.Hour)
		require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 0))
		_, err := f.pool.ProcessBatch(ctx, nil, nil)
		assert.ErrorIs(t, err, pool.ErrAlreadyResolved)
	})

	t.Run("allowed after end time", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(100, 100)))
		require.NoError(t, f.pool.QueueTrade(ctx, trader, 1, u(1), true))
		f.clock.Advance(48 * time.Hour)

		executed, err := f.pool.ProcessBatch(ctx, []common.Address{trader}, []int{1})
		require.NoError(t, err)
		assert.Len(t, executed, 1)
	})

	t.Run("sell beyond reserve", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(10, 10)))
		require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(11), false))

		_, err := f.pool.ProcessBatch(ctx, []common.Address{trader}, []int{0})
		assert.ErrorIs(t, err, pool.ErrInsufficientReserve)
	})

	t.Run("sell emptying the reserve", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(10, 10)))
		require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(10), false))

		_, err := f.pool.ProcessBatch(ctx, []common.Address{trader}, []int{0})
		assert.ErrorIs(t, err, pool.ErrEmptyReserve)
	})

	t.Run("one failed transfer rolls back the batch", func(t *testing.T) {
		f := newFixture(t)
		broke := common.HexToAddress("0x00000000000000000000000000000000000000bb")
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(100, 100)))
		require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(10), true))
		require.NoError(t, f.pool.QueueTrade(ctx, broke, 1, u(10), true))
		f.events = nil

		_, err := f.pool.ProcessBatch(ctx, []common.Address{trader, broke}, []int{0, 1})
		require.ErrorIs(t, err, pool.ErrTransfer)

		assert.Equal(t, []uint64{100, 100}, reserves(f.pool))
		assert.Equal(t, uint64(10), f.pool.PendingTrade(trader, 0, true).Uint64())
		assert.Equal(t, uint64(10), f.pool.PendingTrade(broke, 1, true).Uint64())
		assert.Equal(t, uint64(10000), f.ledger.BalanceOf(trader).Uint64())
		assert.Empty(t, f.events)
		assert.Empty(t, f.pool.RecentTrades(10))
	})
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("before end time", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24*time.Hour - time.Second)
		assert.ErrorIs(t, f.pool.Resolve(ctx, factoryAddr, 0), pool.ErrPoolNotEnded)
	})

	t.Run("only the factory", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24 * time.Hour)
		err := f.pool.Resolve(ctx, lp, 0)
		require.ErrorIs(t, err, pool.ErrNotFactory)
		assert.ErrorIs(t, err, pool.ErrUnauthorized)
	})

	t.Run("option out of range", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24 * time.Hour)
		assert.ErrorIs(t, f.pool.Resolve(ctx, factoryAddr, 2), pool.ErrInvalidOption)
		assert.Equal(t, pool.StateOpen, f.pool.State())
	})

	t.Run("exactly once", func(t *testing.T) {
		f := newFixture(t)
		f.clock.Advance(24 * time.Hour)
		require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 1))
		assert.ErrorIs(t, f.pool.Resolve(ctx, factoryAddr, 0), pool.ErrAlreadyResolved)
		assert.Equal(t, 1, f.pool.Summary().WinningOption)
		assert.ErrorIs(t, f.pool.QueueTrade(ctx, trader, 0, u(1), true), pool.ErrAlreadyResolved)
	})
}

func TestDispute(t *testing.T) {
	ctx := context.Background()

	resolved := func(t *testing.T) *fixture {
		f := newFixture(t)
		require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(100, 100)))
		f.clock.Advance(24 * time.Hour)
		require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 0))
		return f
	}

	t.Run("before resolution", func(t *testing.T) {
		f := newFixture(t)
		assert.ErrorIs(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1)), pool.ErrNotResolved)
	})

	t.Run("threshold flips disputed", func(t *testing.T) {
		f := resolved(t)

		require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterA, u(400)))
		require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterA, u(200)))
		assert.False(t, f.pool.Summary().Disputed)
		assert.Equal(t, uint64(600), f.pool.DisputeVote(voterA).Uint64())

		require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterB, u(400)))
		assert.True(t, f.pool.Summary().Disputed)
		assert.Equal(t, pool.StateDisputed, f.pool.State())
		assert.Equal(t, uint64(1000), f.pool.TotalDisputeStake().Uint64())
		assert.Equal(t, uint64(200+1000), f.ledger.BalanceOf(poolAddr).Uint64())

		assert.ErrorIs(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1)), pool.ErrDisputed)
		assert.ErrorIs(t, f.pool.RemoveLiquidity(ctx, lp, amounts(1, 0)), pool.ErrDisputed)
	})

	t.Run("window closes", func(t *testing.T) {
		f := resolved(t)
		f.clock.Advance(pool.DefaultDisputeWindow)
		require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1)), "end time is inclusive")
		f.clock.Advance(time.Second)
		assert.ErrorIs(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1)), pool.ErrDisputeWindowClosed)
	})

	t.Run("zero stake", func(t *testing.T) {
		f := resolved(t)
		assert.ErrorIs(t, f.pool.SubmitDisputeVote(ctx, voterA, u(0)), pool.ErrZeroAmount)
	})

	t.Run("failed stake transfer is not counted", func(t *testing.T) {
		f := resolved(t)
		f.ledger.Approve(voterA, poolAddr, u(5))
		require.ErrorIs(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1000)), pool.ErrTransfer)
		assert.True(t, f.pool.DisputeVote(voterA).IsZero())
		assert.True(t, f.pool.TotalDisputeStake().IsZero())
		assert.False(t, f.pool.Summary().Disputed)
	})

	t.Run("upheld dispute moves the winner", func(t *testing.T) {
		f := resolved(t)
		require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1000)))

		assert.ErrorIs(t, f.pool.ResolveDispute(ctx, voterA, true, 1), pool.ErrNotFactory)
		assert.ErrorIs(t, f.pool.ResolveDispute(ctx, factoryAddr, true, 5), pool.ErrInvalidOption)
		require.NoError(t, f.pool.ResolveDispute(ctx, factoryAddr, true, 1))

		sum := f.pool.Summary()
		assert.False(t, sum.Disputed)
		assert.Equal(t, 1, sum.WinningOption)
		assert.Equal(t, pool.StateFinalized, f.pool.State())
		assert.ErrorIs(t, f.pool.SubmitDisputeVote(ctx, voterB, u(1)), pool.ErrDisputeSettled)
		assert.ErrorIs(t, f.pool.ResolveDispute(ctx, factoryAddr, false, 0), pool.ErrNotDisputed)

		// votes are retained
		assert.Equal(t, uint64(1000), f.pool.DisputeVote(voterA).Uint64())

		require.NoError(t, f.pool.RemoveLiquidity(ctx, lp, amounts(100, 100)))
		assert.Equal(t, uint64(10000-200+100), f.ledger.BalanceOf(lp).Uint64())
	})

	t.Run("rejected dispute keeps the winner", func(t *testing.T) {
		f := resolved(t)
		require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterA, u(1500)))
		require.NoError(t, f.pool.ResolveDispute(ctx, factoryAddr, false, 1))
		assert.Equal(t, 0, f.pool.Summary().WinningOption)

		var data pool.DisputeResolvedData
		last := f.events[len(f.events)-1]
		require.Equal(t, pool.EventDisputeResolved, last.Type)
		require.NoError(t, json.Unmarshal(last.Data, &data))
		assert.False(t, data.Upheld)
		assert.Equal(t, 0, data.WinningOption)
	})
}

func TestReentrancyRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var reentered []error
	f.ledger.OnTransfer(func(ctx context.Context, _ pool.Transfer) error {
		reentered = append(reentered,
			f.pool.QueueTrade(ctx, trader, 0, u(1), true),
			f.pool.AddLiquidity(ctx, lp, amounts(1, 1)),
		)
		return nil
	})

	require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(5, 5)))
	require.Len(t, reentered, 2)
	for _, err := range reentered {
		assert.ErrorIs(t, err, pool.ErrReentrant)
	}
	assert.True(t, f.pool.PendingTrade(trader, 0, true).IsZero())
	assert.Equal(t, []uint64{5, 5}, reserves(f.pool))
}

func TestAssetCallbackWithFreshContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		queued  error
		summary pool.Summary
	)
	f.ledger.OnTransfer(func(context.Context, pool.Transfer) error {
		queued = f.pool.QueueTrade(context.Background(), trader, 0, u(1), true)
		summary = f.pool.Summary()
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- f.pool.AddLiquidity(ctx, lp, amounts(5, 5)) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("AddLiquidity blocked on a callback into the pool")
	}

	assert.ErrorIs(t, queued, pool.ErrReentrant)
	assert.Equal(t, uint64(10), summary.TotalLiquidity.Uint64(), "callback sees the settling operation")
	assert.True(t, f.pool.PendingTrade(trader, 0, true).IsZero())

	// the pool is usable once settlement returns
	require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(1), true))
	assert.Equal(t, uint64(1), f.pool.PendingTrade(trader, 0, true).Uint64())
}

func TestFailedSettlementRevertsCallbackView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var seen uint64
	f.ledger.OnTransfer(func(context.Context, pool.Transfer) error {
		seen = f.pool.Summary().TotalLiquidity.Uint64()
		return errors.New("asset offline")
	})

	err := f.pool.AddLiquidity(ctx, lp, amounts(5, 5))
	assert.ErrorIs(t, err, pool.ErrTransfer)
	assert.Equal(t, uint64(10), seen)
	assert.Zero(t, f.pool.Summary().TotalLiquidity.Uint64())
	assert.Equal(t, []uint64{0, 0}, reserves(f.pool))
}

func TestEventsPublishedAfterCallerCancels(t *testing.T) {
	f := newFixture(t)
	var published []error
	p := pool.New(pool.Config{
		ID:      2,
		Address: poolAddr,
		Clock:   f.clock.Now,
		Sink: pool.SinkFunc(func(ctx context.Context, _ pool.Event) error {
			published = append(published, ctx.Err())
			return ctx.Err()
		}),
	})
	require.NoError(t, p.Initialize(context.Background(), pool.InitParams{
		Factory:             factoryAddr,
		Asset:               f.ledger,
		Description:         "Rain tomorrow?",
		EndTime:             start.Add(time.Hour),
		Options:             []pool.OptionParams{{Description: "Yes", Weight: u(1)}, {Description: "No", Weight: u(1)}},
		ResolutionThreshold: u(1),
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, p.AddLiquidity(ctx, lp, amounts(5, 5)))

	require.Len(t, published, 1)
	assert.NoError(t, published[0])
}

func TestConservation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	supply := f.ledger.TotalSupply().Uint64()

	require.NoError(t, f.pool.AddLiquidity(ctx, lp, amounts(300, 200)))
	require.NoError(t, f.pool.QueueTrade(ctx, trader, 0, u(20), true))
	require.NoError(t, f.pool.QueueTrade(ctx, trader, 1, u(15), false))
	_, err := f.pool.ProcessBatch(ctx, []common.Address{trader, trader}, []int{0, 1})
	require.NoError(t, err)
	f.clock.Advance(24 * time.Hour)
	require.NoError(t, f.pool.Resolve(ctx, factoryAddr, 0))
	require.NoError(t, f.pool.SubmitDisputeVote(ctx, voterA, u(10)))
	f.clock.Advance(pool.DefaultDisputeWindow + time.Second)
	require.NoError(t, f.pool.RemoveLiquidity(ctx, lp, amounts(250, 100)))

	var netTrades int64
	for _, tr := range f.pool.RecentTrades(-1) {
		if tr.Side == pool.SideBuy {
			netTrades += int64(tr.Price.Uint64())
		} else {
			netTrades -= int64(tr.Price.Uint64())
		}
	}

	// pool holds outstanding liquidity plus net trade flow plus stakes
	want := int64(f.pool.Summary().TotalLiquidity.Uint64()) + netTrades + int64(f.pool.TotalDisputeStake().Uint64())
	assert.Equal(t, want, int64(f.ledger.BalanceOf(poolAddr).Uint64()))
	assert.Equal(t, supply, f.ledger.TotalSupply().Uint64())

	sum := uint64(0)
	for _, a := range []common.Address{lp, trader, voterA, voterB, poolAddr} {
		sum += f.ledger.BalanceOf(a).Uint64()
	}
	assert.Equal(t, supply, sum)
}

func TestConcurrentOperationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// an operation arriving while another settles is turned away
			for {
				err := f.pool.AddLiquidity(ctx, lp, amounts(1, 2))
				if !errors.Is(err, pool.ErrReentrant) {
					assert.NoError(t, err)
					return
				}
				runtime.Gosched()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []uint64{50, 100}, reserves(f.pool))
	assert.Equal(t, uint64(150), f.pool.Summary().TotalLiquidity.Uint64())
	assert.Equal(t, uint64(150), f.ledger.BalanceOf(poolAddr).Uint64())
	for i, ev := range f.events {
		assert.Equal(t, uint64(i+1), ev.Seq)
	}
}
