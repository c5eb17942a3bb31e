package asset_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ammpool-backend/internal/asset"
	"ammpool-backend/internal/pool"
)

var (
	alice   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob     = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	spender = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestLedger_MintBurn(t *testing.T) {
	l := asset.NewLedger("USDX", map[common.Address]*uint256.Int{alice: u(50)})
	assert.Equal(t, uint64(50), l.TotalSupply().Uint64())

	require.NoError(t, l.Mint(bob, u(25)))
	assert.Equal(t, uint64(75), l.TotalSupply().Uint64())
	assert.Equal(t, uint64(25), l.BalanceOf(bob).Uint64())

	require.NoError(t, l.Burn(alice, u(20)))
	assert.Equal(t, uint64(30), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(55), l.TotalSupply().Uint64())

	assert.ErrorIs(t, l.Burn(bob, u(26)), asset.ErrInsufficientBalance)
	assert.ErrorIs(t, l.Mint(bob, new(uint256.Int).SetAllOne()), asset.ErrOverflow)
	assert.Equal(t, uint64(2), l.Version())
}

func TestLedger_Transfer(t *testing.T) {
	ctx := context.Background()
	l := asset.NewLedger("USDX", map[common.Address]*uint256.Int{alice: u(100)})

	require.NoError(t, l.Transfer(ctx, alice, bob, u(40)))
	assert.Equal(t, uint64(60), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(40), l.BalanceOf(bob).Uint64())

	err := l.Transfer(ctx, bob, alice, u(41))
	assert.ErrorIs(t, err, asset.ErrInsufficientBalance)
	assert.Equal(t, uint64(40), l.BalanceOf(bob).Uint64())

	require.NoError(t, l.Transfer(ctx, alice, alice, u(60)))
	assert.Equal(t, uint64(60), l.BalanceOf(alice).Uint64())
}

func TestLedger_TransferFrom(t *testing.T) {
	ctx := context.Background()
	l := asset.NewLedger("USDX", map[common.Address]*uint256.Int{alice: u(100)})

	assert.ErrorIs(t, l.TransferFrom(ctx, spender, alice, bob, u(1)), asset.ErrInsufficientAllowance)

	l.Approve(alice, spender, u(30))
	require.NoError(t, l.TransferFrom(ctx, spender, alice, bob, u(20)))
	assert.Equal(t, uint64(10), l.Allowance(alice, spender).Uint64())
	assert.Equal(t, uint64(20), l.BalanceOf(bob).Uint64())

	assert.ErrorIs(t, l.TransferFrom(ctx, spender, alice, bob, u(11)), asset.ErrInsufficientAllowance)

	// approve replaces rather than adds
	l.Approve(alice, spender, u(5))
	assert.Equal(t, uint64(5), l.Allowance(alice, spender).Uint64())
}

func TestLedger_ApplyIsAtomic(t *testing.T) {
	ctx := context.Background()
	l := asset.NewLedger("USDX", map[common.Address]*uint256.Int{alice: u(100)})
	l.Approve(alice, spender, u(200))
	before := l.Version()

	err := l.Apply(ctx, []pool.Transfer{
		{Spender: spender, From: alice, To: spender, Amount: u(60)},
		{From: spender, To: bob, Amount: u(60)},
		{Spender: spender, From: alice, To: spender, Amount: u(50)},
	})
	require.ErrorIs(t, err, asset.ErrInsufficientBalance)

	assert.Equal(t, uint64(100), l.BalanceOf(alice).Uint64())
	assert.True(t, l.BalanceOf(bob).IsZero())
	assert.Equal(t, uint64(200), l.Allowance(alice, spender).Uint64())
	assert.Equal(t, before, l.Version())

	// later transfers see the effect of earlier ones
	require.NoError(t, l.Apply(ctx, []pool.Transfer{
		{Spender: spender, From: alice, To: spender, Amount: u(60)},
		{From: spender, To: bob, Amount: u(60)},
	}))
	assert.Equal(t, uint64(40), l.BalanceOf(alice).Uint64())
	assert.Equal(t, uint64(60), l.BalanceOf(bob).Uint64())
	assert.True(t, l.BalanceOf(spender).IsZero())
	assert.Equal(t, uint64(140), l.Allowance(alice, spender).Uint64())
}

func TestLedger_HookAborts(t *testing.T) {
	ctx := context.Background()
	l := asset.NewLedger("USDX", map[common.Address]*uint256.Int{alice: u(100)})

	blocked := errors.New("blocked")
	var seen []pool.Transfer
	l.OnTransfer(func(_ context.Context, tr pool.Transfer) error {
		seen = append(seen, tr)
		if tr.To == bob {
			return blocked
		}
		return nil
	})

	require.NoError(t, l.Transfer(ctx, alice, spender, u(10)))
	assert.ErrorIs(t, l.Transfer(ctx, alice, bob, u(10)), blocked)
	assert.Len(t, seen, 2)
	assert.Equal(t, uint64(90), l.BalanceOf(alice).Uint64())
}

func TestLedger_Snapshot(t *testing.T) {
	l := asset.NewLedger("USDX", map[common.Address]*uint256.Int{alice: u(7)})

	data, err := l.ToJSON()
	require.NoError(t, err)

	var snap asset.LedgerSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "USDX", snap.Symbol)
	assert.Equal(t, "7", snap.TotalSupply)
	assert.Equal(t, "7", snap.Balances[alice.Hex()])
}
