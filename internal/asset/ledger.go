// Package asset implements the fungible payment asset pools settle in: a
// mintable balance ledger with ERC-20 style allowances.
package asset

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"ammpool-backend/internal/pool"
)

// TransferHook observes each transfer of an Apply call before it commits.
// Returning an error aborts the whole call. Hooks run with the ledger locked
// and must not call back into the Ledger. ctx is the context the pool passed
// to Apply; pool calls made from a hook should use it.
type TransferHook func(ctx context.Context, t pool.Transfer) error

// Ledger tracks balances and allowances of the payment asset.
type Ledger struct {
	mu          sync.RWMutex
	symbol      string
	balances    map[common.Address]*uint256.Int
	allowances  map[common.Address]map[common.Address]*uint256.Int // owner -> spender -> amount
	totalSupply *uint256.Int
	version     uint64
	hooks       []TransferHook
}

// NewLedger creates a ledger with the given initial balances.
func NewLedger(symbol string, initial map[common.Address]*uint256.Int) *Ledger {
	l := &Ledger{
		symbol:      symbol,
		balances:    make(map[common.Address]*uint256.Int),
		allowances:  make(map[common.Address]map[common.Address]*uint256.Int),
		totalSupply: new(uint256.Int),
	}
	for addr, amt := range initial {
		l.balances[addr] = amt.Clone()
		l.totalSupply.Add(l.totalSupply, amt)
	}
	return l
}

// OnTransfer registers a hook called for every transfer.
func (l *Ledger) OnTransfer(h TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, h)
}

// Symbol returns the asset's ticker.
func (l *Ledger) Symbol() string { return l.symbol }

// BalanceOf returns the balance of addr.
func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balanceLocked(addr).Clone()
}

func (l *Ledger) balanceLocked(addr common.Address) *uint256.Int {
	if b, ok := l.balances[addr]; ok {
		return b
	}
	return new(uint256.Int)
}

// TotalSupply returns the amount in circulation.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply.Clone()
}

// Allowance returns how much spender may still move out of owner's balance.
func (l *Ledger) Allowance(owner, spender common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowanceLocked(owner, spender).Clone()
}

func (l *Ledger) allowanceLocked(owner, spender common.Address) *uint256.Int {
	if a, ok := l.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

// Approve sets spender's allowance on owner's balance, replacing any
// previous value.
func (l *Ledger) Approve(owner, spender common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]*uint256.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = amount.Clone()
	l.version++
}

// Mint creates amount new units in to's balance.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	supply, overflow := new(uint256.Int).AddOverflow(l.totalSupply, amount)
	if overflow {
		return ErrOverflow
	}
	bal, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(to), amount)
	if overflow {
		return ErrOverflow
	}
	l.totalSupply = supply
	l.balances[to] = bal
	l.version++
	return nil
}

// Burn destroys amount units from from's balance.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(from)
	if bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.balances[from] = new(uint256.Int).Sub(bal, amount)
	l.totalSupply = new(uint256.Int).Sub(l.totalSupply, amount)
	l.version++
	return nil
}

// Transfer moves amount from -> to on from's authority.
func (l *Ledger) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	return l.Apply(ctx, []pool.Transfer{{From: from, To: to, Amount: amount}})
}

// TransferFrom moves amount from -> to, consuming spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, spender, from, to common.Address, amount *uint256.Int) error {
	return l.Apply(ctx, []pool.Transfer{{Spender: spender, From: from, To: to, Amount: amount}})
}

// Apply executes transfers in order as one unit. Balances and allowances are
// only updated if every transfer succeeds.
func (l *Ledger) Apply(ctx context.Context, transfers []pool.Transfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := newWorkingSet(l)
	for _, t := range transfers {
		if err := w.apply(t); err != nil {
			return err
		}
		for _, h := range l.hooks {
			if err := h(ctx, t); err != nil {
				return err
			}
		}
	}
	w.commit()
	l.version++
	return nil
}

// Version increases on every committed change.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// LedgerSnapshot is a JSON-serializable view of the ledger.
type LedgerSnapshot struct {
	Symbol      string            `json:"symbol"`
	Balances    map[string]string `json:"balances"`
	TotalSupply string            `json:"total_supply"`
	Version     uint64            `json:"version"`
}

func (l *Ledger) Snapshot() LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	balances := make(map[string]string, len(l.balances))
	for addr, b := range l.balances {
		balances[addr.Hex()] = b.Dec()
	}
	return LedgerSnapshot{
		Symbol:      l.symbol,
		Balances:    balances,
		TotalSupply: l.totalSupply.Dec(),
		Version:     l.version,
	}
}

// ToJSON returns the snapshot as JSON
func (l *Ledger) ToJSON() ([]byte, error) {
	return json.Marshal(l.Snapshot())
}

type allowanceKey struct{ owner, spender common.Address }

// workingSet stages balance and allowance updates over a locked ledger.
type workingSet struct {
	l          *Ledger
	balances   map[common.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
}

func newWorkingSet(l *Ledger) *workingSet {
	return &workingSet{
		l:          l,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
	}
}

func (w *workingSet) balance(addr common.Address) *uint256.Int {
	if b, ok := w.balances[addr]; ok {
		return b
	}
	return w.l.balanceLocked(addr)
}

func (w *workingSet) allowance(k allowanceKey) *uint256.Int {
	if a, ok := w.allowances[k]; ok {
		return a
	}
	return w.l.allowanceLocked(k.owner, k.spender)
}

func (w *workingSet) apply(t pool.Transfer) error {
	if t.Amount == nil {
		return ErrInvalidAmount
	}
	if t.Pull() {
		k := allowanceKey{owner: t.From, spender: t.Spender}
		allowed := w.allowance(k)
		if allowed.Lt(t.Amount) {
			return ErrInsufficientAllowance
		}
		w.allowances[k] = new(uint256.Int).Sub(allowed, t.Amount)
	}

	from := w.balance(t.From)
	if from.Lt(t.Amount) {
		return ErrInsufficientBalance
	}
	w.balances[t.From] = new(uint256.Int).Sub(from, t.Amount)

	to, overflow := new(uint256.Int).AddOverflow(w.balance(t.To), t.Amount)
	if overflow {
		return ErrOverflow
	}
	w.balances[t.To] = to
	return nil
}

func (w *workingSet) commit() {
	for addr, b := range w.balances {
		w.l.balances[addr] = b
	}
	for k, a := range w.allowances {
		byOwner, ok := w.l.allowances[k.owner]
		if !ok {
			byOwner = make(map[common.Address]*uint256.Int)
			w.l.allowances[k.owner] = byOwner
		}
		byOwner[k.spender] = a
	}
}

// Errors
type LedgerError string

func (e LedgerError) Error() string {
	return string(e)
}

const (
	ErrInsufficientBalance   LedgerError = "insufficient balance"
	ErrInsufficientAllowance LedgerError = "insufficient allowance"
	ErrInvalidAmount         LedgerError = "invalid amount"
	ErrOverflow              LedgerError = "balance overflow"
)

var _ pool.AtomicAsset = (*Ledger)(nil)
