package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/perpmesh/engine/pkg/position"
)

// Account is a user's free margin balance: the collateral available to
// back a new position, net of whatever is already locked in open ones.
type Account struct {
	Address       string
	MarginBalance *uint256.Int
	Nonce         uint64
}

// Staker is a liquidity provider's claim on the pool, denominated in
// shares rather than raw quote so interest distributions don't require
// touching every staker's balance.
type Staker struct {
	Address string
	Shares  *uint256.Int
}

// Pool is the singleton LP-funded liquidity pool debt is issued against.
type Pool struct {
	TotalStaked   *uint256.Int
	TotalBorrowed *uint256.Int
	TotalShares   *uint256.Int
	TotalReserves *uint256.Int
}

func newPool() *Pool {
	return &Pool{
		TotalStaked:   uint256.NewInt(0),
		TotalBorrowed: uint256.NewInt(0),
		TotalShares:   uint256.NewInt(0),
		TotalReserves: uint256.NewInt(0),
	}
}

// Vault is the margin/debt/staking collaborator behind position.Vault. It
// is the process-local authority for every balance the matching engine
// itself deliberately keeps out of its own state (spec's shared-resource
// policy: debt and margin live in the vault, not the core).
type Vault struct {
	mu        sync.Mutex
	accounts  map[string]*Account
	stakers   map[string]*Staker
	pool      *Pool
	rateModel RateModel
	store     *Store
}

// NewVault opens a vault backed by a Pebble database at dbPath.
func NewVault(dbPath string, rateModel RateModel) (*Vault, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("new vault: %w", err)
	}

	pool, err := store.LoadPool()
	if err != nil {
		return nil, fmt.Errorf("new vault: %w", err)
	}
	if pool == nil {
		pool = newPool()
	}

	return &Vault{
		accounts:  make(map[string]*Account),
		stakers:   make(map[string]*Staker),
		pool:      pool,
		rateModel: rateModel,
		store:     store,
	}, nil
}

// Close closes the underlying store.
func (v *Vault) Close() error { return v.store.Close() }

func (v *Vault) account(addr string) (*Account, error) {
	if acc, ok := v.accounts[addr]; ok {
		return acc, nil
	}
	acc, err := v.store.LoadAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &Account{Address: addr, MarginBalance: uint256.NewInt(0)}
	}
	v.accounts[addr] = acc
	return acc, nil
}

func (v *Vault) staker(addr string) (*Staker, error) {
	if st, ok := v.stakers[addr]; ok {
		return st, nil
	}
	st, err := v.store.LoadStaker(addr)
	if err != nil {
		return nil, err
	}
	if st == nil {
		st = &Staker{Address: addr, Shares: uint256.NewInt(0)}
	}
	v.stakers[addr] = st
	return st, nil
}

// Deposit credits addr's free margin balance.
func (v *Vault) Deposit(addr string, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, err := v.account(addr)
	if err != nil {
		return err
	}
	acc.MarginBalance = new(uint256.Int).Add(acc.MarginBalance, amount)
	return v.store.SaveAccount(acc)
}

// Withdraw debits addr's free margin balance, failing if it would go
// negative (e.g. because the balance is still backing an open position).
func (v *Vault) Withdraw(addr string, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, err := v.account(addr)
	if err != nil {
		return err
	}
	if acc.MarginBalance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient margin balance: have %s, need %s", acc.MarginBalance, amount)
	}
	acc.MarginBalance = new(uint256.Int).Sub(acc.MarginBalance, amount)
	return v.store.SaveAccount(acc)
}

// FreeLiquidity is the quote still available to be issued as new debt.
func (v *Vault) FreeLiquidity() *uint256.Int {
	return new(uint256.Int).Sub(v.pool.TotalStaked, v.pool.TotalBorrowed)
}

// Stake deposits amount into the pool and mints shares proportional to the
// staker's contribution against the pool's current value.
func (v *Vault) Stake(addr string, amount *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, err := v.staker(addr)
	if err != nil {
		return nil, err
	}

	shares := calcShares(amount, v.pool.TotalShares, v.pool.TotalStaked)
	st.Shares = new(uint256.Int).Add(st.Shares, shares)
	v.pool.TotalShares = new(uint256.Int).Add(v.pool.TotalShares, shares)
	v.pool.TotalStaked = new(uint256.Int).Add(v.pool.TotalStaked, amount)

	if err := v.store.SaveStaker(st); err != nil {
		return nil, err
	}
	if err := v.store.SavePool(v.pool); err != nil {
		return nil, err
	}
	return shares, nil
}

// Unstake redeems shareAmount shares for their current quote value,
// failing if doing so would dip into liquidity already lent out as debt.
func (v *Vault) Unstake(addr string, shareAmount *uint256.Int) (*uint256.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	st, err := v.staker(addr)
	if err != nil {
		return nil, err
	}
	if st.Shares.Cmp(shareAmount) < 0 {
		return nil, fmt.Errorf("insufficient shares: have %s, want %s", st.Shares, shareAmount)
	}

	value := new(uint256.Int).Mul(shareAmount, v.pool.TotalStaked)
	value.Div(value, v.pool.TotalShares)

	if value.Cmp(v.FreeLiquidity()) > 0 {
		return nil, fmt.Errorf("insufficient free liquidity to unstake: want %s, free %s", value, v.FreeLiquidity())
	}

	st.Shares = new(uint256.Int).Sub(st.Shares, shareAmount)
	v.pool.TotalShares = new(uint256.Int).Sub(v.pool.TotalShares, shareAmount)
	v.pool.TotalStaked = new(uint256.Int).Sub(v.pool.TotalStaked, value)

	if err := v.store.SaveStaker(st); err != nil {
		return nil, err
	}
	if err := v.store.SavePool(v.pool); err != nil {
		return nil, err
	}
	return value, nil
}

// calcShares mirrors funding's first-depositor special case: an empty pool
// mints shares 1:1, since dividing by a zero pool value is undefined.
func calcShares(amount, totalShares, poolValue *uint256.Int) *uint256.Int {
	if totalShares.IsZero() || poolValue.IsZero() {
		return new(uint256.Int).Set(amount)
	}
	out := new(uint256.Int).Mul(amount, totalShares)
	return out.Div(out, poolValue)
}

// CreatePositionValidityCheck implements position.Vault. It atomically
// verifies the account has collateral free and the pool has debt free,
// and on success debits both in the same step so a concurrent caller
// never observes a half-applied check.
func (v *Vault) CreatePositionValidityCheck(ctx context.Context, account string, collateral, debt *uint256.Int) (bool, uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, err := v.account(account)
	if err != nil {
		return false, 0, err
	}
	if acc.MarginBalance.Cmp(collateral) < 0 {
		return false, 0, nil
	}
	if v.FreeLiquidity().Cmp(debt) < 0 {
		return false, 0, nil
	}

	rate := v.rateModel.BorrowRate(v.pool.TotalStaked, new(uint256.Int).Add(v.pool.TotalBorrowed, debt))

	acc.MarginBalance = new(uint256.Int).Sub(acc.MarginBalance, collateral)
	v.pool.TotalBorrowed = new(uint256.Int).Add(v.pool.TotalBorrowed, debt)

	if err := v.store.SaveAccount(acc); err != nil {
		return false, 0, err
	}
	if err := v.store.SavePool(v.pool); err != nil {
		return false, 0, err
	}
	return true, rate, nil
}

// CheckAndConsumeNonce implements engine.Vault. It rejects a transaction
// whose nonce doesn't strictly exceed account's last consumed nonce
// (replay protection on signed order transactions, mirroring
// lib.rs::open_position's orderNonce.Uint64() <= acc.Nonce check), then
// advances the stored nonce so the same transaction can't be replayed.
func (v *Vault) CheckAndConsumeNonce(ctx context.Context, account string, nonce uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, err := v.account(account)
	if err != nil {
		return err
	}
	if nonce <= acc.Nonce {
		return fmt.Errorf("replayed or stale nonce %d: account is at %d", nonce, acc.Nonce)
	}
	acc.Nonce = nonce
	return v.store.SaveAccount(acc)
}

// ManagePositionUpdate implements position.Vault. It is fire-and-forget
// from the core's perspective: the margin credit returns to the account's
// free balance, repaid debt leaves the pool's outstanding borrow total,
// and any interest received splits between stakers and the protocol
// reserve per the rate model's reserve factor.
func (v *Vault) ManagePositionUpdate(ctx context.Context, account string, marginCredit *uint256.Int, record position.DebtRecord) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	acc, err := v.account(account)
	if err != nil {
		return err
	}
	acc.MarginBalance = new(uint256.Int).Add(acc.MarginBalance, marginCredit)

	repaid := new(uint256.Int).Sub(record.InitialDebt, record.NewDebt)
	if repaid.Cmp(v.pool.TotalBorrowed) > 0 {
		repaid = new(uint256.Int).Set(v.pool.TotalBorrowed)
	}
	v.pool.TotalBorrowed = new(uint256.Int).Sub(v.pool.TotalBorrowed, repaid)

	if record.InterestReceived != nil && !record.InterestReceived.IsZero() {
		toStakers, toReserve := v.rateModel.ReserveCut(record.InterestReceived)
		v.pool.TotalStaked = new(uint256.Int).Add(v.pool.TotalStaked, toStakers)
		v.pool.TotalReserves = new(uint256.Int).Add(v.pool.TotalReserves, toReserve)
	}

	if err := v.store.SaveAccount(acc); err != nil {
		return err
	}
	return v.store.SavePool(v.pool)
}
