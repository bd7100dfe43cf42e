// Package memory provides the in-memory ledger backend. A single mutex
// serializes transactions; instruction effects are staged in an overlay and
// copied into the base map only when every instruction succeeded.
package memory

import (
	"context"
	"sync"

	"github.com/smartstache/keychain/internal/ledger"
)

// Ledger is an in-memory implementation of ledger.Ledger.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*ledger.Account
}

// NewLedger creates an empty in-memory ledger.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*ledger.Account)}
}

// Compile-time interface check.
var _ ledger.Ledger = (*Ledger)(nil)

// Submit applies all instructions of tx atomically.
func (l *Ledger) Submit(ctx context.Context, tx *ledger.Transaction) error {
	signers, err := tx.SignerSet()
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	txn := &txnView{
		base:    l.accounts,
		staged:  make(map[string]*ledger.Account),
		deleted: make(map[string]bool),
		signers: signers,
	}

	for _, in := range tx.Instructions {
		if err := in.Execute(ctx, txn); err != nil {
			return err
		}
	}

	// Commit the overlay
	for addr := range txn.deleted {
		delete(l.accounts, addr)
	}
	for addr, a := range txn.staged {
		l.accounts[addr] = a
	}
	return nil
}

// Account reads committed state. Returns ErrNotFound if absent.
func (l *Ledger) Account(_ context.Context, addr string) (*ledger.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	a, ok := l.accounts[addr]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return a.Clone(), nil
}

// Airdrop credits lamports outside any protocol transition.
func (l *Ledger) Airdrop(_ context.Context, addr string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.accounts[addr]
	if !ok {
		a = &ledger.Account{Address: addr, Owner: systemOwner}
		l.accounts[addr] = a
	}
	a.Lamports += amount
	return nil
}

const systemOwner = "" // wallets carry no owning program

// txnView is the staged view instructions execute against.
type txnView struct {
	base    map[string]*ledger.Account
	staged  map[string]*ledger.Account
	deleted map[string]bool
	signers map[string]bool
}

var _ ledger.Txn = (*txnView)(nil)

func (t *txnView) lookup(addr string) (*ledger.Account, bool) {
	if t.deleted[addr] {
		return nil, false
	}
	if a, ok := t.staged[addr]; ok {
		return a, true
	}
	a, ok := t.base[addr]
	return a, ok
}

func (t *txnView) Account(addr string) (*ledger.Account, error) {
	a, ok := t.lookup(addr)
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return a.Clone(), nil
}

func (t *txnView) CreateAccount(a *ledger.Account) error {
	if a == nil || a.Address == "" {
		return ledger.ErrInvalidInput
	}
	staged := a.Clone()
	if existing, ok := t.lookup(a.Address); ok {
		if len(existing.Data) > 0 || existing.Owner != systemOwner {
			return ledger.ErrAlreadyExists
		}
		// A bare wallet account at the address keeps its lamports.
		staged.Lamports += existing.Lamports
	}
	delete(t.deleted, a.Address)
	t.staged[a.Address] = staged
	return nil
}

func (t *txnView) UpdateAccount(a *ledger.Account) error {
	if a == nil || a.Address == "" {
		return ledger.ErrInvalidInput
	}
	if _, ok := t.lookup(a.Address); !ok {
		return ledger.ErrNotFound
	}
	t.staged[a.Address] = a.Clone()
	return nil
}

func (t *txnView) CloseAccount(addr, recipient string) error {
	a, ok := t.lookup(addr)
	if !ok {
		return ledger.ErrNotFound
	}
	refund := a.Lamports
	delete(t.staged, addr)
	t.deleted[addr] = true
	if refund > 0 {
		return t.Credit(recipient, refund)
	}
	return nil
}

func (t *txnView) Credit(addr string, amount uint64) error {
	if addr == "" {
		return ledger.ErrInvalidInput
	}
	a, ok := t.lookup(addr)
	if !ok {
		a = &ledger.Account{Address: addr, Owner: systemOwner}
	} else {
		a = a.Clone()
	}
	a.Lamports += amount
	delete(t.deleted, addr)
	t.staged[addr] = a
	return nil
}

func (t *txnView) Debit(addr string, amount uint64) error {
	a, ok := t.lookup(addr)
	if !ok {
		return ledger.ErrInsufficientBalance
	}
	if a.Lamports < amount {
		return ledger.ErrInsufficientBalance
	}
	a = a.Clone()
	a.Lamports -= amount
	t.staged[addr] = a
	return nil
}

func (t *txnView) IsSigner(addr string) bool {
	return t.signers[addr]
}
