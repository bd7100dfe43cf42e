// Package ledger defines the execution substrate: the account model, the
// transaction/instruction contracts and the atomicity guarantee every
// protocol transition relies on. One Submit applies all instructions of a
// transaction or none of them; contention on the same address is resolved
// by the backend admitting exactly one of two conflicting transactions.
package ledger

import (
	"context"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
)

// Account is the unit of ledger state. Wallets are system-owned accounts
// with no data; program records carry their encoded state in Data.
type Account struct {
	Address  string
	Owner    string // owning program id
	Lamports uint64
	Data     []byte
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	c := *a
	if a.Data != nil {
		c.Data = append([]byte(nil), a.Data...)
	}
	return &c
}

// Txn is the instruction-side view of ledger state during one transaction.
// All mutations are staged; nothing is observable until the enclosing
// Submit commits.
type Txn interface {
	// Account returns the current state of addr. Returns ErrNotFound if the
	// account does not exist.
	Account(addr string) (*Account, error)

	// CreateAccount initializes a new account. Returns ErrAlreadyExists if
	// addr is already initialized. The account must carry its rent-exempt
	// minimum in lamports; fund it with Debit on the payer first.
	CreateAccount(a *Account) error

	// UpdateAccount replaces the state of an existing account.
	UpdateAccount(a *Account) error

	// CloseAccount removes addr and credits its lamports to recipient.
	CloseAccount(addr, recipient string) error

	// Credit adds lamports to addr, creating a system account if absent.
	Credit(addr string, amount uint64) error

	// Debit removes lamports from addr. Returns ErrInsufficientBalance if
	// the balance is too low.
	Debit(addr string, amount uint64) error

	// IsSigner reports whether addr signed the enclosing transaction, or is
	// a verified derived signer of it.
	IsSigner(addr string) bool
}

// Instruction is one step of a transaction. Execute must either apply its
// effect through txn or return an error; a returned error aborts the whole
// transaction.
type Instruction interface {
	Execute(ctx context.Context, txn Txn) error
}

// DerivedSigner authorizes a program-derived address for one transaction.
// Submit re-derives the address from seeds and bump and adds it to the
// signer set, the equivalent of a program signing with its seeds.
type DerivedSigner struct {
	Seeds     [][]byte
	Bump      byte
	ProgramID string
}

// Address recomputes and returns the derived address.
func (s *DerivedSigner) Address() (string, error) {
	addr, err := derive.ProgramAddress(s.Seeds, s.Bump, s.ProgramID)
	if err != nil {
		return "", fmt.Errorf("derived signer: %w", err)
	}
	return addr, nil
}

// Transaction is one indivisible unit of work.
type Transaction struct {
	Instructions   []Instruction
	Signers        []string // wallet addresses that signed
	DerivedSigners []DerivedSigner
}

// SignerSet resolves the full signer set, wallet and derived.
func (t *Transaction) SignerSet() (map[string]bool, error) {
	set := make(map[string]bool, len(t.Signers)+len(t.DerivedSigners))
	for _, s := range t.Signers {
		set[s] = true
	}
	for i := range t.DerivedSigners {
		addr, err := t.DerivedSigners[i].Address()
		if err != nil {
			return nil, err
		}
		set[addr] = true
	}
	return set, nil
}

// Ledger applies transactions and serves point reads.
type Ledger interface {
	// Submit applies all instructions of tx atomically. On error no effect
	// of tx is observable.
	Submit(ctx context.Context, tx *Transaction) error

	// Account reads committed state. Returns ErrNotFound if absent.
	Account(ctx context.Context, addr string) (*Account, error)

	// Airdrop credits lamports outside any protocol transition. Stands in
	// for the environment's funding utilities; not part of the protocol.
	Airdrop(ctx context.Context, addr string, amount uint64) error
}

// Rent parameters. Accounts are created rent-exempt; closing an account
// refunds its lamports to the designated recipient.
const (
	rentPerByteYear        = 3480
	rentExemptYears        = 2
	accountStorageOverhead = 128
)

// RentExemptMinimum returns the lamports an account of dataLen bytes must
// hold to be rent-exempt.
func RentExemptMinimum(dataLen int) uint64 {
	return uint64(accountStorageOverhead+dataLen) * rentPerByteYear * rentExemptYears
}
