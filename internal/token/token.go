// Package token implements the fungible balance program: fixed-layout token
// accounts plus the initialize/transfer/approve/revoke/close/freeze
// instruction set. The layout follows the SPL convention of
// mint(32)|owner(32)|amount(8)|..., extended with delegate and state bytes.
package token

import (
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
)

// AccountSize is the encoded token account length:
// mint(32) | owner(32) | amount(8) | delegate(32) | delegated(8) | frozen(1).
const AccountSize = 32 + 32 + 8 + 32 + 8 + 1

// Account is the decoded state of a token account.
type Account struct {
	Address         string
	Mint            string
	Owner           string
	Amount          uint64
	Delegate        string // empty when no delegate is set
	DelegatedAmount uint64
	Frozen          bool
}

func (a *Account) encode() ([]byte, error) {
	var e domain.Encoder
	e.Address(a.Mint)
	e.Address(a.Owner)
	e.U64(a.Amount)
	e.Address(a.Delegate)
	e.U64(a.DelegatedAmount)
	e.Bool(a.Frozen)
	return e.Bytes()
}

func decode(addr string, data []byte) (*Account, error) {
	dec := domain.NewDecoder(data)
	a := &Account{
		Address:         addr,
		Mint:            dec.Address(),
		Owner:           dec.Address(),
		Amount:          dec.U64(),
		Delegate:        dec.Address(),
		DelegatedAmount: dec.U64(),
		Frozen:          dec.Bool(),
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode token account: %w", err)
	}
	return a, nil
}

// Load reads and decodes the token account at addr.
func Load(txn ledger.Txn, addr string) (*Account, error) {
	raw, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != derive.TokenProgram {
		return nil, fmt.Errorf("%w: %s is not a token account", ledger.ErrInvalidInput, addr)
	}
	return decode(addr, raw.Data)
}

// Save writes the account state back to the ledger.
func (a *Account) Save(txn ledger.Txn) error {
	raw, err := txn.Account(a.Address)
	if err != nil {
		return err
	}
	data, err := a.encode()
	if err != nil {
		return err
	}
	raw.Data = data
	return txn.UpdateAccount(raw)
}

// authorized reports whether the transaction may move funds from a: either
// the owner signed (wallet or derived), or the signing delegate has enough
// delegated allowance.
func (a *Account) authorized(txn ledger.Txn, authority string, amount uint64) bool {
	if !txn.IsSigner(authority) {
		return false
	}
	if authority == a.Owner {
		return true
	}
	return authority == a.Delegate && a.Delegate != "" && a.DelegatedAmount >= amount
}
