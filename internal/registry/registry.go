// Package registry implements the identity registry: domains (named
// namespaces with fee configuration) and keychains (claimed names inside a
// domain, reverse-indexed from wallet to name).
package registry

import (
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
)

// validName reports whether a domain or keychain name is usable as a seed
// component: non-empty, at most MaxNameLen bytes, lowercase ascii letters,
// digits and hyphens.
func validName(name string) bool {
	if name == "" || len(name) > domain.MaxNameLen {
		return false
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return false
		}
	}
	return true
}

func createRecord(txn ledger.Txn, payer, addr, owner string, data []byte) error {
	rent := ledger.RentExemptMinimum(len(data))
	if err := txn.Debit(payer, rent); err != nil {
		return fmt.Errorf("rent: %w", err)
	}
	return txn.CreateAccount(&ledger.Account{
		Address:  addr,
		Owner:    owner,
		Lamports: rent,
		Data:     data,
	})
}

// LoadDomain reads and decodes the domain record at addr.
func LoadDomain(txn ledger.Txn, addr string) (*domain.Domain, error) {
	raw, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != derive.KeychainProgram {
		return nil, fmt.Errorf("%w: %s is not a domain account", ledger.ErrInvalidInput, addr)
	}
	return domain.DecodeDomain(raw.Data)
}

// LoadKeychain reads and decodes the keychain record at addr.
func LoadKeychain(txn ledger.Txn, addr string) (*domain.Keychain, error) {
	raw, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != derive.KeychainProgram {
		return nil, fmt.Errorf("%w: %s is not a keychain account", ledger.ErrInvalidInput, addr)
	}
	return domain.DecodeKeychain(raw.Data)
}

// LoadKeychainKey reads and decodes the reverse-index entry at addr.
func LoadKeychainKey(txn ledger.Txn, addr string) (*domain.KeychainKey, error) {
	raw, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != derive.KeychainProgram {
		return nil, fmt.Errorf("%w: %s is not a keychain key account", ledger.ErrInvalidInput, addr)
	}
	return domain.DecodeKeychainKey(raw.Data)
}

func saveKeychain(txn ledger.Txn, addr string, k *domain.Keychain) error {
	raw, err := txn.Account(addr)
	if err != nil {
		return err
	}
	data, err := k.Encode()
	if err != nil {
		return err
	}
	raw.Data = data
	return txn.UpdateAccount(raw)
}
