package registry

import (
	"context"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
)

// CreateDomain initializes a domain record at its derived address. Fails
// with ErrAlreadyExists when the name is taken. The authority pays rent.
type CreateDomain struct {
	Name       string
	RenameCost uint64
	SaleFeeBps uint16
	Treasury   string
	Authority  string
}

func (in *CreateDomain) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Authority) {
		return fmt.Errorf("create domain: %w", ledger.ErrUnauthorized)
	}
	if !validName(in.Name) {
		return fmt.Errorf("create domain: bad name %q: %w", in.Name, ledger.ErrInvalidInput)
	}
	if in.Treasury == "" {
		return fmt.Errorf("create domain: %w: missing treasury", ledger.ErrInvalidInput)
	}
	if in.SaleFeeBps > domain.MaxFeeBps {
		return fmt.Errorf("create domain: fee %d bps: %w", in.SaleFeeBps, ledger.ErrInvalidInput)
	}

	addr, bump, err := derive.DomainAddress(in.Name)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	rec := &domain.Domain{
		Name:       in.Name,
		Authority:  in.Authority,
		Treasury:   in.Treasury,
		RenameCost: in.RenameCost,
		SaleFeeBps: in.SaleFeeBps,
		Bump:       bump,
	}
	data, err := rec.Encode()
	if err != nil {
		return err
	}
	if err := createRecord(txn, in.Authority, addr, derive.KeychainProgram, data); err != nil {
		return fmt.Errorf("create domain %q: %w", in.Name, err)
	}
	return nil
}

// CreateKeychain claims a name inside a domain: it initializes the keychain
// record and the wallet's reverse-index entry, both at derived addresses.
// The wallet must co-sign to prove control, unless the signer is the domain
// authority adding a wallet administratively.
type CreateKeychain struct {
	Username  string
	Domain    string // domain name
	Wallet    string
	Authority string // payer; wallet itself or the domain authority
}

func (in *CreateKeychain) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Authority) {
		return fmt.Errorf("create keychain: %w", ledger.ErrUnauthorized)
	}
	if !validName(in.Username) {
		return fmt.Errorf("create keychain: bad name %q: %w", in.Username, ledger.ErrInvalidInput)
	}

	domainAddr, _, err := derive.DomainAddress(in.Domain)
	if err != nil {
		return fmt.Errorf("create keychain: %w", err)
	}
	dom, err := LoadDomain(txn, domainAddr)
	if err != nil {
		return fmt.Errorf("create keychain: domain %q: %w", in.Domain, err)
	}
	if in.Authority != dom.Authority && in.Authority != in.Wallet {
		return fmt.Errorf("create keychain: wallet must co-sign: %w", ledger.ErrUnauthorized)
	}

	keychainAddr, keychainBump, err := derive.KeychainAddress(in.Domain, in.Username)
	if err != nil {
		return fmt.Errorf("create keychain: %w", err)
	}
	keyAddr, keyBump, err := derive.KeychainKeyAddress(in.Domain, in.Wallet)
	if err != nil {
		return fmt.Errorf("create keychain: %w", err)
	}

	chain := &domain.Keychain{
		Name:   in.Username,
		Domain: domainAddr,
		Keys:   []domain.KeychainKeyEntry{{Wallet: in.Wallet, Verified: true}},
		Bump:   keychainBump,
	}
	chainData, err := chain.Encode()
	if err != nil {
		return err
	}
	if err := createRecord(txn, in.Authority, keychainAddr, derive.KeychainProgram, chainData); err != nil {
		return fmt.Errorf("create keychain %q: %w", in.Username, err)
	}

	key := &domain.KeychainKey{
		Wallet:   in.Wallet,
		Domain:   domainAddr,
		Keychain: keychainAddr,
		Bump:     keyBump,
	}
	keyData, err := key.Encode()
	if err != nil {
		return err
	}
	if err := createRecord(txn, in.Authority, keyAddr, derive.KeychainProgram, keyData); err != nil {
		return fmt.Errorf("create keychain key for %s: %w", in.Wallet, err)
	}
	return nil
}

// AddKey links a new wallet to an existing keychain. An existing verified
// key must sign; the new key starts unverified until the wallet confirms.
type AddKey struct {
	Domain    string // domain name
	Username  string
	NewWallet string
	Authority string // existing verified key, signs and pays nothing
}

func (in *AddKey) Execute(_ context.Context, txn ledger.Txn) error {
	addr, _, err := derive.KeychainAddress(in.Domain, in.Username)
	if err != nil {
		return fmt.Errorf("add key: %w", err)
	}
	chain, err := LoadKeychain(txn, addr)
	if err != nil {
		return fmt.Errorf("add key: %w", err)
	}
	if !chain.HasVerified(in.Authority) || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("add key: %w", ledger.ErrUnauthorized)
	}
	if chain.HasKey(in.NewWallet) {
		return fmt.Errorf("add key: wallet already on keychain: %w", ledger.ErrAlreadyExists)
	}
	if len(chain.Keys) >= domain.MaxKeychainKeys {
		return fmt.Errorf("add key: keychain full: %w", ledger.ErrInvalidInput)
	}

	chain.Keys = append(chain.Keys, domain.KeychainKeyEntry{Wallet: in.NewWallet})
	return saveKeychain(txn, addr, chain)
}

// ConfirmKey verifies a pending key. The added wallet signs to prove
// control and gains its reverse-index entry; the wallet pays that entry's
// rent.
type ConfirmKey struct {
	Domain   string // domain name
	Username string
	Wallet   string
}

func (in *ConfirmKey) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Wallet) {
		return fmt.Errorf("confirm key: %w", ledger.ErrUnauthorized)
	}
	addr, _, err := derive.KeychainAddress(in.Domain, in.Username)
	if err != nil {
		return fmt.Errorf("confirm key: %w", err)
	}
	chain, err := LoadKeychain(txn, addr)
	if err != nil {
		return fmt.Errorf("confirm key: %w", err)
	}

	found := false
	for i := range chain.Keys {
		if chain.Keys[i].Wallet == in.Wallet {
			if chain.Keys[i].Verified {
				// Re-confirmation is a no-op; the reverse index
				// already exists.
				return nil
			}
			found = true
			chain.Keys[i].Verified = true
		}
	}
	if !found {
		return fmt.Errorf("confirm key: wallet not on keychain: %w", ledger.ErrNotFound)
	}

	keyAddr, keyBump, err := derive.KeychainKeyAddress(in.Domain, in.Wallet)
	if err != nil {
		return fmt.Errorf("confirm key: %w", err)
	}
	key := &domain.KeychainKey{
		Wallet:   in.Wallet,
		Domain:   chain.Domain,
		Keychain: addr,
		Bump:     keyBump,
	}
	keyData, err := key.Encode()
	if err != nil {
		return err
	}
	if err := createRecord(txn, in.Wallet, keyAddr, derive.KeychainProgram, keyData); err != nil {
		return fmt.Errorf("confirm key for %s: %w", in.Wallet, err)
	}
	return saveKeychain(txn, addr, chain)
}

// RemoveKey unlinks a wallet from a keychain and closes its reverse-index
// entry. A verified key must sign. Removing the last key closes the
// keychain itself; rent flows to the signer.
type RemoveKey struct {
	Domain    string // domain name
	Username  string
	Wallet    string
	Authority string
}

func (in *RemoveKey) Execute(_ context.Context, txn ledger.Txn) error {
	addr, _, err := derive.KeychainAddress(in.Domain, in.Username)
	if err != nil {
		return fmt.Errorf("remove key: %w", err)
	}
	chain, err := LoadKeychain(txn, addr)
	if err != nil {
		return fmt.Errorf("remove key: %w", err)
	}
	if !chain.HasVerified(in.Authority) || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("remove key: %w", ledger.ErrUnauthorized)
	}

	idx := -1
	for i := range chain.Keys {
		if chain.Keys[i].Wallet == in.Wallet {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("remove key: wallet not on keychain: %w", ledger.ErrNotFound)
	}
	wasVerified := chain.Keys[idx].Verified
	chain.Keys = append(chain.Keys[:idx], chain.Keys[idx+1:]...)

	// Verified keys have a reverse-index entry to close.
	if wasVerified {
		keyAddr, _, err := derive.KeychainKeyAddress(in.Domain, in.Wallet)
		if err != nil {
			return fmt.Errorf("remove key: %w", err)
		}
		if err := txn.CloseAccount(keyAddr, in.Authority); err != nil {
			return fmt.Errorf("remove key: close index: %w", err)
		}
	}

	if len(chain.Keys) == 0 {
		return txn.CloseAccount(addr, in.Authority)
	}
	return saveKeychain(txn, addr, chain)
}
