package token

import (
	"context"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/ledger"
)

// InitializeAccount creates the derived token account for (Owner, Mint).
// The payer funds the rent-exempt minimum and must sign.
type InitializeAccount struct {
	Payer string
	Owner string
	Mint  string
}

func (in *InitializeAccount) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Payer) {
		return fmt.Errorf("initialize token account: payer: %w", ledger.ErrUnauthorized)
	}
	addr, _, err := derive.TokenAddress(in.Owner, in.Mint)
	if err != nil {
		return fmt.Errorf("initialize token account: %w", err)
	}

	acct := &Account{Address: addr, Mint: in.Mint, Owner: in.Owner}
	data, err := acct.encode()
	if err != nil {
		return err
	}

	rent := ledger.RentExemptMinimum(len(data))
	if err := txn.Debit(in.Payer, rent); err != nil {
		return fmt.Errorf("initialize token account: rent: %w", err)
	}
	return txn.CreateAccount(&ledger.Account{
		Address:  addr,
		Owner:    derive.TokenProgram,
		Lamports: rent,
		Data:     data,
	})
}

// MintTo credits Amount units to a token account. Supply introduction is
// outside the marketplace protocol; the authority signature is the only
// gate, which is enough for test assets and dev deployments.
type MintTo struct {
	Account   string
	Amount    uint64
	Authority string
}

func (in *MintTo) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Authority) {
		return fmt.Errorf("mint to: %w", ledger.ErrUnauthorized)
	}
	acct, err := Load(txn, in.Account)
	if err != nil {
		return fmt.Errorf("mint to: %w", err)
	}
	acct.Amount += in.Amount
	return acct.Save(txn)
}

// Transfer moves Amount units from Source to Dest. The authority must be
// the source owner or a delegate with sufficient allowance; frozen accounts
// reject transfers in either direction.
type Transfer struct {
	Source    string
	Dest      string
	Authority string
	Amount    uint64
}

func (in *Transfer) Execute(_ context.Context, txn ledger.Txn) error {
	src, err := Load(txn, in.Source)
	if err != nil {
		return fmt.Errorf("token transfer: source: %w", err)
	}
	dst, err := Load(txn, in.Dest)
	if err != nil {
		return fmt.Errorf("token transfer: dest: %w", err)
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("token transfer: %w: mint mismatch", ledger.ErrInvalidInput)
	}
	if src.Frozen || dst.Frozen {
		return fmt.Errorf("token transfer: account frozen: %w", ledger.ErrRuleViolation)
	}
	if !src.authorized(txn, in.Authority, in.Amount) {
		return fmt.Errorf("token transfer: %w", ledger.ErrUnauthorized)
	}
	if src.Amount < in.Amount {
		return fmt.Errorf("token transfer: %w", ledger.ErrInsufficientBalance)
	}

	src.Amount -= in.Amount
	if in.Authority == src.Delegate && in.Authority != src.Owner {
		src.DelegatedAmount -= in.Amount
		if src.DelegatedAmount == 0 {
			src.Delegate = ""
		}
	}
	dst.Amount += in.Amount

	if err := src.Save(txn); err != nil {
		return err
	}
	return dst.Save(txn)
}

// Approve sets Delegate with an allowance of Amount on a token account.
// Works on frozen accounts: delegation is how a gated transfer begins.
type Approve struct {
	Account   string
	Delegate  string
	Authority string
	Amount    uint64
}

func (in *Approve) Execute(_ context.Context, txn ledger.Txn) error {
	acct, err := Load(txn, in.Account)
	if err != nil {
		return fmt.Errorf("token approve: %w", err)
	}
	if in.Authority != acct.Owner || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("token approve: %w", ledger.ErrUnauthorized)
	}
	if in.Delegate == "" {
		return fmt.Errorf("token approve: %w: empty delegate", ledger.ErrInvalidInput)
	}
	acct.Delegate = in.Delegate
	acct.DelegatedAmount = in.Amount
	return acct.Save(txn)
}

// Revoke clears any delegate from a token account.
type Revoke struct {
	Account   string
	Authority string
}

func (in *Revoke) Execute(_ context.Context, txn ledger.Txn) error {
	acct, err := Load(txn, in.Account)
	if err != nil {
		return fmt.Errorf("token revoke: %w", err)
	}
	if in.Authority != acct.Owner || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("token revoke: %w", ledger.ErrUnauthorized)
	}
	acct.Delegate = ""
	acct.DelegatedAmount = 0
	return acct.Save(txn)
}

// CloseAccount removes an empty token account and refunds its rent to
// Recipient.
type CloseAccount struct {
	Account   string
	Recipient string
	Authority string
}

func (in *CloseAccount) Execute(_ context.Context, txn ledger.Txn) error {
	acct, err := Load(txn, in.Account)
	if err != nil {
		return fmt.Errorf("close token account: %w", err)
	}
	if in.Authority != acct.Owner || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("close token account: %w", ledger.ErrUnauthorized)
	}
	if acct.Amount != 0 {
		return fmt.Errorf("close token account: %w: balance not zero", ledger.ErrInvalidInput)
	}
	return txn.CloseAccount(in.Account, in.Recipient)
}

// Freeze locks a token account. Only the rules program's derived authority
// for the account's mint may freeze.
type Freeze struct {
	Account   string
	Authority string
}

func (in *Freeze) Execute(_ context.Context, txn ledger.Txn) error {
	return setFrozen(txn, in.Account, in.Authority, true)
}

// Thaw unlocks a frozen token account. Same authority rule as Freeze.
type Thaw struct {
	Account   string
	Authority string
}

func (in *Thaw) Execute(_ context.Context, txn ledger.Txn) error {
	return setFrozen(txn, in.Account, in.Authority, false)
}

func setFrozen(txn ledger.Txn, account, authority string, frozen bool) error {
	acct, err := Load(txn, account)
	if err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}
	ruleAuth, _, err := derive.RuleAuthorityAddress(acct.Mint)
	if err != nil {
		return fmt.Errorf("set frozen: %w", err)
	}
	if authority != ruleAuth || !txn.IsSigner(authority) {
		return fmt.Errorf("set frozen: %w", ledger.ErrUnauthorized)
	}
	acct.Frozen = frozen
	return acct.Save(txn)
}
