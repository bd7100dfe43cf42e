package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/token"
)

// CreateRuleset initializes a ruleset account at the address derived from
// (Authority, Name). The authority pays rent and must sign.
type CreateRuleset struct {
	Authority string
	Name      string
	Policy    Policy
	Allowed   []string
}

func (in *CreateRuleset) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Authority) {
		return fmt.Errorf("create ruleset: %w", ledger.ErrUnauthorized)
	}
	addr, bump, err := derive.RulesetAddress(in.Authority, in.Name)
	if err != nil {
		return fmt.Errorf("create ruleset: %w", err)
	}

	r := &Ruleset{
		Address:   addr,
		Authority: in.Authority,
		Name:      in.Name,
		Policy:    in.Policy,
		Allowed:   in.Allowed,
		Bump:      bump,
	}
	data, err := r.encode()
	if err != nil {
		return err
	}

	rent := ledger.RentExemptMinimum(len(data))
	if err := txn.Debit(in.Authority, rent); err != nil {
		return fmt.Errorf("create ruleset: rent: %w", err)
	}
	return txn.CreateAccount(&ledger.Account{
		Address:  addr,
		Owner:    derive.RulesProgram,
		Lamports: rent,
		Data:     data,
	})
}

// AttachRuleset makes an item mint rule-gated by linking it to a ruleset
// and freezing the holder's token account. From then on the item only moves
// through the delegate protocol.
type AttachRuleset struct {
	Payer       string
	Mint        string
	Ruleset     string
	HolderToken string // current holding token account, frozen on attach
}

func (in *AttachRuleset) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Payer) {
		return fmt.Errorf("attach ruleset: %w", ledger.ErrUnauthorized)
	}
	if _, err := LoadRuleset(txn, in.Ruleset); err != nil {
		return fmt.Errorf("attach ruleset: %w", err)
	}

	addr, bump, err := derive.AssetRuleAddress(in.Mint)
	if err != nil {
		return fmt.Errorf("attach ruleset: %w", err)
	}
	rule := &assetRule{Mint: in.Mint, Ruleset: in.Ruleset, Bump: bump}
	data, err := rule.encode()
	if err != nil {
		return err
	}

	rent := ledger.RentExemptMinimum(len(data))
	if err := txn.Debit(in.Payer, rent); err != nil {
		return fmt.Errorf("attach ruleset: rent: %w", err)
	}
	if err := txn.CreateAccount(&ledger.Account{
		Address:  addr,
		Owner:    derive.RulesProgram,
		Lamports: rent,
		Data:     data,
	}); err != nil {
		return err
	}

	holder, err := token.Load(txn, in.HolderToken)
	if err != nil {
		return fmt.Errorf("attach ruleset: holder: %w", err)
	}
	if holder.Mint != in.Mint {
		return fmt.Errorf("attach ruleset: %w: holder mint mismatch", ledger.ErrInvalidInput)
	}
	holder.Frozen = true
	return holder.Save(txn)
}

// CreateDelegate grants Delegate a one-unit allowance on a gated token
// account, scoped to the movement the enclosing transaction performs. The
// account stays frozen; delegation is step (a) of the gated transfer.
type CreateDelegate struct {
	TokenAccount string
	Delegate     string
	Authority    string // token account owner, wallet or derived signer
}

func (in *CreateDelegate) Execute(_ context.Context, txn ledger.Txn) error {
	acct, err := token.Load(txn, in.TokenAccount)
	if err != nil {
		return fmt.Errorf("create delegate: %w", err)
	}
	if in.Authority != acct.Owner || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("create delegate: %w", ledger.ErrUnauthorized)
	}
	if rule, err := CurrentRuleset(txn, acct.Mint); err != nil {
		return fmt.Errorf("create delegate: %w", err)
	} else if rule == "" {
		return fmt.Errorf("create delegate: %w: mint is not rule-gated", ledger.ErrInvalidInput)
	}
	acct.Delegate = in.Delegate
	acct.DelegatedAmount = 1
	return acct.Save(txn)
}

// TransferUnderDelegate moves one unit of a gated asset after evaluating
// the asset's policy: thaw, transfer under the presented authority, freeze
// the destination so the item stays locked at rest. The presented Ruleset
// must match the asset's current rule.
type TransferUnderDelegate struct {
	Mint      string
	Source    string
	Dest      string
	Authority string // source owner or scoped delegate
	Ruleset   string
}

func (in *TransferUnderDelegate) Execute(_ context.Context, txn ledger.Txn) error {
	current, err := CurrentRuleset(txn, in.Mint)
	if err != nil {
		return fmt.Errorf("gated transfer: %w", err)
	}
	if current == "" || current != in.Ruleset {
		return fmt.Errorf("gated transfer: presented ruleset does not govern mint: %w", ledger.ErrRuleViolation)
	}
	ruleset, err := LoadRuleset(txn, in.Ruleset)
	if err != nil {
		return fmt.Errorf("gated transfer: %w", err)
	}

	src, err := token.Load(txn, in.Source)
	if err != nil {
		return fmt.Errorf("gated transfer: source: %w", err)
	}
	dst, err := token.Load(txn, in.Dest)
	if err != nil {
		return fmt.Errorf("gated transfer: dest: %w", err)
	}
	if src.Mint != in.Mint || dst.Mint != in.Mint {
		return fmt.Errorf("gated transfer: %w: mint mismatch", ledger.ErrInvalidInput)
	}
	if src.Amount < 1 {
		return fmt.Errorf("gated transfer: %w", ledger.ErrInsufficientBalance)
	}

	if err := ruleset.Validate(src.Owner, dst.Owner); err != nil {
		return err
	}

	if !txn.IsSigner(in.Authority) {
		return fmt.Errorf("gated transfer: %w", ledger.ErrUnauthorized)
	}
	switch in.Authority {
	case src.Owner:
		// owner-authorized, nothing to consume
	case src.Delegate:
		if src.DelegatedAmount < 1 {
			return fmt.Errorf("gated transfer: delegate allowance exhausted: %w", ledger.ErrUnauthorized)
		}
		src.DelegatedAmount--
		if src.DelegatedAmount == 0 {
			src.Delegate = ""
		}
	default:
		return fmt.Errorf("gated transfer: %w", ledger.ErrUnauthorized)
	}

	// Thaw, move, refreeze. The item never rests unfrozen.
	src.Amount--
	src.Frozen = src.Amount > 0
	dst.Amount++
	dst.Frozen = true

	if err := src.Save(txn); err != nil {
		return err
	}
	return dst.Save(txn)
}

// RevokeDelegate clears any residual delegate from a gated token account so
// no authority persists after a transfer.
type RevokeDelegate struct {
	TokenAccount string
	Authority    string
}

func (in *RevokeDelegate) Execute(_ context.Context, txn ledger.Txn) error {
	acct, err := token.Load(txn, in.TokenAccount)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// account already closed, nothing to revoke
			return nil
		}
		return fmt.Errorf("revoke delegate: %w", err)
	}
	if in.Authority != acct.Owner || !txn.IsSigner(in.Authority) {
		return fmt.Errorf("revoke delegate: %w", ledger.ErrUnauthorized)
	}
	acct.Delegate = ""
	acct.DelegatedAmount = 0
	return acct.Save(txn)
}
