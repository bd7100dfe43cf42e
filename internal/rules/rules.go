// Package rules implements the rule-enforcement program for programmable
// assets. A ruleset account holds a transfer policy; an asset-rule account
// links an item mint to its ruleset; gated items sit frozen at rest and the
// program thaws them only around a transfer it has validated.
package rules

import (
	"errors"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
)

// Policy is the kind of transfer rule a ruleset enforces.
type Policy byte

const (
	// PolicyAllowAll authorizes any counterparty.
	PolicyAllowAll Policy = iota
	// PolicyAllowList authorizes transfers only when both owners are on the
	// allow list.
	PolicyAllowList
	// PolicyDenyAll rejects every gated transfer.
	PolicyDenyAll
)

// Ruleset is the policy record evaluated during a gated transfer.
type Ruleset struct {
	Address   string
	Authority string
	Name      string
	Policy    Policy
	Allowed   []string
	Bump      byte
}

// Validate evaluates the policy for a movement between two owners.
func (r *Ruleset) Validate(fromOwner, toOwner string) error {
	switch r.Policy {
	case PolicyAllowAll:
		return nil
	case PolicyDenyAll:
		return fmt.Errorf("ruleset %s denies all transfers: %w", r.Name, ledger.ErrRuleViolation)
	case PolicyAllowList:
		if !r.allows(fromOwner) || !r.allows(toOwner) {
			return fmt.Errorf("ruleset %s: counterparty not allowed: %w", r.Name, ledger.ErrRuleViolation)
		}
		return nil
	default:
		return fmt.Errorf("ruleset %s: unknown policy %d: %w", r.Name, r.Policy, ledger.ErrInvalidInput)
	}
}

func (r *Ruleset) allows(owner string) bool {
	for _, a := range r.Allowed {
		if a == owner {
			return true
		}
	}
	return false
}

func (r *Ruleset) encode() ([]byte, error) {
	var e domain.Encoder
	e.Address(r.Authority)
	e.String(r.Name)
	e.U8(byte(r.Policy))
	e.U16(uint16(len(r.Allowed)))
	for _, a := range r.Allowed {
		e.Address(a)
	}
	e.U8(r.Bump)
	return e.Bytes()
}

func decodeRuleset(addr string, data []byte) (*Ruleset, error) {
	dec := domain.NewDecoder(data)
	r := &Ruleset{
		Address:   addr,
		Authority: dec.Address(),
		Name:      dec.String(),
		Policy:    Policy(dec.U8()),
	}
	n := int(dec.U16())
	for i := 0; i < n && dec.Err() == nil; i++ {
		r.Allowed = append(r.Allowed, dec.Address())
	}
	r.Bump = dec.U8()
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode ruleset: %w", err)
	}
	return r, nil
}

// assetRule links an item mint to its ruleset.
type assetRule struct {
	Mint    string
	Ruleset string
	Bump    byte
}

func (a *assetRule) encode() ([]byte, error) {
	var e domain.Encoder
	e.Address(a.Mint)
	e.Address(a.Ruleset)
	e.U8(a.Bump)
	return e.Bytes()
}

func decodeAssetRule(data []byte) (*assetRule, error) {
	dec := domain.NewDecoder(data)
	a := &assetRule{
		Mint:    dec.Address(),
		Ruleset: dec.Address(),
		Bump:    dec.U8(),
	}
	if err := dec.Err(); err != nil {
		return nil, fmt.Errorf("decode asset rule: %w", err)
	}
	return a, nil
}

// CurrentRuleset returns the ruleset address governing mint, or "" when the
// mint is not rule-gated. This is the query-current-rule primitive.
func CurrentRuleset(txn ledger.Txn, mint string) (string, error) {
	addr, _, err := derive.AssetRuleAddress(mint)
	if err != nil {
		return "", err
	}
	raw, err := txn.Account(addr)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	rule, err := decodeAssetRule(raw.Data)
	if err != nil {
		return "", err
	}
	return rule.Ruleset, nil
}

// LoadRuleset reads and decodes the ruleset account at addr.
func LoadRuleset(txn ledger.Txn, addr string) (*Ruleset, error) {
	raw, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != derive.RulesProgram {
		return nil, fmt.Errorf("%w: %s is not a ruleset account", ledger.ErrInvalidInput, addr)
	}
	return decodeRuleset(addr, raw.Data)
}
