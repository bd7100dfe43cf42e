package rules_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/ledger/memory"
	"github.com/smartstache/keychain/internal/rules"
	"github.com/smartstache/keychain/internal/token"
)

const initialFunds = 100_000_000

// gatedSetup creates a funded issuer holding one unit of a fresh mint gated
// by a ruleset with the given policy.
func gatedSetup(t *testing.T, tag string, policy rules.Policy, allowed []string) (l *memory.Ledger, issuer, mint, holderToken, rulesetAddr string) {
	t.Helper()
	ctx := context.Background()

	l = memory.NewLedger()
	issuer = derive.SystemAddress("test/issuer/" + tag)
	mint = derive.SystemAddress("test/gated-mint/" + tag)
	if err := l.Airdrop(ctx, issuer, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}

	var err error
	holderToken, _, err = derive.TokenAddress(issuer, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}
	rulesetAddr, _, err = derive.RulesetAddress(issuer, "policy")
	if err != nil {
		t.Fatalf("RulesetAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{issuer},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: issuer, Owner: issuer, Mint: mint},
			&token.MintTo{Account: holderToken, Amount: 1, Authority: issuer},
			&rules.CreateRuleset{Authority: issuer, Name: "policy", Policy: policy, Allowed: allowed},
			&rules.AttachRuleset{Payer: issuer, Mint: mint, Ruleset: rulesetAddr, HolderToken: holderToken},
		},
	}
	if err := l.Submit(ctx, tx); err != nil {
		t.Fatalf("gated setup failed: %v", err)
	}
	return l, issuer, mint, holderToken, rulesetAddr
}

func TestAttachRuleset_FreezesHolder(t *testing.T) {
	l, _, _, holderToken, _ := gatedSetup(t, "freeze", rules.PolicyAllowAll, nil)

	acct, err := token.Load(ledger.NewReader(context.Background(), l), holderToken)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !acct.Frozen {
		t.Error("holder token account not frozen after attach")
	}
}

func TestGatedTransfer_AllowAll(t *testing.T) {
	l, issuer, mint, src, rulesetAddr := gatedSetup(t, "allow", rules.PolicyAllowAll, nil)
	ctx := context.Background()

	recipient := derive.SystemAddress("test/recipient/allow")
	if err := l.Airdrop(ctx, recipient, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(recipient, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{issuer, recipient},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: recipient, Owner: recipient, Mint: mint},
			&rules.TransferUnderDelegate{Mint: mint, Source: src, Dest: dst, Authority: issuer, Ruleset: rulesetAddr},
		},
	}
	if err := l.Submit(ctx, tx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	got, err := token.Load(ledger.NewReader(ctx, l), dst)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Amount != 1 {
		t.Errorf("dest balance %d, want 1", got.Amount)
	}
	if !got.Frozen {
		t.Error("item not refrozen at destination")
	}
}

func TestGatedTransfer_DenyAll(t *testing.T) {
	l, issuer, mint, src, rulesetAddr := gatedSetup(t, "deny", rules.PolicyDenyAll, nil)
	ctx := context.Background()

	recipient := derive.SystemAddress("test/recipient/deny")
	if err := l.Airdrop(ctx, recipient, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(recipient, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{issuer, recipient},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: recipient, Owner: recipient, Mint: mint},
			&rules.TransferUnderDelegate{Mint: mint, Source: src, Dest: dst, Authority: issuer, Ruleset: rulesetAddr},
		},
	}
	if err := l.Submit(ctx, tx); !errors.Is(err, ledger.ErrRuleViolation) {
		t.Fatalf("expected ErrRuleViolation, got %v", err)
	}

	// source unchanged
	got, err := token.Load(ledger.NewReader(ctx, l), src)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Amount != 1 || !got.Frozen {
		t.Errorf("source mutated by rejected transfer: amount=%d frozen=%v", got.Amount, got.Frozen)
	}
}

func TestGatedTransfer_AllowListRejectsOutsider(t *testing.T) {
	outsider := derive.SystemAddress("test/outsider")
	insider := derive.SystemAddress("test/insider")

	l, issuer, mint, src, rulesetAddr := gatedSetup(t, "allowlist", rules.PolicyAllowList, []string{insider})
	ctx := context.Background()

	if err := l.Airdrop(ctx, outsider, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(outsider, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{issuer, outsider},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: outsider, Owner: outsider, Mint: mint},
			&rules.TransferUnderDelegate{Mint: mint, Source: src, Dest: dst, Authority: issuer, Ruleset: rulesetAddr},
		},
	}
	if err := l.Submit(ctx, tx); !errors.Is(err, ledger.ErrRuleViolation) {
		t.Errorf("expected ErrRuleViolation, got %v", err)
	}
}

func TestGatedTransfer_WrongRulesetRejected(t *testing.T) {
	l, issuer, mint, src, _ := gatedSetup(t, "wrong-ruleset", rules.PolicyAllowAll, nil)
	ctx := context.Background()

	otherRuleset, _, err := derive.RulesetAddress(issuer, "other")
	if err != nil {
		t.Fatalf("RulesetAddress failed: %v", err)
	}

	recipient := derive.SystemAddress("test/recipient/wrong-ruleset")
	if err := l.Airdrop(ctx, recipient, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(recipient, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{issuer, recipient},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: recipient, Owner: recipient, Mint: mint},
			&rules.CreateRuleset{Authority: issuer, Name: "other", Policy: rules.PolicyAllowAll},
			&rules.TransferUnderDelegate{Mint: mint, Source: src, Dest: dst, Authority: issuer, Ruleset: otherRuleset},
		},
	}
	if err := l.Submit(ctx, tx); !errors.Is(err, ledger.ErrRuleViolation) {
		t.Errorf("expected ErrRuleViolation, got %v", err)
	}
}

func TestCreateDelegate_RequiresGatedMint(t *testing.T) {
	l := memory.NewLedger()
	ctx := context.Background()

	wallet := derive.SystemAddress("test/ungated-wallet")
	mint := derive.SystemAddress("test/ungated-mint")
	if err := l.Airdrop(ctx, wallet, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	tokenAcct, _, err := derive.TokenAddress(wallet, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{wallet},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: wallet, Owner: wallet, Mint: mint},
			&rules.CreateDelegate{TokenAccount: tokenAcct, Delegate: derive.SystemAddress("test/delegate"), Authority: wallet},
		},
	}
	if err := l.Submit(ctx, tx); !errors.Is(err, ledger.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for ungated mint, got %v", err)
	}
}
