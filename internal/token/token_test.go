package token_test

import (
	"context"
	"errors"
	"testing"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/ledger/memory"
	"github.com/smartstache/keychain/internal/token"
)

const initialFunds = 10_000_000

// setup creates a funded wallet with an initialized token account holding
// `amount` units of a fresh mint.
func setup(t *testing.T, tag string, amount uint64) (l *memory.Ledger, wallet, mint, tokenAcct string) {
	t.Helper()
	ctx := context.Background()

	l = memory.NewLedger()
	wallet = derive.SystemAddress("test/wallet/" + tag)
	mint = derive.SystemAddress("test/mint/" + tag)
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
			&token.MintTo{Account: tokenAcct, Amount: amount, Authority: wallet},
		},
	}
	if err := l.Submit(ctx, tx); err != nil {
		t.Fatalf("setup submit failed: %v", err)
	}
	return l, wallet, mint, tokenAcct
}

func balance(t *testing.T, l *memory.Ledger, addr string) uint64 {
	t.Helper()
	acct, err := token.Load(ledger.NewReader(context.Background(), l), addr)
	if err != nil {
		t.Fatalf("Load %s failed: %v", addr, err)
	}
	return acct.Amount
}

func TestTransfer_OwnerSigned(t *testing.T) {
	l, wallet, mint, src := setup(t, "transfer", 5)
	ctx := context.Background()

	other := derive.SystemAddress("test/wallet/transfer-dest")
	if err := l.Airdrop(ctx, other, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(other, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{wallet, other},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: other, Owner: other, Mint: mint},
			&token.Transfer{Source: src, Dest: dst, Authority: wallet, Amount: 2},
		},
	}
	if err := l.Submit(ctx, tx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if got := balance(t, l, src); got != 3 {
		t.Errorf("source balance %d, want 3", got)
	}
	if got := balance(t, l, dst); got != 2 {
		t.Errorf("dest balance %d, want 2", got)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	l, wallet, mint, src := setup(t, "insufficient", 1)
	ctx := context.Background()

	other := derive.SystemAddress("test/wallet/insufficient-dest")
	if err := l.Airdrop(ctx, other, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(other, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{wallet, other},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: other, Owner: other, Mint: mint},
			&token.Transfer{Source: src, Dest: dst, Authority: wallet, Amount: 2},
		},
	}
	if err := l.Submit(ctx, tx); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestTransfer_DelegateConsumesAllowance(t *testing.T) {
	l, wallet, mint, src := setup(t, "delegate", 1)
	ctx := context.Background()

	delegate := derive.SystemAddress("test/wallet/delegate")
	other := derive.SystemAddress("test/wallet/delegate-dest")
	for _, w := range []string{delegate, other} {
		if err := l.Airdrop(ctx, w, initialFunds); err != nil {
			t.Fatalf("Airdrop failed: %v", err)
		}
	}
	dst, _, err := derive.TokenAddress(other, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{wallet, delegate, other},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: other, Owner: other, Mint: mint},
			&token.Approve{Account: src, Delegate: delegate, Authority: wallet, Amount: 1},
			&token.Transfer{Source: src, Dest: dst, Authority: delegate, Amount: 1},
		},
	}
	if err := l.Submit(ctx, tx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	acct, err := token.Load(ledger.NewReader(ctx, l), src)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if acct.Delegate != "" || acct.DelegatedAmount != 0 {
		t.Errorf("delegate not consumed: %q/%d", acct.Delegate, acct.DelegatedAmount)
	}
}

func TestTransfer_FrozenRejected(t *testing.T) {
	l, wallet, mint, src := setup(t, "frozen", 1)
	ctx := context.Background()

	ruleAuth, bump, err := derive.RuleAuthorityAddress(mint)
	if err != nil {
		t.Fatalf("RuleAuthorityAddress failed: %v", err)
	}
	seeds, err := derive.RuleAuthoritySeeds(mint)
	if err != nil {
		t.Fatalf("RuleAuthoritySeeds failed: %v", err)
	}

	freeze := &ledger.Transaction{
		DerivedSigners: []ledger.DerivedSigner{{Seeds: seeds, Bump: bump, ProgramID: derive.RulesProgram}},
		Instructions: []ledger.Instruction{
			&token.Freeze{Account: src, Authority: ruleAuth},
		},
	}
	if err := l.Submit(ctx, freeze); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}

	other := derive.SystemAddress("test/wallet/frozen-dest")
	if err := l.Airdrop(ctx, other, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}
	dst, _, err := derive.TokenAddress(other, mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{wallet, other},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: other, Owner: other, Mint: mint},
			&token.Transfer{Source: src, Dest: dst, Authority: wallet, Amount: 1},
		},
	}
	if err := l.Submit(ctx, tx); !errors.Is(err, ledger.ErrRuleViolation) {
		t.Errorf("expected ErrRuleViolation, got %v", err)
	}
}

func TestCloseAccount_RefundsRent(t *testing.T) {
	l, wallet, _, src := setup(t, "close", 0)
	ctx := context.Background()

	before, err := l.Account(ctx, wallet)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}

	tx := &ledger.Transaction{
		Signers: []string{wallet},
		Instructions: []ledger.Instruction{
			&token.CloseAccount{Account: src, Recipient: wallet, Authority: wallet},
		},
	}
	if err := l.Submit(ctx, tx); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if _, err := l.Account(ctx, src); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("closed token account still present: %v", err)
	}
	after, err := l.Account(ctx, wallet)
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if after.Lamports <= before.Lamports {
		t.Errorf("rent not refunded: %d -> %d", before.Lamports, after.Lamports)
	}
}
