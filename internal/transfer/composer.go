// Package transfer composes the ordered instruction sequence that moves one
// unit of a rule-gated asset between two custody accounts: acquire a
// transfer authority scoped to this movement, execute under the asset's
// current rule, release the authority. Both the list (seller to escrow) and
// the buy (escrow to buyer) transitions reuse the same composer; only the
// direction and which side is program-owned differ.
package transfer

import (
	"context"
	"fmt"

	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/rules"
)

// Escrow carries the derivation proof for a program-owned source: the
// enclosing transaction authorizes the owner via a derived signer built
// from these seeds.
type Escrow struct {
	Seeds     [][]byte
	Bump      byte
	ProgramID string
}

// Params describes one gated movement.
type Params struct {
	Item        string // item mint
	Ruleset     string // policy account presented to the rules program
	Source      string // source token account
	SourceOwner string // wallet, or derived escrow owner
	Dest        string // destination token account (must already exist)
	DestOwner   string
	Delegate    string // movement-scoped delegate, typically the listing address

	// SourceEscrow is set when the source is program custody. Selects the
	// escrow strategy and supplies the derivation proof.
	SourceEscrow *Escrow
}

// custody is the per-custody-type delegation strategy. Two implementations
// exist, chosen by a capability check on the source owner; the sequence is
// always acquire, execute, release.
type custody interface {
	acquireDelegate(p Params) []ledger.Instruction
	executeTransfer(p Params) []ledger.Instruction
	releaseDelegate(p Params) []ledger.Instruction
}

// Compose returns the instruction sequence for one gated movement, plus the
// derived signer the enclosing transaction must carry for program custody.
func Compose(p Params) ([]ledger.Instruction, []ledger.DerivedSigner, error) {
	if p.Item == "" || p.Source == "" || p.Dest == "" {
		return nil, nil, fmt.Errorf("transfer compose: %w: missing account", ledger.ErrInvalidInput)
	}
	if p.Ruleset == "" {
		return nil, nil, fmt.Errorf("transfer compose: %w: item is not rule-gated", ledger.ErrRuleViolation)
	}

	strategy, signers, err := strategyFor(p)
	if err != nil {
		return nil, nil, err
	}

	var seq []ledger.Instruction
	seq = append(seq, strategy.acquireDelegate(p)...)
	seq = append(seq, strategy.executeTransfer(p)...)
	seq = append(seq, strategy.releaseDelegate(p)...)
	return seq, signers, nil
}

// strategyFor selects the custody strategy: a source owner that proves
// derivation is program custody, anything else is a wallet.
func strategyFor(p Params) (custody, []ledger.DerivedSigner, error) {
	if p.SourceEscrow == nil {
		if p.Delegate == "" {
			return nil, nil, fmt.Errorf("transfer compose: %w: wallet custody needs a delegate", ledger.ErrInvalidInput)
		}
		return walletCustody{}, nil, nil
	}

	ds := ledger.DerivedSigner{
		Seeds:     p.SourceEscrow.Seeds,
		Bump:      p.SourceEscrow.Bump,
		ProgramID: p.SourceEscrow.ProgramID,
	}
	addr, err := ds.Address()
	if err != nil {
		return nil, nil, fmt.Errorf("transfer compose: %w", err)
	}
	if addr != p.SourceOwner {
		return nil, nil, fmt.Errorf("transfer compose: escrow proof does not match source owner: %w", ledger.ErrUnauthorized)
	}
	return escrowCustody{}, []ledger.DerivedSigner{ds}, nil
}

// walletCustody: the owner signs an approval for a movement-scoped
// delegate, the delegate executes, and any residual allowance is revoked.
type walletCustody struct{}

func (walletCustody) acquireDelegate(p Params) []ledger.Instruction {
	return []ledger.Instruction{
		&rules.CreateDelegate{
			TokenAccount: p.Source,
			Delegate:     p.Delegate,
			Authority:    p.SourceOwner,
		},
	}
}

func (walletCustody) executeTransfer(p Params) []ledger.Instruction {
	return []ledger.Instruction{
		&rules.TransferUnderDelegate{
			Mint:      p.Item,
			Source:    p.Source,
			Dest:      p.Dest,
			Authority: p.Delegate,
			Ruleset:   p.Ruleset,
		},
	}
}

func (walletCustody) releaseDelegate(p Params) []ledger.Instruction {
	return []ledger.Instruction{
		&rules.RevokeDelegate{
			TokenAccount: p.Source,
			Authority:    p.SourceOwner,
		},
	}
}

// escrowCustody: the source owner is a derived address, so authorization is
// the derivation proof itself; the owner "signs" via the derived signer and
// transfers directly. Nothing to release: the escrow account is closed by
// the enclosing transition, which consumes the authority.
type escrowCustody struct{}

func (escrowCustody) acquireDelegate(p Params) []ledger.Instruction {
	return []ledger.Instruction{&assertSigner{Address: p.SourceOwner}}
}

func (escrowCustody) executeTransfer(p Params) []ledger.Instruction {
	return []ledger.Instruction{
		&rules.TransferUnderDelegate{
			Mint:      p.Item,
			Source:    p.Source,
			Dest:      p.Dest,
			Authority: p.SourceOwner,
			Ruleset:   p.Ruleset,
		},
	}
}

func (escrowCustody) releaseDelegate(Params) []ledger.Instruction { return nil }

// assertSigner fails early when the derivation proof did not make it into
// the transaction's signer set.
type assertSigner struct {
	Address string
}

func (in *assertSigner) Execute(_ context.Context, txn ledger.Txn) error {
	if !txn.IsSigner(in.Address) {
		return fmt.Errorf("escrow custody: derivation proof missing: %w", ledger.ErrUnauthorized)
	}
	return nil
}
