package market

import (
	"errors"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/rules"
	"github.com/smartstache/keychain/internal/token"
	"github.com/smartstache/keychain/internal/transfer"
)

// ListParams identifies a listing by the names the client knows rather than
// derived addresses; builders re-derive everything from them.
type ListParams struct {
	Domain   string
	Username string
	Item     string
	Price    uint64
	Currency string
	Proceeds string
	Seller   string
}

type PurchaseParams struct {
	Domain             string
	Username           string
	Item               string
	Buyer              string
	BuyerCurrencyToken string // only for token currencies
}

type DelistParams struct {
	Domain   string
	Username string
	Item     string
	Seller   string
}

// BuildList assembles the listing transaction: the record is created, the
// escrow token account is initialized and the item moves from the seller's
// wallet into escrow under a temporary delegation to the listing address.
func BuildList(txn ledger.Txn, p ListParams) (*ledger.Transaction, error) {
	listingAddr, bump, err := derive.ListingAddress(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	escrowToken, _, err := derive.TokenAddress(listingAddr, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	sellerToken, _, err := derive.TokenAddress(p.Seller, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	ruleset, err := rules.CurrentRuleset(txn, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	seeds, err := derive.ListingSeeds(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	instrs := []ledger.Instruction{
		&CreateListing{
			Domain:   p.Domain,
			Username: p.Username,
			Item:     p.Item,
			Price:    p.Price,
			Currency: p.Currency,
			Proceeds: p.Proceeds,
			Seller:   p.Seller,
		},
		&token.InitializeAccount{Payer: p.Seller, Owner: listingAddr, Mint: p.Item},
	}
	moves, derived, err := transfer.Compose(transfer.Params{
		Item:        p.Item,
		Ruleset:     ruleset,
		Source:      sellerToken,
		SourceOwner: p.Seller,
		Dest:        escrowToken,
		DestOwner:   listingAddr,
		Delegate:    listingAddr,
	})
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	instrs = append(instrs, moves...)

	derived = append(derived, ledger.DerivedSigner{
		Seeds:     seeds,
		Bump:      bump,
		ProgramID: derive.YardsaleProgram,
	})
	return &ledger.Transaction{
		Instructions:   instrs,
		Signers:        []string{p.Seller},
		DerivedSigners: derived,
	}, nil
}

// BuildPurchase assembles the atomic purchase: payment settles, the item
// leaves escrow for the buyer under the listing's derivation proof and the
// emptied listing dissolves. The buyer's item account is initialized on the
// way when it does not exist yet.
func BuildPurchase(txn ledger.Txn, p PurchaseParams) (*ledger.Transaction, error) {
	listingAddr, bump, err := derive.ListingAddress(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build purchase: %w", err)
	}
	listing, err := LoadListing(txn, listingAddr)
	if err != nil {
		return nil, fmt.Errorf("build purchase: %w", err)
	}
	buyerToken, _, err := derive.TokenAddress(p.Buyer, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build purchase: %w", err)
	}
	ruleset, err := rules.CurrentRuleset(txn, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build purchase: %w", err)
	}
	seeds, err := derive.ListingSeeds(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build purchase: %w", err)
	}
	proof := &transfer.Escrow{Seeds: seeds, Bump: bump, ProgramID: derive.YardsaleProgram}

	var instrs []ledger.Instruction
	if _, err := token.Load(txn, buyerToken); errors.Is(err, ledger.ErrNotFound) {
		instrs = append(instrs, &token.InitializeAccount{Payer: p.Buyer, Owner: p.Buyer, Mint: p.Item})
	} else if err != nil {
		return nil, fmt.Errorf("build purchase: buyer item account: %w", err)
	}
	instrs = append(instrs, &SettlePayment{
		Listing:            listingAddr,
		Buyer:              p.Buyer,
		BuyerCurrencyToken: p.BuyerCurrencyToken,
	})
	moves, derived, err := transfer.Compose(transfer.Params{
		Item:         p.Item,
		Ruleset:      ruleset,
		Source:       listing.EscrowToken,
		SourceOwner:  listingAddr,
		Dest:         buyerToken,
		DestOwner:    p.Buyer,
		SourceEscrow: proof,
	})
	if err != nil {
		return nil, fmt.Errorf("build purchase: %w", err)
	}
	instrs = append(instrs, moves...)
	instrs = append(instrs, &CloseListing{Listing: listingAddr})

	return &ledger.Transaction{
		Instructions:   instrs,
		Signers:        []string{p.Buyer},
		DerivedSigners: derived,
	}, nil
}

// BuildDelist assembles the cancellation: the seller reclaims the item from
// escrow and the listing dissolves.
func BuildDelist(txn ledger.Txn, p DelistParams) (*ledger.Transaction, error) {
	listingAddr, bump, err := derive.ListingAddress(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build delist: %w", err)
	}
	listing, err := LoadListing(txn, listingAddr)
	if err != nil {
		return nil, fmt.Errorf("build delist: %w", err)
	}
	sellerToken, _, err := derive.TokenAddress(p.Seller, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build delist: %w", err)
	}
	ruleset, err := rules.CurrentRuleset(txn, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build delist: %w", err)
	}
	seeds, err := derive.ListingSeeds(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, fmt.Errorf("build delist: %w", err)
	}
	proof := &transfer.Escrow{Seeds: seeds, Bump: bump, ProgramID: derive.YardsaleProgram}

	instrs := []ledger.Instruction{
		&Delist{Listing: listingAddr, Seller: p.Seller},
	}
	if _, err := token.Load(txn, sellerToken); errors.Is(err, ledger.ErrNotFound) {
		instrs = append(instrs, &token.InitializeAccount{Payer: p.Seller, Owner: p.Seller, Mint: p.Item})
	} else if err != nil {
		return nil, fmt.Errorf("build delist: seller item account: %w", err)
	}
	moves, derived, err := transfer.Compose(transfer.Params{
		Item:         p.Item,
		Ruleset:      ruleset,
		Source:       listing.EscrowToken,
		SourceOwner:  listingAddr,
		Dest:         sellerToken,
		DestOwner:    p.Seller,
		SourceEscrow: proof,
	})
	if err != nil {
		return nil, fmt.Errorf("build delist: %w", err)
	}
	instrs = append(instrs, moves...)
	instrs = append(instrs, &CloseListing{Listing: listingAddr})

	return &ledger.Transaction{
		Instructions:   instrs,
		Signers:        []string{p.Seller},
		DerivedSigners: derived,
	}, nil
}
