package market

import (
	"context"
	"errors"
	"fmt"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/registry"
	"github.com/smartstache/keychain/internal/token"
)

// CreateListing initializes the listing record at the address derived from
// (item, keychain, domain). The escrow token account and the item movement
// into it are separate instructions of the same transaction; nothing is
// observable until all of them succeed.
type CreateListing struct {
	Domain   string // domain name
	Username string
	Item     string
	Price    uint64
	Currency string
	Proceeds string
	Seller   string
}

func (in *CreateListing) Execute(_ context.Context, txn ledger.Txn) error {
	if in.Price == 0 {
		return fmt.Errorf("create listing: price must be positive: %w", ledger.ErrInvalidInput)
	}
	if in.Proceeds == "" {
		return fmt.Errorf("create listing: %w: missing proceeds account", ledger.ErrInvalidInput)
	}

	domainAddr, _, err := derive.DomainAddress(in.Domain)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	if _, err := registry.LoadDomain(txn, domainAddr); err != nil {
		return fmt.Errorf("create listing: domain %q: %w", in.Domain, err)
	}

	keychainAddr, _, err := derive.KeychainAddress(in.Domain, in.Username)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	chain, err := registry.LoadKeychain(txn, keychainAddr)
	if err != nil {
		return fmt.Errorf("create listing: keychain %q: %w", in.Username, err)
	}
	if !chain.HasVerified(in.Seller) || !txn.IsSigner(in.Seller) {
		return fmt.Errorf("create listing: seller: %w", ledger.ErrUnauthorized)
	}

	listingAddr, bump, err := derive.ListingAddress(in.Domain, in.Username, in.Item)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	if _, err := txn.Account(listingAddr); err == nil {
		return fmt.Errorf("create listing: item already listed: %w", ledger.ErrAlreadyExists)
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("create listing: %w", err)
	}

	// The seller must actually hold the item.
	sellerToken, _, err := derive.TokenAddress(in.Seller, in.Item)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}
	held, err := token.Load(txn, sellerToken)
	if err != nil {
		return fmt.Errorf("create listing: seller item account: %w", err)
	}
	if held.Amount < 1 {
		return fmt.Errorf("create listing: seller does not hold item: %w", ledger.ErrInsufficientBalance)
	}

	escrowToken, _, err := derive.TokenAddress(listingAddr, in.Item)
	if err != nil {
		return fmt.Errorf("create listing: %w", err)
	}

	rec := &domain.Listing{
		Item:        in.Item,
		Seller:      in.Seller,
		Keychain:    keychainAddr,
		Domain:      domainAddr,
		Price:       in.Price,
		Currency:    in.Currency,
		Proceeds:    in.Proceeds,
		EscrowToken: escrowToken,
		Bump:        bump,
	}
	data, err := rec.Encode()
	if err != nil {
		return err
	}

	rent := ledger.RentExemptMinimum(len(data))
	if err := txn.Debit(in.Seller, rent); err != nil {
		return fmt.Errorf("create listing: rent: %w", err)
	}
	if err := txn.CreateAccount(&ledger.Account{
		Address:  listingAddr,
		Owner:    derive.YardsaleProgram,
		Lamports: rent,
		Data:     data,
	}); err != nil {
		if errors.Is(err, ledger.ErrAlreadyExists) {
			return fmt.Errorf("create listing: item already listed: %w", err)
		}
		return err
	}
	return nil
}

// SettlePayment moves the purchase price from the buyer to the proceeds
// destination and routes the domain's protocol fee to its treasury. Native
// prices settle lamport balances; token prices settle token accounts.
type SettlePayment struct {
	Listing            string
	Buyer              string
	BuyerCurrencyToken string // required for token currencies, ignored for native
}

func (in *SettlePayment) Execute(ctx context.Context, txn ledger.Txn) error {
	listing, err := LoadListing(txn, in.Listing)
	if err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	dom, err := registry.LoadDomain(txn, listing.Domain)
	if err != nil {
		return fmt.Errorf("settle payment: domain: %w", err)
	}
	if !txn.IsSigner(in.Buyer) {
		return fmt.Errorf("settle payment: buyer: %w", ledger.ErrUnauthorized)
	}

	fee := SaleFee(listing.Price, dom.SaleFeeBps)

	if listing.Currency == domain.NativeCurrency {
		if err := txn.Debit(in.Buyer, listing.Price); err != nil {
			return fmt.Errorf("settle payment: %w", err)
		}
		if err := txn.Credit(listing.Proceeds, listing.Price-fee); err != nil {
			return fmt.Errorf("settle payment: proceeds: %w", err)
		}
		if fee > 0 {
			if err := txn.Credit(dom.Treasury, fee); err != nil {
				return fmt.Errorf("settle payment: treasury: %w", err)
			}
		}
		return nil
	}

	// Token currency: proceeds is a token account of the listing currency.
	pay := &token.Transfer{
		Source:    in.BuyerCurrencyToken,
		Dest:      listing.Proceeds,
		Authority: in.Buyer,
		Amount:    listing.Price - fee,
	}
	if err := pay.Execute(ctx, txn); err != nil {
		return fmt.Errorf("settle payment: %w", err)
	}
	if fee > 0 {
		treasuryToken, _, err := derive.TokenAddress(dom.Treasury, listing.Currency)
		if err != nil {
			return fmt.Errorf("settle payment: %w", err)
		}
		feePay := &token.Transfer{
			Source:    in.BuyerCurrencyToken,
			Dest:      treasuryToken,
			Authority: in.Buyer,
			Amount:    fee,
		}
		if err := feePay.Execute(ctx, txn); err != nil {
			return fmt.Errorf("settle payment: fee: %w", err)
		}
	}
	return nil
}

// Delist authorizes a cancellation: the seller takes the item back. Must
// precede the composer instructions in a delist transaction.
type Delist struct {
	Listing string
	Seller  string
}

func (in *Delist) Execute(_ context.Context, txn ledger.Txn) error {
	listing, err := LoadListing(txn, in.Listing)
	if err != nil {
		return fmt.Errorf("delist: %w", err)
	}
	if in.Seller != listing.Seller || !txn.IsSigner(in.Seller) {
		return fmt.Errorf("delist: %w", ledger.ErrUnauthorized)
	}
	return nil
}

// CloseListing dissolves a listing whose escrow has been emptied: the
// escrow token account and the listing record are closed and their rent is
// reclaimed by the seller. Requires the listing's own derived signature,
// so it only executes as part of a purchase or delist transition.
type CloseListing struct {
	Listing string
}

func (in *CloseListing) Execute(_ context.Context, txn ledger.Txn) error {
	listing, err := LoadListing(txn, in.Listing)
	if err != nil {
		return fmt.Errorf("close listing: %w", err)
	}
	if !txn.IsSigner(in.Listing) {
		return fmt.Errorf("close listing: %w", ledger.ErrUnauthorized)
	}

	escrow, err := token.Load(txn, listing.EscrowToken)
	if err != nil {
		return fmt.Errorf("close listing: escrow: %w", err)
	}
	if escrow.Amount != 0 {
		return fmt.Errorf("close listing: escrow not emptied: %w", ledger.ErrInvalidInput)
	}

	if err := txn.CloseAccount(listing.EscrowToken, listing.Seller); err != nil {
		return fmt.Errorf("close listing: escrow: %w", err)
	}
	if err := txn.CloseAccount(in.Listing, listing.Seller); err != nil {
		return fmt.Errorf("close listing: record: %w", err)
	}
	return nil
}
