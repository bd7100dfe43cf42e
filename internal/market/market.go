// Package market implements the listing ledger: one record per active
// listing, holding the escrowed item, its price and payout destination.
// The record exists iff the item sits in the listing's escrow custody
// account; create and purchase are the only transitions that touch either.
package market

import (
	"fmt"
	"math/bits"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
)

// LoadListing reads and decodes the listing record at addr.
func LoadListing(txn ledger.Txn, addr string) (*domain.Listing, error) {
	raw, err := txn.Account(addr)
	if err != nil {
		return nil, err
	}
	if raw.Owner != derive.YardsaleProgram {
		return nil, fmt.Errorf("%w: %s is not a listing account", ledger.ErrInvalidInput, addr)
	}
	return domain.DecodeListing(raw.Data)
}

// SaleFee returns the protocol fee for a price under the domain's
// configured basis points. The 128-bit intermediate keeps the product
// exact for prices near the uint64 ceiling; feeBps never exceeds
// 10_000, so the quotient always fits.
func SaleFee(price uint64, feeBps uint16) uint64 {
	hi, lo := bits.Mul64(price, uint64(feeBps))
	fee, _ := bits.Div64(hi, lo, 10_000)
	return fee
}
