package domain

// NativeCurrency is the sentinel mint address for payments in the native
// unit. Listings priced in it settle lamport balances directly instead of
// going through token accounts.
const NativeCurrency = "So11111111111111111111111111111111111111112"

// Limits on registry records.
const (
	MaxNameLen      = 32 // domain and keychain names
	MaxKeychainKeys = 3  // wallets linkable to one keychain
	MaxFeeBps       = 10_000
)

// Domain is a named identity namespace with its own fee configuration.
// Stored at the derived domain address under the keychain program.
type Domain struct {
	Name       string // unique, human-chosen, immutable
	Authority  string // wallet that administers the domain
	Treasury   string // payable account receiving protocol fees
	RenameCost uint64 // cost of a future rename, base units
	SaleFeeBps uint16 // protocol fee on purchases, basis points
	Bump       byte
}

// KeychainKeyEntry is one wallet linked to a keychain. Keys added by an
// existing member start unverified until the added wallet co-signs.
type KeychainKeyEntry struct {
	Wallet   string
	Verified bool
}

// Keychain is a claimed identity inside a domain.
// Stored at the derived keychain address under the keychain program.
type Keychain struct {
	Name   string // unique within the domain
	Domain string // domain account address
	Keys   []KeychainKeyEntry
	Bump   byte
}

// NumVerified returns the count of verified keys on the chain.
func (k *Keychain) NumVerified() int {
	n := 0
	for _, e := range k.Keys {
		if e.Verified {
			n++
		}
	}
	return n
}

// HasVerified reports whether wallet is a verified key on the chain.
func (k *Keychain) HasVerified(wallet string) bool {
	for _, e := range k.Keys {
		if e.Wallet == wallet && e.Verified {
			return true
		}
	}
	return false
}

// HasKey reports whether wallet appears on the chain, verified or not.
func (k *Keychain) HasKey(wallet string) bool {
	for _, e := range k.Keys {
		if e.Wallet == wallet {
			return true
		}
	}
	return false
}

// KeychainKey is the reverse-index entry mapping a wallet to its keychain
// within a domain. At most one exists per (wallet, domain).
type KeychainKey struct {
	Wallet   string
	Domain   string // domain account address
	Keychain string // keychain account address
	Bump     byte
}

// Listing is an active sale record. It exists iff the escrow token account
// holds the listed item. Stored at the derived listing address under the
// yardsale program; the escrow token account is owned by this record.
type Listing struct {
	Item        string // item mint address
	Seller      string // wallet that listed, receives reclaimed rent
	Keychain    string // seller keychain account address
	Domain      string // domain account address
	Price       uint64 // in base units of Currency
	Currency    string // mint address, or NativeCurrency
	Proceeds    string // payout destination (wallet, or token account for token currencies)
	EscrowToken string // derived token account holding the item
	Bump        byte
}
