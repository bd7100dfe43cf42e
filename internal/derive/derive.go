// Package derive implements the deterministic address-derivation scheme.
// An address is the SHA256 of ordered seed components, a bump byte, the
// owning program id and a fixed marker, accepted only when the digest is
// not a valid edwards25519 point: off-curve addresses have no matching
// private key, so derived accounts cannot be forged by an external signer.
package derive

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const derivationMarker = "ProgramDerivedAddress"

// ErrNoBump is returned when no bump in [0, 255] yields an off-curve
// address. Effectively impossible; callers treat it as fatal.
var ErrNoBump = errors.New("no valid bump found for seeds")

// ErrOnCurve is returned by ProgramAddress when the seeds+bump combination
// lands on the curve and is therefore not a usable derived address.
var ErrOnCurve = errors.New("derived address is on the curve")

// Program identities. Fixed 32-byte values derived from a tag, standing in
// for deployed program ids; there is no existing on-chain state to stay
// compatible with.
var (
	KeychainProgram = SystemAddress("program/keychain")
	YardsaleProgram = SystemAddress("program/yardsale")
	TokenProgram    = SystemAddress("program/token")
	RulesProgram    = SystemAddress("program/rules")
	SystemProgram   = SystemAddress("program/system")
)

// Seed tags. Part of the derivation scheme; changing one re-keys every
// account of that type.
const (
	tagDomain        = "domain"
	tagKeychain      = "keychain"
	tagKeychainKey   = "key"
	tagListing       = "listing"
	tagToken         = "token"
	tagRuleset       = "ruleset"
	tagAssetRule     = "asset-rule"
	tagRuleAuthority = "rule-authority"
)

// SystemAddress returns the fixed address for a well-known tag. Used for
// program identities and other singleton accounts.
func SystemAddress(tag string) string {
	sum := sha256.Sum256([]byte("keychain/system/" + tag))
	return base58.Encode(sum[:])
}

// FindProgramAddress searches bumps 255..0 for the first off-curve address
// derived from seeds under programID.
func FindProgramAddress(seeds [][]byte, programID string) (string, byte, error) {
	program, err := decodeAddress(programID)
	if err != nil {
		return "", 0, fmt.Errorf("derive: program id: %w", err)
	}
	for i := 0; i < 256; i++ {
		bump := byte(255 - i)
		addr := hashSeeds(seeds, bump, program)
		if isOffCurve(addr) {
			return base58.Encode(addr), bump, nil
		}
	}
	return "", 0, ErrNoBump
}

// ProgramAddress recomputes the address for seeds and a known bump. Used to
// verify a claimed derivation rather than search for one.
func ProgramAddress(seeds [][]byte, bump byte, programID string) (string, error) {
	program, err := decodeAddress(programID)
	if err != nil {
		return "", fmt.Errorf("derive: program id: %w", err)
	}
	addr := hashSeeds(seeds, bump, program)
	if !isOffCurve(addr) {
		return "", ErrOnCurve
	}
	return base58.Encode(addr), nil
}

func hashSeeds(seeds [][]byte, bump byte, program []byte) []byte {
	h := sha256.New()
	for _, s := range seeds {
		h.Write(s)
	}
	h.Write([]byte{bump})
	h.Write(program)
	h.Write([]byte(derivationMarker))
	return h.Sum(nil)
}

// isOffCurve reports whether b does not decode as an edwards25519 point.
func isOffCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err != nil
}

func decodeAddress(addr string) ([]byte, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("address %q is %d bytes, want 32", addr, len(raw))
	}
	return raw, nil
}

// DomainSeeds returns the seed components for a domain account.
func DomainSeeds(name string) [][]byte {
	return [][]byte{[]byte(tagDomain), []byte(name)}
}

// DomainAddress derives the domain account for name.
func DomainAddress(name string) (string, byte, error) {
	return FindProgramAddress(DomainSeeds(name), KeychainProgram)
}

// KeychainSeeds returns the seed components for a keychain account.
func KeychainSeeds(domainName, username string) [][]byte {
	return [][]byte{[]byte(tagKeychain), []byte(domainName), []byte(username)}
}

// KeychainAddress derives the keychain account for username in a domain.
func KeychainAddress(domainName, username string) (string, byte, error) {
	return FindProgramAddress(KeychainSeeds(domainName, username), KeychainProgram)
}

// KeychainKeySeeds returns the seed components for a reverse-index entry.
func KeychainKeySeeds(domainName, wallet string) ([][]byte, error) {
	raw, err := decodeAddress(wallet)
	if err != nil {
		return nil, fmt.Errorf("derive: wallet: %w", err)
	}
	return [][]byte{[]byte(tagKeychainKey), []byte(domainName), raw}, nil
}

// KeychainKeyAddress derives the reverse-index entry for wallet in a domain.
func KeychainKeyAddress(domainName, wallet string) (string, byte, error) {
	seeds, err := KeychainKeySeeds(domainName, wallet)
	if err != nil {
		return "", 0, err
	}
	return FindProgramAddress(seeds, KeychainProgram)
}

// ListingSeeds returns the seed components for a listing account. The
// (item, keychain, domain) tuple keys the listing, so a second listing for
// the same tuple collides instead of double-listing.
func ListingSeeds(domainName, username, item string) ([][]byte, error) {
	raw, err := decodeAddress(item)
	if err != nil {
		return nil, fmt.Errorf("derive: item: %w", err)
	}
	return [][]byte{[]byte(tagListing), []byte(domainName), []byte(username), raw}, nil
}

// ListingAddress derives the listing account for an item listed by
// username's keychain in a domain.
func ListingAddress(domainName, username, item string) (string, byte, error) {
	seeds, err := ListingSeeds(domainName, username, item)
	if err != nil {
		return "", 0, err
	}
	return FindProgramAddress(seeds, YardsaleProgram)
}

// TokenAddress derives the associated token account for (owner, mint).
// Escrow custody accounts are the token address of the listing record.
func TokenAddress(owner, mint string) (string, byte, error) {
	rawOwner, err := decodeAddress(owner)
	if err != nil {
		return "", 0, fmt.Errorf("derive: owner: %w", err)
	}
	rawMint, err := decodeAddress(mint)
	if err != nil {
		return "", 0, fmt.Errorf("derive: mint: %w", err)
	}
	seeds := [][]byte{[]byte(tagToken), rawOwner, rawMint}
	return FindProgramAddress(seeds, TokenProgram)
}

// RulesetAddress derives a ruleset account for (authority, name).
func RulesetAddress(authority, name string) (string, byte, error) {
	raw, err := decodeAddress(authority)
	if err != nil {
		return "", 0, fmt.Errorf("derive: authority: %w", err)
	}
	seeds := [][]byte{[]byte(tagRuleset), raw, []byte(name)}
	return FindProgramAddress(seeds, RulesProgram)
}

// AssetRuleAddress derives the metadata account linking an item mint to its
// ruleset.
func AssetRuleAddress(mint string) (string, byte, error) {
	raw, err := decodeAddress(mint)
	if err != nil {
		return "", 0, fmt.Errorf("derive: mint: %w", err)
	}
	seeds := [][]byte{[]byte(tagAssetRule), raw}
	return FindProgramAddress(seeds, RulesProgram)
}

// RuleAuthoritySeeds returns the seed components for the per-mint authority
// the rules program uses to freeze and thaw gated token accounts.
func RuleAuthoritySeeds(mint string) ([][]byte, error) {
	raw, err := decodeAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("derive: mint: %w", err)
	}
	return [][]byte{[]byte(tagRuleAuthority), raw}, nil
}

// RuleAuthorityAddress derives the rules program's freeze authority for mint.
func RuleAuthorityAddress(mint string) (string, byte, error) {
	seeds, err := RuleAuthoritySeeds(mint)
	if err != nil {
		return "", 0, err
	}
	return FindProgramAddress(seeds, RulesProgram)
}
