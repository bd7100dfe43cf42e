// Package main derives protocol account addresses from their seeds.
// Useful when inspecting ledger state or wiring test fixtures.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/smartstache/keychain/internal/derive"
)

func main() {
	domainName := flag.String("domain", "", "Domain name")
	username := flag.String("username", "", "Keychain username within the domain")
	wallet := flag.String("wallet", "", "Wallet address, for keychain key lookup")
	item := flag.String("item", "", "Item mint address, for listing lookup")
	owner := flag.String("owner", "", "Token account owner address")
	mint := flag.String("mint", "", "Token mint address")
	authority := flag.String("authority", "", "Ruleset authority address")
	ruleset := flag.String("ruleset", "", "Ruleset name")

	flag.Parse()

	logger := log.New(os.Stderr, "", 0)

	switch {
	case *domainName != "" && *item != "" && *username != "":
		listingAddr, bump, err := derive.ListingAddress(*domainName, *username, *item)
		if err != nil {
			logger.Fatalf("derive listing address: %v", err)
		}
		emit("listing", listingAddr, bump)
		escrow, escrowBump, err := derive.TokenAddress(listingAddr, *item)
		if err != nil {
			logger.Fatalf("derive escrow token address: %v", err)
		}
		emit("escrow_token", escrow, escrowBump)

	case *domainName != "" && *wallet != "":
		addr, bump, err := derive.KeychainKeyAddress(*domainName, *wallet)
		if err != nil {
			logger.Fatalf("derive keychain key address: %v", err)
		}
		emit("keychain_key", addr, bump)

	case *domainName != "" && *username != "":
		addr, bump, err := derive.KeychainAddress(*domainName, *username)
		if err != nil {
			logger.Fatalf("derive keychain address: %v", err)
		}
		emit("keychain", addr, bump)

	case *domainName != "":
		addr, bump, err := derive.DomainAddress(*domainName)
		if err != nil {
			logger.Fatalf("derive domain address: %v", err)
		}
		emit("domain", addr, bump)

	case *owner != "" && *mint != "":
		addr, bump, err := derive.TokenAddress(*owner, *mint)
		if err != nil {
			logger.Fatalf("derive token address: %v", err)
		}
		emit("token", addr, bump)

	case *mint != "":
		addr, bump, err := derive.AssetRuleAddress(*mint)
		if err != nil {
			logger.Fatalf("derive asset rule address: %v", err)
		}
		emit("asset_rule", addr, bump)

	case *authority != "" && *ruleset != "":
		addr, bump, err := derive.RulesetAddress(*authority, *ruleset)
		if err != nil {
			logger.Fatalf("derive ruleset address: %v", err)
		}
		emit("ruleset", addr, bump)

	default:
		flag.Usage()
		os.Exit(2)
	}
}

func emit(kind, addr string, bump byte) {
	fmt.Printf("%s\t%s\tbump=%d\n", kind, addr, bump)
}
