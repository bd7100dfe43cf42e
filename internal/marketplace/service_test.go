package marketplace_test

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/ledger/memory"
	"github.com/smartstache/keychain/internal/market"
	"github.com/smartstache/keychain/internal/marketplace"
	"github.com/smartstache/keychain/internal/observability"
	"github.com/smartstache/keychain/internal/rules"
	storagemem "github.com/smartstache/keychain/internal/storage/memory"
	"github.com/smartstache/keychain/internal/token"
)

const (
	initialFunds = 10_000_000_000
	listPrice    = 10_000_000 // 0.01 native
	saleFeeBps   = 250
)

// captureSink records published events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []marketplace.Event
}

func (c *captureSink) Publish(e marketplace.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type env struct {
	svc    *marketplace.Service
	ledger *memory.Ledger
	sales  *storagemem.SaleStore
	sink   *captureSink

	admin    string
	treasury string
	seller   string
	proceeds string
	buyer    string
	mint     string
}

func newEnv(t *testing.T, tag string) *env {
	t.Helper()
	ctx := context.Background()

	e := &env{
		ledger:   memory.NewLedger(),
		sales:    storagemem.NewSaleStore(),
		sink:     &captureSink{},
		admin:    derive.SystemAddress("test/admin/" + tag),
		treasury: derive.SystemAddress("test/treasury/" + tag),
		seller:   derive.SystemAddress("test/seller/" + tag),
		proceeds: derive.SystemAddress("test/proceeds/" + tag),
		buyer:    derive.SystemAddress("test/buyer/" + tag),
		mint:     derive.SystemAddress("test/item/" + tag),
	}
	e.svc = marketplace.NewService(e.ledger, e.sales,
		marketplace.WithEventSink(e.sink),
		marketplace.WithLogger(log.New(io.Discard, "", 0)),
		marketplace.WithClock(func() time.Time { return time.Unix(1_756_600_000, 0) }),
	)

	for _, w := range []string{e.admin, e.seller, e.buyer} {
		if err := e.svc.Airdrop(ctx, w, initialFunds); err != nil {
			t.Fatalf("Airdrop failed: %v", err)
		}
	}
	return e
}

// setupShop registers the "shop" domain, the "alice" keychain and one gated
// item held by the seller.
func (e *env) setupShop(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.svc.CreateDomain(ctx, marketplace.CreateDomainParams{
		Name:       "shop",
		SaleFeeBps: saleFeeBps,
		Treasury:   e.treasury,
		Authority:  e.admin,
	}); err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}
	if _, err := e.svc.CreateKeychain(ctx, marketplace.CreateKeychainParams{
		Domain:    "shop",
		Username:  "alice",
		Wallet:    e.seller,
		Authority: e.seller,
	}); err != nil {
		t.Fatalf("CreateKeychain failed: %v", err)
	}

	sellerToken, _, err := derive.TokenAddress(e.seller, e.mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}
	ruleset, _, err := derive.RulesetAddress(e.admin, "open")
	if err != nil {
		t.Fatalf("RulesetAddress failed: %v", err)
	}
	tx := &ledger.Transaction{
		Signers: []string{e.admin, e.seller},
		Instructions: []ledger.Instruction{
			&token.InitializeAccount{Payer: e.seller, Owner: e.seller, Mint: e.mint},
			&token.MintTo{Account: sellerToken, Amount: 1, Authority: e.seller},
			&rules.CreateRuleset{Authority: e.admin, Name: "open", Policy: rules.PolicyAllowAll},
			&rules.AttachRuleset{Payer: e.admin, Mint: e.mint, Ruleset: ruleset, HolderToken: sellerToken},
		},
	}
	if err := e.ledger.Submit(ctx, tx); err != nil {
		t.Fatalf("item setup failed: %v", err)
	}
}

func TestService_FullSaleLifecycle(t *testing.T) {
	e := newEnv(t, "lifecycle")
	e.setupShop(t)
	ctx := context.Background()

	listingAddr, err := e.svc.ListItem(ctx, market.ListParams{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Price:    listPrice,
		Currency: domain.NativeCurrency,
		Proceeds: e.proceeds,
		Seller:   e.seller,
	})
	if err != nil {
		t.Fatalf("ListItem failed: %v", err)
	}

	got, err := e.svc.GetListing(ctx, "shop", "alice", e.mint)
	if err != nil {
		t.Fatalf("GetListing failed: %v", err)
	}
	if got.Price != listPrice || got.Seller != e.seller {
		t.Errorf("listing %+v does not match params", got)
	}

	sale, err := e.svc.PurchaseItem(ctx, market.PurchaseParams{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Buyer:    e.buyer,
	})
	if err != nil {
		t.Fatalf("PurchaseItem failed: %v", err)
	}

	fee := market.SaleFee(listPrice, saleFeeBps)
	if sale.Price != listPrice || sale.Fee != fee || sale.Listing != listingAddr {
		t.Errorf("sale record %+v does not match listing", sale)
	}

	// The buyer holds the item, frozen at rest.
	buyerToken, _, err := derive.TokenAddress(e.buyer, e.mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}
	acct, err := token.Load(ledger.NewReader(ctx, e.ledger), buyerToken)
	if err != nil {
		t.Fatalf("buyer token Load failed: %v", err)
	}
	if acct.Amount != 1 || !acct.Frozen {
		t.Errorf("buyer amount=%d frozen=%v, want 1/true", acct.Amount, acct.Frozen)
	}

	// Proceeds and treasury settled.
	if bal, _ := e.svc.Balance(ctx, e.proceeds); bal != listPrice-fee {
		t.Errorf("proceeds %d, want %d", bal, listPrice-fee)
	}
	if bal, _ := e.svc.Balance(ctx, e.treasury); bal != fee {
		t.Errorf("treasury %d, want %d", bal, fee)
	}

	// The listing is gone.
	if _, err := e.svc.GetListing(ctx, "shop", "alice", e.mint); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("listing survived purchase: %v", err)
	}

	// The sale landed in the history.
	history, err := e.svc.SalesByItem(ctx, e.mint)
	if err != nil {
		t.Fatalf("SalesByItem failed: %v", err)
	}
	if len(history) != 1 || history[0].SaleID != sale.SaleID {
		t.Errorf("history %+v does not contain the sale", history)
	}

	wantEvents := []string{
		marketplace.EventDomainCreated,
		marketplace.EventKeychainCreated,
		marketplace.EventListingCreated,
		marketplace.EventListingSold,
	}
	gotEvents := e.sink.types()
	if len(gotEvents) != len(wantEvents) {
		t.Fatalf("events %v, want %v", gotEvents, wantEvents)
	}
	for i := range wantEvents {
		if gotEvents[i] != wantEvents[i] {
			t.Errorf("event[%d] = %s, want %s", i, gotEvents[i], wantEvents[i])
		}
	}
}

func TestService_DelistLifecycle(t *testing.T) {
	e := newEnv(t, "delist")
	e.setupShop(t)
	ctx := context.Background()

	if _, err := e.svc.ListItem(ctx, market.ListParams{
		Domain: "shop", Username: "alice", Item: e.mint,
		Price: listPrice, Currency: domain.NativeCurrency,
		Proceeds: e.proceeds, Seller: e.seller,
	}); err != nil {
		t.Fatalf("ListItem failed: %v", err)
	}

	if err := e.svc.DelistItem(ctx, market.DelistParams{
		Domain: "shop", Username: "alice", Item: e.mint, Seller: e.seller,
	}); err != nil {
		t.Fatalf("DelistItem failed: %v", err)
	}

	sellerToken, _, err := derive.TokenAddress(e.seller, e.mint)
	if err != nil {
		t.Fatalf("TokenAddress failed: %v", err)
	}
	acct, err := token.Load(ledger.NewReader(ctx, e.ledger), sellerToken)
	if err != nil {
		t.Fatalf("seller token Load failed: %v", err)
	}
	if acct.Amount != 1 {
		t.Errorf("seller did not get the item back, amount=%d", acct.Amount)
	}

	history, err := e.svc.SalesByItem(ctx, e.mint)
	if err != nil {
		t.Fatalf("SalesByItem failed: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("delist produced %d history records, want 0", len(history))
	}
}

func TestService_KeyLifecycle(t *testing.T) {
	e := newEnv(t, "keys")
	e.setupShop(t)
	ctx := context.Background()

	second := derive.SystemAddress("test/second-wallet/keys")
	if err := e.svc.Airdrop(ctx, second, initialFunds); err != nil {
		t.Fatalf("Airdrop failed: %v", err)
	}

	if err := e.svc.AddKey(ctx, marketplace.KeyParams{
		Domain: "shop", Username: "alice", Wallet: second, Authority: e.seller,
	}); err != nil {
		t.Fatalf("AddKey failed: %v", err)
	}

	// Unverified keys do not resolve.
	if _, err := e.svc.ResolveWallet(ctx, "shop", second); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("unconfirmed wallet resolved: %v", err)
	}

	if err := e.svc.ConfirmKey(ctx, marketplace.KeyParams{
		Domain: "shop", Username: "alice", Wallet: second,
	}); err != nil {
		t.Fatalf("ConfirmKey failed: %v", err)
	}

	chain, err := e.svc.ResolveWallet(ctx, "shop", second)
	if err != nil {
		t.Fatalf("ResolveWallet failed: %v", err)
	}
	if chain.Name != "alice" || chain.NumVerified() != 2 {
		t.Errorf("keychain %+v, want alice with 2 verified keys", chain)
	}

	if err := e.svc.RemoveKey(ctx, marketplace.KeyParams{
		Domain: "shop", Username: "alice", Wallet: second, Authority: e.seller,
	}); err != nil {
		t.Fatalf("RemoveKey failed: %v", err)
	}
	if _, err := e.svc.ResolveWallet(ctx, "shop", second); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("removed wallet still resolves: %v", err)
	}
}

func TestService_CreateDomainCountsMetric(t *testing.T) {
	e := newEnv(t, "domain-metric")
	ctx := context.Background()

	before := promtestutil.ToFloat64(observability.DefaultMetrics.DomainsCreated)
	if _, err := e.svc.CreateDomain(ctx, marketplace.CreateDomainParams{
		Name:       "metricshop",
		SaleFeeBps: saleFeeBps,
		Treasury:   e.treasury,
		Authority:  e.admin,
	}); err != nil {
		t.Fatalf("CreateDomain failed: %v", err)
	}
	if got := promtestutil.ToFloat64(observability.DefaultMetrics.DomainsCreated); got != before+1 {
		t.Errorf("domains created counter %v, want %v", got, before+1)
	}
}

func TestService_PurchaseMissingListing(t *testing.T) {
	e := newEnv(t, "missing")
	e.setupShop(t)
	ctx := context.Background()

	_, err := e.svc.PurchaseItem(ctx, market.PurchaseParams{
		Domain: "shop", Username: "alice", Item: e.mint, Buyer: e.buyer,
	})
	if !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unlisted item, got %v", err)
	}
}
