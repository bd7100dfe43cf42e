package gateway_test

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/gateway"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/ledger/memory"
	"github.com/smartstache/keychain/internal/marketplace"
	"github.com/smartstache/keychain/internal/rules"
	storagemem "github.com/smartstache/keychain/internal/storage/memory"
	"github.com/smartstache/keychain/internal/token"
)

const (
	initialFunds = 10_000_000_000
	listPrice    = 10_000_000
	saleFeeBps   = 250
)

type testEnv struct {
	ts     *httptest.Server
	client *gateway.Client
	ledger *memory.Ledger
	svc    *marketplace.Service

	admin    string
	treasury string
	seller   string
	proceeds string
	buyer    string
	mint     string
}

func newTestEnv(t *testing.T, tag string) *testEnv {
	t.Helper()
	ctx := context.Background()

	e := &testEnv{
		ledger:   memory.NewLedger(),
		admin:    derive.SystemAddress("gw/admin/" + tag),
		treasury: derive.SystemAddress("gw/treasury/" + tag),
		seller:   derive.SystemAddress("gw/seller/" + tag),
		proceeds: derive.SystemAddress("gw/proceeds/" + tag),
		buyer:    derive.SystemAddress("gw/buyer/" + tag),
		mint:     derive.SystemAddress("gw/item/" + tag),
	}

	logger := log.New(io.Discard, "", 0)
	e.svc = marketplace.NewService(e.ledger, storagemem.NewSaleStore(),
		marketplace.WithLogger(logger),
	)

	srv := gateway.NewServer(e.svc, nil, logger)
	e.ts = httptest.NewServer(srv)
	t.Cleanup(e.ts.Close)

	e.client = gateway.NewClient(e.ts.URL, gateway.WithMaxRetries(1), gateway.WithRetryDelay(10*time.Millisecond))

	for _, w := range []string{e.admin, e.seller, e.buyer} {
		if err := e.client.Airdrop(ctx, w, initialFunds); err != nil {
			t.Fatalf("Airdrop: %v", err)
		}
	}
	return e
}

// setupShop registers the "shop" domain and "alice" keychain through the
// API, then mints one gated item to the seller directly on the ledger.
func (e *testEnv) setupShop(t *testing.T) {
	t.Helper()
	ctx := context.Background()

	if _, err := e.client.CreateDomain(ctx, gateway.CreateDomainRequest{
		Name:       "shop",
		SaleFeeBps: saleFeeBps,
		Treasury:   e.treasury,
		Authority:  e.admin,
	}); err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	if _, err := e.client.CreateKeychain(ctx, "shop", gateway.CreateKeychainRequest{
		Username:  "alice",
		Wallet:    e.seller,
		Authority: e.seller,
	}); err != nil {
		t.Fatalf("CreateKeychain: %v", err)
	}

	sellerToken, _, err := derive.TokenAddress(e.seller, e.mint)
	if err != nil {
		t.Fatalf("TokenAddress: %v", err)
	}
	ruleset, _, err := derive.RulesetAddress(e.admin, "open")
	if err != nil {
		t.Fatalf("RulesetAddress: %v", err)
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
		t.Fatalf("item setup: %v", err)
	}
}

func apiError(t *testing.T, err error) *gateway.APIError {
	t.Helper()
	var apiErr *gateway.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	return apiErr
}

func TestGateway_DomainRegistry(t *testing.T) {
	e := newTestEnv(t, "registry")
	ctx := context.Background()

	addr, err := e.client.CreateDomain(ctx, gateway.CreateDomainRequest{
		Name:       "shop",
		SaleFeeBps: saleFeeBps,
		Treasury:   e.treasury,
		Authority:  e.admin,
	})
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	if addr == "" {
		t.Fatal("expected domain address")
	}

	dom, err := e.client.GetDomain(ctx, "shop")
	if err != nil {
		t.Fatalf("GetDomain: %v", err)
	}
	if dom.Address != addr || dom.SaleFeeBps != saleFeeBps || dom.Treasury != e.treasury {
		t.Errorf("domain %+v does not match creation params", dom)
	}

	_, err = e.client.CreateDomain(ctx, gateway.CreateDomainRequest{
		Name:      "shop",
		Treasury:  e.treasury,
		Authority: e.admin,
	})
	apiErr := apiError(t, err)
	if apiErr.Status != http.StatusConflict || apiErr.Code != "already_exists" {
		t.Errorf("duplicate domain: got status %d code %q", apiErr.Status, apiErr.Code)
	}

	if _, err := e.client.GetDomain(ctx, "nope"); apiError(t, err).Status != http.StatusNotFound {
		t.Error("expected 404 for unknown domain")
	}
}

func TestGateway_KeychainLifecycle(t *testing.T) {
	e := newTestEnv(t, "keychain")
	e.setupShop(t)
	ctx := context.Background()

	second := derive.SystemAddress("gw/second/keychain")

	if err := e.client.AddKey(ctx, "shop", "alice", second, e.seller); err != nil {
		t.Fatalf("AddKey: %v", err)
	}

	chain, err := e.client.GetKeychain(ctx, "shop", "alice")
	if err != nil {
		t.Fatalf("GetKeychain: %v", err)
	}
	if len(chain.Keys) != 2 || chain.Keys[1].Verified {
		t.Fatalf("expected second key staged unverified, got %+v", chain.Keys)
	}

	// Unverified keys do not resolve.
	if _, err := e.client.ResolveWallet(ctx, "shop", second); apiError(t, err).Status != http.StatusNotFound {
		t.Error("expected 404 resolving unverified wallet")
	}

	if err := e.client.ConfirmKey(ctx, "shop", "alice", second); err != nil {
		t.Fatalf("ConfirmKey: %v", err)
	}
	resolved, err := e.client.ResolveWallet(ctx, "shop", second)
	if err != nil {
		t.Fatalf("ResolveWallet: %v", err)
	}
	if resolved.Username != "alice" {
		t.Errorf("resolved username = %q, want alice", resolved.Username)
	}

	if err := e.client.RemoveKey(ctx, "shop", "alice", second, e.seller); err != nil {
		t.Fatalf("RemoveKey: %v", err)
	}
	if _, err := e.client.ResolveWallet(ctx, "shop", second); apiError(t, err).Status != http.StatusNotFound {
		t.Error("expected 404 after key removal")
	}
}

func TestGateway_SaleLifecycle(t *testing.T) {
	e := newTestEnv(t, "sale")
	e.setupShop(t)
	ctx := context.Background()

	listingAddr, err := e.client.ListItem(ctx, gateway.ListRequest{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Price:    listPrice,
		Currency: domain.NativeCurrency,
		Proceeds: e.proceeds,
		Seller:   e.seller,
	})
	if err != nil {
		t.Fatalf("ListItem: %v", err)
	}

	listing, err := e.client.GetListing(ctx, "shop", "alice", e.mint)
	if err != nil {
		t.Fatalf("GetListing: %v", err)
	}
	if listing.Address != listingAddr || listing.Price != listPrice {
		t.Errorf("listing %+v does not match params", listing)
	}

	sale, err := e.client.PurchaseItem(ctx, gateway.PurchaseRequest{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Buyer:    e.buyer,
	})
	if err != nil {
		t.Fatalf("PurchaseItem: %v", err)
	}
	wantFee := uint64(listPrice) * saleFeeBps / 10_000
	if sale.Buyer != e.buyer || sale.Price != listPrice || sale.Fee != wantFee {
		t.Errorf("sale %+v does not match expectations", sale)
	}

	proceeds, err := e.client.Balance(ctx, e.proceeds)
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if proceeds != listPrice-wantFee {
		t.Errorf("proceeds balance = %d, want %d", proceeds, listPrice-wantFee)
	}

	history, err := e.client.SalesByItem(ctx, e.mint)
	if err != nil {
		t.Fatalf("SalesByItem: %v", err)
	}
	if len(history) != 1 || history[0].SaleID != sale.SaleID {
		t.Errorf("history %+v does not contain the sale", history)
	}

	if _, err := e.client.GetListing(ctx, "shop", "alice", e.mint); apiError(t, err).Status != http.StatusNotFound {
		t.Error("expected 404 for closed listing")
	}
}

func TestGateway_Delist(t *testing.T) {
	e := newTestEnv(t, "delist")
	e.setupShop(t)
	ctx := context.Background()

	if _, err := e.client.ListItem(ctx, gateway.ListRequest{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Price:    listPrice,
		Currency: domain.NativeCurrency,
		Proceeds: e.proceeds,
		Seller:   e.seller,
	}); err != nil {
		t.Fatalf("ListItem: %v", err)
	}

	// Only the seller may cancel.
	err := e.client.DelistItem(ctx, gateway.DelistRequest{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Seller:   e.buyer,
	})
	if apiError(t, err).Status != http.StatusForbidden {
		t.Error("expected 403 for foreign delist")
	}

	if err := e.client.DelistItem(ctx, gateway.DelistRequest{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Seller:   e.seller,
	}); err != nil {
		t.Fatalf("DelistItem: %v", err)
	}

	if _, err := e.client.GetListing(ctx, "shop", "alice", e.mint); apiError(t, err).Status != http.StatusNotFound {
		t.Error("expected 404 after delisting")
	}
}

func TestGateway_PurchaseMissingListing(t *testing.T) {
	e := newTestEnv(t, "missing")
	e.setupShop(t)

	_, err := e.client.PurchaseItem(context.Background(), gateway.PurchaseRequest{
		Domain:   "shop",
		Username: "alice",
		Item:     e.mint,
		Buyer:    e.buyer,
	})
	apiErr := apiError(t, err)
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Errorf("got status %d code %q, want 404 not_found", apiErr.Status, apiErr.Code)
	}
}

func TestGateway_MalformedBody(t *testing.T) {
	e := newTestEnv(t, "malformed")

	resp, err := http.Post(e.ts.URL+"/v1/domains", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestGateway_Health(t *testing.T) {
	e := newTestEnv(t, "health")

	resp, err := http.Get(e.ts.URL + "/health")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestClient_RetriesRateLimit(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":"abc","lamports":7}`))
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, gateway.WithMaxRetries(2), gateway.WithRetryDelay(time.Millisecond))
	got, err := client.Balance(context.Background(), "abc")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if got != 7 {
		t.Errorf("lamports = %d, want 7", got)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestClient_DoesNotRetryAPIErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"account not found","code":"not_found"}`))
	}))
	defer srv.Close()

	client := gateway.NewClient(srv.URL, gateway.WithMaxRetries(3), gateway.WithRetryDelay(time.Millisecond))
	_, err := client.Balance(context.Background(), "abc")
	if apiError(t, err).Code != "not_found" {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
