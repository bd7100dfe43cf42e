// Package marketplace is the orchestration layer: it assembles protocol
// transactions, submits them to the ledger, records settled sales in the
// history store and publishes lifecycle events.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/idhash"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/market"
	"github.com/smartstache/keychain/internal/observability"
	"github.com/smartstache/keychain/internal/registry"
	"github.com/smartstache/keychain/internal/storage"
)

// Service exposes the protocol operations over a ledger backend.
type Service struct {
	ledger ledger.Ledger
	sales  storage.SaleStore
	events EventSink
	logger *log.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithEventSink sets the sink lifecycle events are published to.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) { s.events = sink }
}

// WithLogger sets the service logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a marketplace service. The sale store may be nil when
// no history is kept.
func NewService(l ledger.Ledger, sales storage.SaleStore, opts ...Option) *Service {
	s := &Service{
		ledger: l,
		sales:  sales,
		events: discardSink{},
		logger: log.New(os.Stdout, "", log.LstdFlags),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// reader returns a read-only view of committed ledger state.
func (s *Service) reader(ctx context.Context) ledger.Txn {
	return ledger.NewReader(ctx, s.ledger)
}

// submit runs one transaction, recording outcome metrics per operation.
func (s *Service) submit(ctx context.Context, op string, tx *ledger.Transaction) error {
	start := s.now()
	if err := s.ledger.Submit(ctx, tx); err != nil {
		observability.RecordRejection(op, rejectionReason(err))
		s.logger.Printf("[marketplace] %s rejected: %v", op, err)
		return err
	}
	observability.RecordTransition(op, time.Since(start).Seconds())
	return nil
}

func (s *Service) publish(eventType string, data any) {
	observability.RecordEventPublished(eventType)
	s.events.Publish(Event{Type: eventType, At: s.now().Unix(), Data: data})
}

// rejectionReason maps protocol errors to a bounded metric label set.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ledger.ErrRuleViolation):
		return "rule_violation"
	case errors.Is(err, ledger.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ledger.ErrInvalidInput):
		return "invalid_input"
	default:
		return "internal"
	}
}

// CreateDomainParams describes a new domain.
type CreateDomainParams struct {
	Name       string
	RenameCost uint64
	SaleFeeBps uint16
	Treasury   string
	Authority  string
}

// CreateDomain registers a domain and returns its derived address.
func (s *Service) CreateDomain(ctx context.Context, p CreateDomainParams) (string, error) {
	tx := &ledger.Transaction{
		Signers: []string{p.Authority},
		Instructions: []ledger.Instruction{
			&registry.CreateDomain{
				Name:       p.Name,
				RenameCost: p.RenameCost,
				SaleFeeBps: p.SaleFeeBps,
				Treasury:   p.Treasury,
				Authority:  p.Authority,
			},
		},
	}
	if err := s.submit(ctx, "create_domain", tx); err != nil {
		return "", err
	}
	addr, _, err := derive.DomainAddress(p.Name)
	if err != nil {
		return "", err
	}
	s.logger.Printf("[marketplace] domain %q created at %s", p.Name, addr)
	s.publish(EventDomainCreated, map[string]any{"name": p.Name, "address": addr})
	observability.DefaultMetrics.DomainsCreated.Inc()
	return addr, nil
}

// CreateKeychainParams describes a new keychain under a domain.
type CreateKeychainParams struct {
	Domain    string
	Username  string
	Wallet    string
	Authority string // the wallet itself, or the domain authority
}

// CreateKeychain registers a username with one verified wallet and returns
// the keychain address.
func (s *Service) CreateKeychain(ctx context.Context, p CreateKeychainParams) (string, error) {
	tx := &ledger.Transaction{
		Signers: []string{p.Authority},
		Instructions: []ledger.Instruction{
			&registry.CreateKeychain{
				Username:  p.Username,
				Domain:    p.Domain,
				Wallet:    p.Wallet,
				Authority: p.Authority,
			},
		},
	}
	if err := s.submit(ctx, "create_keychain", tx); err != nil {
		return "", err
	}
	observability.DefaultMetrics.KeychainsCreated.Inc()
	addr, _, err := derive.KeychainAddress(p.Domain, p.Username)
	if err != nil {
		return "", err
	}
	s.logger.Printf("[marketplace] keychain %s/%s created at %s", p.Domain, p.Username, addr)
	s.publish(EventKeychainCreated, map[string]any{
		"domain": p.Domain, "username": p.Username, "address": addr, "wallet": p.Wallet,
	})
	return addr, nil
}

// KeyParams identifies a wallet on a keychain for key operations.
type KeyParams struct {
	Domain    string
	Username  string
	Wallet    string
	Authority string // verified key authorizing the operation
}

// AddKey stages a new unverified wallet on the keychain. A verified key
// signs for it; the wallet itself confirms later.
func (s *Service) AddKey(ctx context.Context, p KeyParams) error {
	tx := &ledger.Transaction{
		Signers: []string{p.Authority},
		Instructions: []ledger.Instruction{
			&registry.AddKey{
				Domain:    p.Domain,
				Username:  p.Username,
				NewWallet: p.Wallet,
				Authority: p.Authority,
			},
		},
	}
	if err := s.submit(ctx, "add_key", tx); err != nil {
		return err
	}
	observability.RecordKeyOperation("add")
	s.publish(EventKeyAdded, map[string]any{
		"domain": p.Domain, "username": p.Username, "wallet": p.Wallet,
	})
	return nil
}

// ConfirmKey verifies a staged wallet. The wallet signs and pays for its
// reverse-lookup record.
func (s *Service) ConfirmKey(ctx context.Context, p KeyParams) error {
	tx := &ledger.Transaction{
		Signers: []string{p.Wallet},
		Instructions: []ledger.Instruction{
			&registry.ConfirmKey{
				Domain:   p.Domain,
				Username: p.Username,
				Wallet:   p.Wallet,
			},
		},
	}
	if err := s.submit(ctx, "confirm_key", tx); err != nil {
		return err
	}
	observability.RecordKeyOperation("confirm")
	s.publish(EventKeyConfirmed, map[string]any{
		"domain": p.Domain, "username": p.Username, "wallet": p.Wallet,
	})
	return nil
}

// RemoveKey removes a wallet from the keychain; removing the last key
// dissolves the keychain.
func (s *Service) RemoveKey(ctx context.Context, p KeyParams) error {
	tx := &ledger.Transaction{
		Signers: []string{p.Authority},
		Instructions: []ledger.Instruction{
			&registry.RemoveKey{
				Domain:    p.Domain,
				Username:  p.Username,
				Wallet:    p.Wallet,
				Authority: p.Authority,
			},
		},
	}
	if err := s.submit(ctx, "remove_key", tx); err != nil {
		return err
	}
	observability.RecordKeyOperation("remove")
	s.publish(EventKeyRemoved, map[string]any{
		"domain": p.Domain, "username": p.Username, "wallet": p.Wallet,
	})

	// The keychain dissolves when its last key is removed.
	addr, _, err := derive.KeychainAddress(p.Domain, p.Username)
	if err == nil {
		if _, err := registry.LoadKeychain(s.reader(ctx), addr); errors.Is(err, ledger.ErrNotFound) {
			observability.DefaultMetrics.KeychainsClosed.Inc()
		}
	}
	return nil
}

// ListItem places an item for sale and returns the listing address.
func (s *Service) ListItem(ctx context.Context, p market.ListParams) (string, error) {
	tx, err := market.BuildList(s.reader(ctx), p)
	if err != nil {
		observability.RecordRejection("list_item", rejectionReason(err))
		return "", err
	}
	if err := s.submit(ctx, "list_item", tx); err != nil {
		return "", err
	}
	observability.DefaultMetrics.ListingsCreated.Inc()
	addr, _, err := derive.ListingAddress(p.Domain, p.Username, p.Item)
	if err != nil {
		return "", err
	}
	s.logger.Printf("[marketplace] item %s listed at %s for %d", p.Item, addr, p.Price)
	s.publish(EventListingCreated, map[string]any{
		"domain": p.Domain, "username": p.Username, "item": p.Item,
		"listing": addr, "price": p.Price, "currency": p.Currency,
	})
	return addr, nil
}

// PurchaseItem settles a purchase atomically and records the sale. The
// returned sale is the history record.
func (s *Service) PurchaseItem(ctx context.Context, p market.PurchaseParams) (*domain.Sale, error) {
	read := s.reader(ctx)

	listingAddr, _, err := derive.ListingAddress(p.Domain, p.Username, p.Item)
	if err != nil {
		return nil, err
	}
	listing, err := market.LoadListing(read, listingAddr)
	if err != nil {
		observability.RecordRejection("purchase_item", rejectionReason(err))
		return nil, err
	}
	dom, err := registry.LoadDomain(read, listing.Domain)
	if err != nil {
		return nil, err
	}

	tx, err := market.BuildPurchase(read, p)
	if err != nil {
		observability.RecordRejection("purchase_item", rejectionReason(err))
		return nil, err
	}
	if err := s.submit(ctx, "purchase_item", tx); err != nil {
		return nil, err
	}

	occurredAt := s.now().Unix()
	fee := market.SaleFee(listing.Price, dom.SaleFeeBps)
	sale := &domain.Sale{
		SaleID:     idhash.ComputeSaleID(p.Item, listingAddr, p.Buyer, listing.Price, occurredAt),
		Item:       p.Item,
		Listing:    listingAddr,
		Domain:     listing.Domain,
		Seller:     listing.Seller,
		Buyer:      p.Buyer,
		Currency:   listing.Currency,
		Price:      listing.Price,
		Fee:        fee,
		OccurredAt: occurredAt,
	}

	// The chain transition already committed; a history failure is logged,
	// not unwound.
	if s.sales != nil {
		if err := s.sales.Insert(ctx, sale); err != nil {
			s.logger.Printf("[marketplace] record sale %s: %v", sale.SaleID, err)
		}
	}
	observability.RecordSale(sale.Currency, sale.Price, sale.Fee, occurredAt)
	s.logger.Printf("[marketplace] item %s sold to %s for %d (fee %d)", p.Item, p.Buyer, sale.Price, fee)
	s.publish(EventListingSold, sale)
	return sale, nil
}

// DelistItem cancels a listing; the seller takes the item back.
func (s *Service) DelistItem(ctx context.Context, p market.DelistParams) error {
	tx, err := market.BuildDelist(s.reader(ctx), p)
	if err != nil {
		observability.RecordRejection("delist_item", rejectionReason(err))
		return err
	}
	if err := s.submit(ctx, "delist_item", tx); err != nil {
		return err
	}
	observability.DefaultMetrics.ListingsDelisted.Inc()
	s.logger.Printf("[marketplace] item %s delisted by %s", p.Item, p.Seller)
	s.publish(EventListingDelisted, map[string]any{
		"domain": p.Domain, "username": p.Username, "item": p.Item, "seller": p.Seller,
	})
	return nil
}

// GetDomain resolves a domain by name.
func (s *Service) GetDomain(ctx context.Context, name string) (*domain.Domain, error) {
	addr, _, err := derive.DomainAddress(name)
	if err != nil {
		return nil, err
	}
	return registry.LoadDomain(s.reader(ctx), addr)
}

// GetKeychain resolves a keychain by domain and username.
func (s *Service) GetKeychain(ctx context.Context, domainName, username string) (*domain.Keychain, error) {
	addr, _, err := derive.KeychainAddress(domainName, username)
	if err != nil {
		return nil, err
	}
	return registry.LoadKeychain(s.reader(ctx), addr)
}

// ResolveWallet finds the keychain a wallet belongs to within a domain via
// the reverse-lookup record.
func (s *Service) ResolveWallet(ctx context.Context, domainName, wallet string) (*domain.Keychain, error) {
	read := s.reader(ctx)
	keyAddr, _, err := derive.KeychainKeyAddress(domainName, wallet)
	if err != nil {
		return nil, err
	}
	key, err := registry.LoadKeychainKey(read, keyAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve wallet %s: %w", wallet, err)
	}
	return registry.LoadKeychain(read, key.Keychain)
}

// GetListing resolves a listing by its naming triple.
func (s *Service) GetListing(ctx context.Context, domainName, username, item string) (*domain.Listing, error) {
	addr, _, err := derive.ListingAddress(domainName, username, item)
	if err != nil {
		return nil, err
	}
	return market.LoadListing(s.reader(ctx), addr)
}

// SalesByItem returns the recorded sale history of an item.
func (s *Service) SalesByItem(ctx context.Context, item string) ([]*domain.Sale, error) {
	if s.sales == nil {
		return nil, nil
	}
	return s.sales.GetByItem(ctx, item)
}

// SalesBySeller returns the recorded sale history of a seller wallet.
func (s *Service) SalesBySeller(ctx context.Context, seller string) ([]*domain.Sale, error) {
	if s.sales == nil {
		return nil, nil
	}
	return s.sales.GetBySeller(ctx, seller)
}

// Balance returns the lamport balance of an address; missing accounts read
// as zero.
func (s *Service) Balance(ctx context.Context, addr string) (uint64, error) {
	a, err := s.ledger.Account(ctx, addr)
	if errors.Is(err, ledger.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return a.Lamports, nil
}

// Airdrop credits lamports to a wallet, for dev deployments and tests.
func (s *Service) Airdrop(ctx context.Context, addr string, amount uint64) error {
	return s.ledger.Airdrop(ctx, addr, amount)
}
