package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/smartstache/keychain/internal/derive"
	"github.com/smartstache/keychain/internal/domain"
	"github.com/smartstache/keychain/internal/ledger"
	"github.com/smartstache/keychain/internal/market"
	"github.com/smartstache/keychain/internal/marketplace"
	"github.com/smartstache/keychain/internal/observability"
)

// Server exposes the marketplace over a JSON HTTP API plus a WebSocket
// event stream at /v1/events.
type Server struct {
	svc    *marketplace.Service
	hub    *Hub
	logger *log.Logger
	mux    *http.ServeMux
}

// NewServer wires routes for the given service. The hub may be nil when
// no event stream is wanted.
func NewServer(svc *marketplace.Service, hub *Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		svc:    svc,
		hub:    hub,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", observability.Handler())

	s.mux.HandleFunc("POST /v1/domains", s.handleCreateDomain)
	s.mux.HandleFunc("GET /v1/domains/{name}", s.handleGetDomain)
	s.mux.HandleFunc("POST /v1/domains/{name}/keychains", s.handleCreateKeychain)
	s.mux.HandleFunc("GET /v1/domains/{name}/keychains/{username}", s.handleGetKeychain)
	s.mux.HandleFunc("POST /v1/domains/{name}/keychains/{username}/keys", s.handleAddKey)
	s.mux.HandleFunc("POST /v1/domains/{name}/keychains/{username}/keys/confirm", s.handleConfirmKey)
	s.mux.HandleFunc("POST /v1/domains/{name}/keychains/{username}/keys/remove", s.handleRemoveKey)
	s.mux.HandleFunc("GET /v1/domains/{name}/resolve/{wallet}", s.handleResolveWallet)
	s.mux.HandleFunc("GET /v1/domains/{name}/keychains/{username}/listings/{item}", s.handleGetListing)

	s.mux.HandleFunc("POST /v1/listings", s.handleList)
	s.mux.HandleFunc("POST /v1/purchases", s.handlePurchase)
	s.mux.HandleFunc("POST /v1/delistings", s.handleDelist)
	s.mux.HandleFunc("GET /v1/sales", s.handleSales)

	s.mux.HandleFunc("GET /v1/accounts/{address}/balance", s.handleBalance)
	s.mux.HandleFunc("POST /v1/airdrops", s.handleAirdrop)

	if s.hub != nil {
		s.mux.Handle("GET /v1/events", s.hub)
	}
}

// ServeHTTP dispatches to the route table, recording per-route latency.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	observability.DefaultMetrics.HTTPRequestLatency.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
}

// DTOs. Account addresses travel as base58 strings.

// DomainResponse is the JSON form of a domain record.
type DomainResponse struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	Authority  string `json:"authority"`
	Treasury   string `json:"treasury"`
	RenameCost uint64 `json:"rename_cost"`
	SaleFeeBps uint16 `json:"sale_fee_bps"`
}

// KeychainResponse is the JSON form of a keychain record.
type KeychainResponse struct {
	Address  string             `json:"address"`
	Domain   string             `json:"domain"`
	Username string             `json:"username"`
	Keys     []KeyEntryResponse `json:"keys"`
}

// KeyEntryResponse is one wallet on a keychain.
type KeyEntryResponse struct {
	Wallet   string `json:"wallet"`
	Verified bool   `json:"verified"`
}

// ListingResponse is the JSON form of a listing record.
type ListingResponse struct {
	Address     string `json:"address"`
	Item        string `json:"item"`
	Seller      string `json:"seller"`
	Domain      string `json:"domain"`
	Price       uint64 `json:"price"`
	Currency    string `json:"currency"`
	Proceeds    string `json:"proceeds"`
	EscrowToken string `json:"escrow_token"`
}

// SaleResponse is the JSON form of a sale history record.
type SaleResponse struct {
	SaleID     string `json:"sale_id"`
	Item       string `json:"item"`
	Listing    string `json:"listing"`
	Domain     string `json:"domain"`
	Seller     string `json:"seller"`
	Buyer      string `json:"buyer"`
	Currency   string `json:"currency"`
	Price      uint64 `json:"price"`
	Fee        uint64 `json:"fee"`
	OccurredAt int64  `json:"occurred_at"`
}

type createdResponse struct {
	Address string `json:"address"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string `json:"name"`
		RenameCost uint64 `json:"rename_cost"`
		SaleFeeBps uint16 `json:"sale_fee_bps"`
		Treasury   string `json:"treasury"`
		Authority  string `json:"authority"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := s.svc.CreateDomain(r.Context(), marketplace.CreateDomainParams{
		Name:       req.Name,
		RenameCost: req.RenameCost,
		SaleFeeBps: req.SaleFeeBps,
		Treasury:   req.Treasury,
		Authority:  req.Authority,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createdResponse{Address: addr})
}

func (s *Server) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	dom, err := s.svc.GetDomain(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	addr, _, err := derive.DomainAddress(name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, domainResponse(addr, dom))
}

func (s *Server) handleCreateKeychain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username  string `json:"username"`
		Wallet    string `json:"wallet"`
		Authority string `json:"authority"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := s.svc.CreateKeychain(r.Context(), marketplace.CreateKeychainParams{
		Domain:    r.PathValue("name"),
		Username:  req.Username,
		Wallet:    req.Wallet,
		Authority: req.Authority,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createdResponse{Address: addr})
}

func (s *Server) handleGetKeychain(w http.ResponseWriter, r *http.Request) {
	domainName, username := r.PathValue("name"), r.PathValue("username")
	chain, err := s.svc.GetKeychain(r.Context(), domainName, username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	addr, _, err := derive.KeychainAddress(domainName, username)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keychainResponse(addr, username, chain))
}

func (s *Server) keyParams(r *http.Request, wallet, authority string) marketplace.KeyParams {
	return marketplace.KeyParams{
		Domain:    r.PathValue("name"),
		Username:  r.PathValue("username"),
		Wallet:    wallet,
		Authority: authority,
	}
}

func (s *Server) handleAddKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet    string `json:"wallet"`
		Authority string `json:"authority"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.AddKey(r.Context(), s.keyParams(r, req.Wallet, req.Authority)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleConfirmKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet string `json:"wallet"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.ConfirmKey(r.Context(), s.keyParams(r, req.Wallet, req.Wallet)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Wallet    string `json:"wallet"`
		Authority string `json:"authority"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.svc.RemoveKey(r.Context(), s.keyParams(r, req.Wallet, req.Authority)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResolveWallet(w http.ResponseWriter, r *http.Request) {
	domainName, wallet := r.PathValue("name"), r.PathValue("wallet")
	chain, err := s.svc.ResolveWallet(r.Context(), domainName, wallet)
	if err != nil {
		s.writeError(w, err)
		return
	}
	addr, _, err := derive.KeychainAddress(domainName, chain.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, keychainResponse(addr, chain.Name, chain))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain   string `json:"domain"`
		Username string `json:"username"`
		Item     string `json:"item"`
		Price    uint64 `json:"price"`
		Currency string `json:"currency"`
		Proceeds string `json:"proceeds"`
		Seller   string `json:"seller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	addr, err := s.svc.ListItem(r.Context(), market.ListParams{
		Domain:   req.Domain,
		Username: req.Username,
		Item:     req.Item,
		Price:    req.Price,
		Currency: req.Currency,
		Proceeds: req.Proceeds,
		Seller:   req.Seller,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, createdResponse{Address: addr})
}

func (s *Server) handlePurchase(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain             string `json:"domain"`
		Username           string `json:"username"`
		Item               string `json:"item"`
		Buyer              string `json:"buyer"`
		BuyerCurrencyToken string `json:"buyer_currency_token"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	sale, err := s.svc.PurchaseItem(r.Context(), market.PurchaseParams{
		Domain:             req.Domain,
		Username:           req.Username,
		Item:               req.Item,
		Buyer:              req.Buyer,
		BuyerCurrencyToken: req.BuyerCurrencyToken,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, saleResponse(sale))
}

func (s *Server) handleDelist(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Domain   string `json:"domain"`
		Username string `json:"username"`
		Item     string `json:"item"`
		Seller   string `json:"seller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	err := s.svc.DelistItem(r.Context(), market.DelistParams{
		Domain:   req.Domain,
		Username: req.Username,
		Item:     req.Item,
		Seller:   req.Seller,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	domainName := r.PathValue("name")
	username := r.PathValue("username")
	item := r.PathValue("item")
	listing, err := s.svc.GetListing(r.Context(), domainName, username, item)
	if err != nil {
		s.writeError(w, err)
		return
	}
	addr, _, err := derive.ListingAddress(domainName, username, item)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, listingResponse(addr, listing))
}

func (s *Server) handleSales(w http.ResponseWriter, r *http.Request) {
	var (
		sales []*domain.Sale
		err   error
	)
	switch {
	case r.URL.Query().Get("item") != "":
		sales, err = s.svc.SalesByItem(r.Context(), r.URL.Query().Get("item"))
	case r.URL.Query().Get("seller") != "":
		sales, err = s.svc.SalesBySeller(r.Context(), r.URL.Query().Get("seller"))
	default:
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "item or seller query parameter is required", Code: "invalid_input"})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]SaleResponse, 0, len(sales))
	for _, sale := range sales {
		out = append(out, saleResponse(sale))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("address")
	lamports, err := s.svc.Balance(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct {
		Address  string `json:"address"`
		Lamports uint64 `json:"lamports"`
	}{Address: addr, Lamports: lamports})
}

func (s *Server) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
		Amount  uint64 `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Amount == 0 {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "amount must be positive", Code: "invalid_input"})
		return
	}
	if err := s.svc.Airdrop(r.Context(), req.Address, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func domainResponse(addr string, dom *domain.Domain) DomainResponse {
	return DomainResponse{
		Address:    addr,
		Name:       dom.Name,
		Authority:  dom.Authority,
		Treasury:   dom.Treasury,
		RenameCost: dom.RenameCost,
		SaleFeeBps: dom.SaleFeeBps,
	}
}

func keychainResponse(addr, username string, chain *domain.Keychain) KeychainResponse {
	keys := make([]KeyEntryResponse, 0, len(chain.Keys))
	for _, e := range chain.Keys {
		keys = append(keys, KeyEntryResponse{Wallet: e.Wallet, Verified: e.Verified})
	}
	return KeychainResponse{
		Address:  addr,
		Domain:   chain.Domain,
		Username: username,
		Keys:     keys,
	}
}

func listingResponse(addr string, l *domain.Listing) ListingResponse {
	return ListingResponse{
		Address:     addr,
		Item:        l.Item,
		Seller:      l.Seller,
		Domain:      l.Domain,
		Price:       l.Price,
		Currency:    l.Currency,
		Proceeds:    l.Proceeds,
		EscrowToken: l.EscrowToken,
	}
}

func saleResponse(sale *domain.Sale) SaleResponse {
	return SaleResponse{
		SaleID:     sale.SaleID,
		Item:       sale.Item,
		Listing:    sale.Listing,
		Domain:     sale.Domain,
		Seller:     sale.Seller,
		Buyer:      sale.Buyer,
		Currency:   sale.Currency,
		Price:      sale.Price,
		Fee:        sale.Fee,
		OccurredAt: sale.OccurredAt,
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error(), Code: "invalid_input"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("[gateway] write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, code := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("[gateway] internal error: %v", err)
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}

// httpStatus maps protocol errors to HTTP status codes alongside a
// stable machine-readable code.
func httpStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	case errors.Is(err, ledger.ErrRuleViolation):
		return http.StatusForbidden, "rule_violation"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusConflict, "insufficient_balance"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
