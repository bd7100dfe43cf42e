package domain

// Sale is the history record appended after a successful purchase.
// Corresponds to the sales table in ClickHouse.
type Sale struct {
	SaleID     string // PRIMARY KEY, deterministic hash
	Item       string // item mint address
	Listing    string // listing account address (closed by the sale)
	Domain     string // domain account address
	Seller     string
	Buyer      string
	Currency   string // mint address or NativeCurrency
	Price      uint64 // gross price in base units
	Fee        uint64 // portion routed to the domain treasury
	OccurredAt int64  // Unix timestamp, seconds
}
