package ledger

import "context"

// NewReader adapts committed ledger state to the Txn interface so record
// codecs can be reused for reads. All mutating methods fail.
func NewReader(ctx context.Context, l Ledger) Txn {
	return &reader{ctx: ctx, ledger: l}
}

type reader struct {
	ctx    context.Context
	ledger Ledger
}

func (r *reader) Account(addr string) (*Account, error) {
	return r.ledger.Account(r.ctx, addr)
}

func (r *reader) CreateAccount(*Account) error      { return ErrInvalidInput }
func (r *reader) UpdateAccount(*Account) error      { return ErrInvalidInput }
func (r *reader) CloseAccount(string, string) error { return ErrInvalidInput }
func (r *reader) Credit(string, uint64) error       { return ErrInvalidInput }
func (r *reader) Debit(string, uint64) error        { return ErrInvalidInput }
func (r *reader) IsSigner(string) bool              { return false }
