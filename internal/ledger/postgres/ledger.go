// Package postgres provides the PostgreSQL ledger backend. Each Submit runs
// inside one database transaction; account reads take row locks, so two
// transitions touching the same listing serialize and the loser observes
// the winner's committed state.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/smartstache/keychain/internal/ledger"
	storagepg "github.com/smartstache/keychain/internal/storage/postgres"
)

// Ledger is a PostgreSQL implementation of ledger.Ledger.
type Ledger struct {
	pool *storagepg.Pool
}

// NewLedger creates a ledger on an existing connection pool. The accounts
// migration must have been applied.
func NewLedger(pool *storagepg.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Compile-time interface check.
var _ ledger.Ledger = (*Ledger)(nil)

// Submit applies all instructions of tx atomically inside one database
// transaction.
func (l *Ledger) Submit(ctx context.Context, tx *ledger.Transaction) error {
	signers, err := tx.SignerSet()
	if err != nil {
		return err
	}

	pgtx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer pgtx.Rollback(ctx)

	txn := &txnView{ctx: ctx, tx: pgtx, signers: signers}
	for _, in := range tx.Instructions {
		if err := in.Execute(ctx, txn); err != nil {
			return err
		}
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	return nil
}

// Account reads committed state. Returns ErrNotFound if absent.
func (l *Ledger) Account(ctx context.Context, addr string) (*ledger.Account, error) {
	row := l.pool.QueryRow(ctx,
		`SELECT address, owner, lamports, data FROM accounts WHERE address = $1`, addr)
	return scanAccount(row)
}

// Airdrop credits lamports outside any protocol transition.
func (l *Ledger) Airdrop(ctx context.Context, addr string, amount uint64) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO accounts (address, lamports) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET lamports = accounts.lamports + EXCLUDED.lamports
	`, addr, int64(amount))
	if err != nil {
		return fmt.Errorf("airdrop: %w", err)
	}
	return nil
}

const systemOwner = "" // wallets carry no owning program

// txnView executes instructions against one pgx transaction. Writes go to
// the database eagerly; the enclosing transaction provides atomicity and
// read-your-writes.
type txnView struct {
	ctx     context.Context
	tx      pgx.Tx
	signers map[string]bool
}

var _ ledger.Txn = (*txnView)(nil)

// lockRow reads an account under FOR UPDATE so concurrent transitions on
// the same account serialize.
func (t *txnView) lockRow(addr string) (*ledger.Account, error) {
	row := t.tx.QueryRow(t.ctx,
		`SELECT address, owner, lamports, data FROM accounts WHERE address = $1 FOR UPDATE`, addr)
	return scanAccount(row)
}

func (t *txnView) Account(addr string) (*ledger.Account, error) {
	return t.lockRow(addr)
}

func (t *txnView) CreateAccount(a *ledger.Account) error {
	if a == nil || a.Address == "" {
		return ledger.ErrInvalidInput
	}

	lamports := a.Lamports
	existing, err := t.lockRow(a.Address)
	switch {
	case err == nil:
		if len(existing.Data) > 0 || existing.Owner != systemOwner {
			return ledger.ErrAlreadyExists
		}
		// A bare wallet account at the address keeps its lamports.
		lamports += existing.Lamports
	case !errors.Is(err, ledger.ErrNotFound):
		return err
	}

	_, err = t.tx.Exec(t.ctx, `
		INSERT INTO accounts (address, owner, lamports, data) VALUES ($1, $2, $3, $4)
		ON CONFLICT (address) DO UPDATE SET
			owner = EXCLUDED.owner, lamports = EXCLUDED.lamports, data = EXCLUDED.data,
			updated_at = now()
	`, a.Address, a.Owner, int64(lamports), a.Data)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrAlreadyExists
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (t *txnView) UpdateAccount(a *ledger.Account) error {
	if a == nil || a.Address == "" {
		return ledger.ErrInvalidInput
	}
	tag, err := t.tx.Exec(t.ctx, `
		UPDATE accounts SET owner = $2, lamports = $3, data = $4, updated_at = now()
		WHERE address = $1
	`, a.Address, a.Owner, int64(a.Lamports), a.Data)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (t *txnView) CloseAccount(addr, recipient string) error {
	a, err := t.lockRow(addr)
	if err != nil {
		return err
	}
	if _, err := t.tx.Exec(t.ctx, `DELETE FROM accounts WHERE address = $1`, addr); err != nil {
		return fmt.Errorf("close account: %w", err)
	}
	if a.Lamports > 0 {
		return t.Credit(recipient, a.Lamports)
	}
	return nil
}

func (t *txnView) Credit(addr string, amount uint64) error {
	if addr == "" {
		return ledger.ErrInvalidInput
	}
	_, err := t.tx.Exec(t.ctx, `
		INSERT INTO accounts (address, lamports) VALUES ($1, $2)
		ON CONFLICT (address) DO UPDATE SET
			lamports = accounts.lamports + EXCLUDED.lamports, updated_at = now()
	`, addr, int64(amount))
	if err != nil {
		return fmt.Errorf("credit: %w", err)
	}
	return nil
}

func (t *txnView) Debit(addr string, amount uint64) error {
	a, err := t.lockRow(addr)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return ledger.ErrInsufficientBalance
		}
		return err
	}
	if a.Lamports < amount {
		return ledger.ErrInsufficientBalance
	}
	_, err = t.tx.Exec(t.ctx, `
		UPDATE accounts SET lamports = lamports - $2, updated_at = now() WHERE address = $1
	`, addr, int64(amount))
	if err != nil {
		return fmt.Errorf("debit: %w", err)
	}
	return nil
}

func (t *txnView) IsSigner(addr string) bool {
	return t.signers[addr]
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var a ledger.Account
	var lamports int64
	err := row.Scan(&a.Address, &a.Owner, &lamports, &a.Data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Lamports = uint64(lamports)
	return &a, nil
}

const pgErrUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
