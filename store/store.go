package store

import (
	"context"
	"errors"

	"github.com/litevault-dev/litevault/pkg/repdb"
	"github.com/litevault-dev/litevault/types"
)

// ErrNotEmpty is returned by CallIfEmpty when the database already holds
// user state.
var ErrNotEmpty = errors.New("store is not empty")

// ErrNotEnoughTokens is returned when an extraction asks for more
// spendable tokens than the store holds.
var ErrNotEnoughTokens = errors.New("not enough tokens")

// ErrNotFound is returned when a voucher does not exist.
var ErrNotFound = errors.New("not found")

// Store is the top-level storage interface for the voucher system. All
// of its writes flow through a replication-capable connection, so every
// mutation can be captured in the event log.
type Store interface {
	Ensure(ctx context.Context) error
	Close() error

	Vouchers() VoucherStore
	Tokens() TokenStore

	// CallIfEmpty runs action inside a single transaction iff no
	// voucher, spendable token, or unspendable token exists; otherwise
	// it fails with ErrNotEmpty without invoking action. Errors from
	// action propagate and roll the transaction back.
	CallIfEmpty(ctx context.Context, action func(cur *repdb.Cursor) error) error

	// Connection exposes the replication-capable connection so the
	// replication service can observe it and snapshot it.
	Connection() *repdb.Conn

	// Event-log primitives, brokered for the replication service.
	// AddEvent joins the transaction of the cursor it is given; the
	// other two run in their own transactions.
	GetEvents(ctx context.Context) (*repdb.EventStream, error)
	AddEvent(ctx context.Context, cur *repdb.Cursor, boundStatement string) error
	PruneEventsTo(ctx context.Context, highWater uint64) error
}

// VoucherStore manages vouchers and their redemption lifecycle.
type VoucherStore interface {
	// Add inserts a voucher and the random tokens minted for it, as a
	// single important mutation. Calling Add again for a known voucher
	// returns the stored tokens without minting new ones.
	Add(ctx context.Context, number string, expectedTokens int, mint func() []types.RandomToken) ([]types.RandomToken, error)
	Get(ctx context.Context, number string) (*types.Voucher, error)
	List(ctx context.Context) ([]types.Voucher, error)
	MarkRedeemed(ctx context.Context, number string) error
	MarkDoubleSpent(ctx context.Context, number string) error
}

// TokenStore manages spendable and unspendable tokens.
type TokenStore interface {
	// InsertUnblinded stores the unblinded tokens produced by redeeming
	// a voucher and discards the voucher's random tokens. When completed
	// is true the voucher is marked redeemed in the same transaction.
	InsertUnblinded(ctx context.Context, voucher string, tokens []string, completed bool) error

	// MarkInvalid records a token the issuer rejected.
	MarkInvalid(ctx context.Context, token, reason string) error

	// Extract removes and returns n spendable tokens. Fails with
	// ErrNotEnoughTokens without removing anything when fewer exist.
	Extract(ctx context.Context, n int) ([]types.UnblindedToken, error)

	CountUnblinded(ctx context.Context) (int, error)

	// ListUnblinded pages through spendable tokens in lexicographic
	// order, starting strictly after position.
	ListUnblinded(ctx context.Context, position string, limit int) ([]string, error)
}
