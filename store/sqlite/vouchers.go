package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/litevault-dev/litevault/pkg/repdb"
	"github.com/litevault-dev/litevault/store"
	"github.com/litevault-dev/litevault/types"
)

// VoucherStore manages the vouchers table.
type VoucherStore struct{ st *Store }

// Add inserts a voucher, records a redemption attempt, and stores the
// random tokens minted for it, all as one important mutation so the
// replication service ships it immediately. If the voucher is already
// known its stored tokens are returned and nothing is minted.
func (v *VoucherStore) Add(ctx context.Context, number string, expectedTokens int, mint func() []types.RandomToken) ([]types.RandomToken, error) {
	var tokens []types.RandomToken
	err := v.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		existing, err := randomTokensFor(ctx, cur, number)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			tokens = existing
			return nil
		}
		// A voucher whose random tokens were already discarded is still
		// known: there is nothing stored to return and nothing to mint.
		var known int
		if err := cur.QueryRow(ctx, `SELECT count(*) FROM "vouchers" WHERE "number" = ?`, number).Scan(&known); err != nil {
			return err
		}
		if known > 0 {
			return nil
		}

		tokens = mint()
		now := v.st.now().UTC().Format(time.RFC3339Nano)
		return cur.Important(func() error {
			err := cur.Execute(ctx, `
				INSERT INTO "vouchers" ("number", "created", "expected_tokens", "state", "counter")
				VALUES (?, ?, ?, ?, 0)`,
				number, now, expectedTokens, string(types.VoucherRedeeming))
			if err != nil {
				return err
			}
			err = cur.Execute(ctx, `
				INSERT INTO "redemptions" ("id", "voucher", "counter", "created")
				VALUES (?, ?, 0, ?)`,
				ulid.Make().String(), number, now)
			if err != nil {
				return err
			}
			rows := make([][]any, len(tokens))
			for i, tok := range tokens {
				rows[i] = []any{tok.Token, number}
			}
			return cur.ExecuteMany(ctx, `INSERT INTO "random_tokens" ("token", "voucher") VALUES (?, ?)`, rows)
		})
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}

func randomTokensFor(ctx context.Context, cur *repdb.Cursor, voucher string) ([]types.RandomToken, error) {
	rows, err := cur.Query(ctx, `SELECT "token" FROM "random_tokens" WHERE "voucher" = ? ORDER BY "token"`, voucher)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tokens []types.RandomToken
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, err
		}
		tokens = append(tokens, types.RandomToken{Token: tok, Voucher: voucher})
	}
	return tokens, rows.Err()
}

// Get returns one voucher by number.
func (v *VoucherStore) Get(ctx context.Context, number string) (*types.Voucher, error) {
	var voucher *types.Voucher
	err := v.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		row := cur.QueryRow(ctx, `
			SELECT "number", "created", "expected_tokens", "state", "finished", "counter"
			FROM "vouchers" WHERE "number" = ?`, number)
		var err error
		voucher, err = scanVoucher(row)
		return err
	})
	if err != nil {
		return nil, err
	}
	return voucher, nil
}

// List returns all vouchers ordered by creation time.
func (v *VoucherStore) List(ctx context.Context) ([]types.Voucher, error) {
	var vouchers []types.Voucher
	err := v.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		rows, err := cur.Query(ctx, `
			SELECT "number", "created", "expected_tokens", "state", "finished", "counter"
			FROM "vouchers" ORDER BY "created", "number"`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			voucher, err := scanVoucher(rows)
			if err != nil {
				return err
			}
			vouchers = append(vouchers, *voucher)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return vouchers, nil
}

// MarkRedeemed finalises a voucher after all its token groups redeemed.
func (v *VoucherStore) MarkRedeemed(ctx context.Context, number string) error {
	return v.setState(ctx, number, types.VoucherRedeemed)
}

// MarkDoubleSpent marks a voucher the issuer refused as already spent.
func (v *VoucherStore) MarkDoubleSpent(ctx context.Context, number string) error {
	return v.setState(ctx, number, types.VoucherDoubleSpent)
}

func (v *VoucherStore) setState(ctx context.Context, number string, state types.VoucherState) error {
	return v.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		now := v.st.now().UTC().Format(time.RFC3339Nano)
		err := cur.Execute(ctx, `
			UPDATE "vouchers" SET "state" = ?, "finished" = ? WHERE "number" = ?`,
			string(state), now, number)
		if err != nil {
			return err
		}
		if cur.RowsAffected() == 0 {
			return fmt.Errorf("voucher %s: %w", number, store.ErrNotFound)
		}
		return nil
	})
}

type rowScanner interface{ Scan(dest ...any) error }

func scanVoucher(row rowScanner) (*types.Voucher, error) {
	var v types.Voucher
	var created string
	var finished sql.NullString
	var state string
	err := row.Scan(&v.Number, &created, &v.ExpectedTokens, &state, &finished, &v.Counter)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.State = types.VoucherState(state)
	if v.Created, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, fmt.Errorf("parse voucher created time: %w", err)
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return nil, fmt.Errorf("parse voucher finished time: %w", err)
		}
		v.Finished = &t
	}
	return &v, nil
}
