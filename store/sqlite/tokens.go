package sqlite

import (
	"context"
	"time"

	"github.com/litevault-dev/litevault/pkg/repdb"
	"github.com/litevault-dev/litevault/store"
	"github.com/litevault-dev/litevault/types"
)

// TokenStore manages spendable and unspendable tokens.
type TokenStore struct{ st *Store }

// InsertUnblinded stores the unblinded tokens produced by a redemption
// and discards the voucher's random tokens. Redemption output is user
// money, so the whole write is important.
func (t *TokenStore) InsertUnblinded(ctx context.Context, voucher string, tokens []string, completed bool) error {
	return t.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Important(func() error {
			rows := make([][]any, len(tokens))
			for i, tok := range tokens {
				rows[i] = []any{tok}
			}
			if err := cur.ExecuteMany(ctx, `INSERT INTO "unblinded_tokens" ("token") VALUES (?)`, rows); err != nil {
				return err
			}
			if err := cur.Execute(ctx, `DELETE FROM "random_tokens" WHERE "voucher" = ?`, voucher); err != nil {
				return err
			}
			if !completed {
				return cur.Execute(ctx, `
					UPDATE "vouchers" SET "counter" = "counter" + 1 WHERE "number" = ?`, voucher)
			}
			now := t.st.now().UTC().Format(time.RFC3339Nano)
			return cur.Execute(ctx, `
				UPDATE "vouchers"
				SET "state" = ?, "finished" = ?, "counter" = "counter" + 1
				WHERE "number" = ?`,
				string(types.VoucherRedeemed), now, voucher)
		})
	})
}

// MarkInvalid records a token the issuer rejected.
func (t *TokenStore) MarkInvalid(ctx context.Context, token, reason string) error {
	return t.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.Execute(ctx,
			`INSERT INTO "invalid_unblinded_tokens" ("token", "reason") VALUES (?, ?)`,
			token, reason)
	})
}

// Extract removes and returns n spendable tokens. Spending is routine
// traffic, not important: it reaches the replica on the next threshold
// or snapshot upload.
func (t *TokenStore) Extract(ctx context.Context, n int) ([]types.UnblindedToken, error) {
	var out []types.UnblindedToken
	err := t.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		rows, err := cur.Query(ctx, `SELECT "token" FROM "unblinded_tokens" ORDER BY "token" LIMIT ?`, n)
		if err != nil {
			return err
		}
		var picked [][]any
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err != nil {
				rows.Close()
				return err
			}
			out = append(out, types.UnblindedToken{Token: tok})
			picked = append(picked, []any{tok})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) < n {
			out = nil
			return store.ErrNotEnoughTokens
		}
		return cur.ExecuteMany(ctx, `DELETE FROM "unblinded_tokens" WHERE "token" = ?`, picked)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountUnblinded returns the number of spendable tokens.
func (t *TokenStore) CountUnblinded(ctx context.Context) (int, error) {
	var n int
	err := t.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		return cur.QueryRow(ctx, `SELECT count(*) FROM "unblinded_tokens"`).Scan(&n)
	})
	return n, err
}

// ListUnblinded pages through spendable tokens in lexicographic order,
// starting strictly after position.
func (t *TokenStore) ListUnblinded(ctx context.Context, position string, limit int) ([]string, error) {
	var tokens []string
	err := t.st.conn.Transact(ctx, func(cur *repdb.Cursor) error {
		rows, err := cur.Query(ctx, `
			SELECT "token" FROM "unblinded_tokens"
			WHERE "token" > ? ORDER BY "token" LIMIT ?`, position, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var tok string
			if err := rows.Scan(&tok); err != nil {
				return err
			}
			tokens = append(tokens, tok)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return tokens, nil
}
