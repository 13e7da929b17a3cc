package sqlite

// Every CREATE carries IF NOT EXISTS so Ensure can run against an
// existing database. Snapshots restore the clause on their own DDL (SQLite
// drops it from sqlite_master), so a snapshot of one store replays into
// another store that already ran Ensure: the DDL is a no-op and only the
// rows apply.
const schema = `
CREATE TABLE IF NOT EXISTS "vouchers" (
	"number" TEXT PRIMARY KEY,
	"created" TEXT NOT NULL,
	"expected_tokens" INTEGER NOT NULL,
	"state" TEXT NOT NULL DEFAULT 'pending',
	"finished" TEXT,
	"counter" INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS "random_tokens" (
	"token" TEXT PRIMARY KEY,
	"voucher" TEXT NOT NULL REFERENCES "vouchers"("number")
);

CREATE INDEX IF NOT EXISTS "idx_random_tokens_voucher" ON "random_tokens"("voucher");

CREATE TABLE IF NOT EXISTS "unblinded_tokens" (
	"token" TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS "invalid_unblinded_tokens" (
	"token" TEXT PRIMARY KEY,
	"reason" TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS "redemptions" (
	"id" TEXT PRIMARY KEY,
	"voucher" TEXT NOT NULL,
	"counter" INTEGER NOT NULL,
	"created" TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS "idx_redemptions_voucher" ON "redemptions"("voucher");
`
