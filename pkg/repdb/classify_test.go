package repdb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutates(t *testing.T) {
	cases := []struct {
		name      string
		statement string
		mutates   bool
	}{
		{"select", "SELECT * FROM foo", false},
		{"select lowercase", "select 1", false},
		{"select leading space", "   \n\tSELECT 1", false},
		{"select after line comment", "-- reads only\nSELECT 1", false},
		{"select after block comment", "/* reads\nonly */ SELECT 1", false},
		{"insert", `INSERT INTO "foo" VALUES (1)`, true},
		{"update", `UPDATE "foo" SET "a" = 1`, true},
		{"delete", `DELETE FROM "foo"`, true},
		{"replace", `REPLACE INTO "foo" VALUES (1)`, true},
		{"create table", `CREATE TABLE "foo" ("a" INT)`, true},
		{"drop table", `DROP TABLE "foo"`, true},
		{"pragma", "PRAGMA journal_mode = WAL", true},
		{"begin", "BEGIN", true},
		{"cte", `WITH x AS (SELECT 1) SELECT * FROM x`, true},
		{"empty", "", true},
		{"blank", "   \n ", true},
		{"comment only", "-- nothing here", true},
		{"unterminated comment", "/* SELECT 1", true},
		{"punctuation", "??", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.mutates, Mutates(tc.statement))
		})
	}
}
