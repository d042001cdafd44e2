// Package token computes partition tokens for catalog keys.
//
// Catalog tables are partitioned by keyspace name, so a full scan visits
// keyspaces in token order. Both catalog implementations and the projector
// order rows by (token, keyspace_name, table_name) so that a scan can be
// resumed from any position.
package token

import (
	"github.com/spaolacci/murmur3"
)

// Token is the signed 64-bit position of a partition key on the ring.
type Token int64

// Of returns the token of a partition key.
func Of(partitionKey string) Token {
	h1, _ := murmur3.Sum128([]byte(partitionKey))
	return Token(int64(h1))
}

// Position is a total order over catalog rows.
type Position struct {
	Token    Token
	Keyspace string
	Table    string
}

// PositionOf builds the position of a table row.
func PositionOf(keyspace, table string) Position {
	return Position{Token: Of(keyspace), Keyspace: keyspace, Table: table}
}

// Compare returns -1, 0 or 1.
func (p Position) Compare(o Position) int {
	switch {
	case p.Token < o.Token:
		return -1
	case p.Token > o.Token:
		return 1
	}
	if c := compareStrings(p.Keyspace, o.Keyspace); c != 0 {
		return c
	}
	return compareStrings(p.Table, o.Table)
}

// Less reports whether p sorts before o.
func (p Position) Less(o Position) bool {
	return p.Compare(o) < 0
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
