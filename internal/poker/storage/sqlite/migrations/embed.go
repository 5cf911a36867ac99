// Package migrations contains embedded SQL migrations for the SQLite store.
package migrations

import "embed"

//go:embed poker/*.sql
var PokerFS embed.FS
