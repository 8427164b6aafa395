// Package migrations embeds the Postgres schema for the compliance ledger.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
