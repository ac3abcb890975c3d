// Package migrations embeds the auth schema migrations.
package migrations

import "embed"

// FS holds the SQL migration files applied at store open.
//
//go:embed *.sql
var FS embed.FS
