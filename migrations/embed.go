// Package migrations embeds the schema migrations applied by the migrate command.
package migrations

import "embed"

// FS holds the numbered golang-migrate files.
//
//go:embed *.sql
var FS embed.FS
