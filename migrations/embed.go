// Package migrations embeds the goose SQL migrations for the local database.
package migrations

import "embed"

// FS holds all migration files.
//
//go:embed *.sql
var FS embed.FS
