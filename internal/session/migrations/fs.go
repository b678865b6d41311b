// Package migrations embeds the session_events schema for golang-migrate.
package migrations

import "embed"

// FS embeds every .sql migration file alongside this package.
//
//go:embed *.sql
var FS embed.FS
