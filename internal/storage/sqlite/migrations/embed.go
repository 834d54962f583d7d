package migrations

import "embed"

// FS contains embedded SQLite migrations for the local library database.
//
//go:embed *.sql
var FS embed.FS
