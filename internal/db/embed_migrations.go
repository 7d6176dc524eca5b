package db

import "embed"

// MigrationFS embeds the users schema migrations applied by cmd/migrate and the integration tests.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
