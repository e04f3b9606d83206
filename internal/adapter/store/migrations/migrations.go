// Package migrations embeds the goose migration files for the
// control-plane schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
