// Package migrations embeds the portal's SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
