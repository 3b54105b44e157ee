// Package migrations embeds the SQL schema of the match history.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
