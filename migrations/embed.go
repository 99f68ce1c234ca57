// Package migrations embeds the Postgres schema so binaries do not depend on
// a migrations directory at runtime.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
