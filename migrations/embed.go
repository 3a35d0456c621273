// Package migrations holds the SQL that creates the replicated data tables
// the effects server reads from.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
