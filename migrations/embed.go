// Package migrations embeds the jobs and config schema so that `queuectl
// migrate` and the integration test harness apply the same files without
// reading from disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
