// Package migrations embeds the SQL for the tables this service owns
// (baselines, anomalies, training history, KPI cache) so the binary is
// self-contained. Hypertables and continuous aggregates belong to the
// ingestion deployment and are never created here.
package migrations

import "embed"

// FS contains all *.sql migration files embedded at compile time.
//
//go:embed *.sql
var FS embed.FS
