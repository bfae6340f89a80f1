// Package storage persists watermarks and the cycle journal.
//
// Drivers:
//   - "file": human-inspectable INI text ([repo] last_revision = N),
//     rewritten atomically, plus an append-only <prefix>.cycles.jsonl journal
//   - "sqlite": single database file (watermarks + cycles tables)
//   - "memory": process-local, nothing survives a restart
package storage
