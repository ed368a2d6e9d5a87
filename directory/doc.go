// Package directory holds the authoritative agent registry.
//
// # Overview
//
// An AgentRecord travels through a small lifecycle: registered (with a
// minted claim code when unowned), optionally claimed by an owner, kept
// alive by heartbeats, marked offline by the health sweeper after five
// silent minutes, and finally deregistered. Offline is reversible; the
// sweeper never deletes.
//
// One mutex covers the record map, the skill/protocol/tag indexes, and
// the write-through store so readers can never observe them out of sync.
// Collaborators (event bus, trust engine, cache invalidation hooks) are
// invoked only after that lock is released.
//
// Identity is optional but binding: a record carrying a public key must
// use an id derived from it, and a signature, when present, must verify
// over the canonical manifest.
package directory
