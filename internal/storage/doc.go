// Package storage provides the opaque key-value persistence layer used by
// the rule store and the dispatcher.
//
// Keys in use:
//   - category_<id> / category_*   subscription rules per scope
//   - topic_<topicId>_<channel>    conversation state for message coalescing
//
// It currently supports:
//   - mem: in-process map (tests, dev)
//   - file: snapshot + append-only journal
//   - sqlite: SQLite database file (optional build tag)
package storage
