package storage

import "time"

// Config configures storage.
//
// Driver values:
//   - "mem": in-process map, lost on restart (tests, dev)
//   - "file": dependency-free file backend (snapshot + journal)
//   - "sqlite": SQLite database file (optional build tag)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}
