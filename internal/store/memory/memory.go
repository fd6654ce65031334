// Package memory implements the domain store interfaces as in-process arenas
// guarded by mutexes. It backs the dev mode and the engine test suites; the
// conditional-write semantics mirror the PostgreSQL implementation exactly,
// including the expected-status-check-then-write claim primitive.
package memory

import "time"

func now() time.Time { return time.Now().UTC() }
