package db

import (
	"context"
	"time"
)

// Store is the main database facade combining all sub-interfaces.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	KVStore
	HashStore
	StreamStore
	SetStore
	Scripter
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// KVStore provides simple key-value reads. All ledger writes go through
// Scripter so that check-and-append stays atomic.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// StreamEntry is one entry read from an append-only stream.
type StreamEntry struct {
	ID     string
	Fields map[string]string
}

// StreamStore provides append-only ordered log operations.
type StreamStore interface {
	XAdd(ctx context.Context, key string, fields map[string]string) (string, error)
	XRange(ctx context.Context, key, start, end string, count int) ([]StreamEntry, error)
	XTrimMinID(ctx context.Context, key, minID string) error
}

// SetStore provides set membership operations.
type SetStore interface {
	SAdd(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// Scripter executes a server-side script atomically. The script runs as one
// uninterruptible step on the server; this is the ledger's per-agent
// serialization point.
type Scripter interface {
	EvalScript(ctx context.Context, script string, keys, args []string) ([]string, error)
}
