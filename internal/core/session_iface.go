package core

import "context"

// KVStore is a small persistent key-value store for client identity data.
type KVStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}
