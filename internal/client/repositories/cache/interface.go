// Package cache persists serialized entity snapshots under (namespace, key)
// pairs, e.g. ("statuses", <mcard id>) or ("mcards", <slug>).
package cache

import "context"

type Repository interface {
	// Get returns (nil, nil) when nothing is stored under the key.
	Get(ctx context.Context, namespace, key string) ([]byte, error)
	Put(ctx context.Context, namespace, key string, value []byte) error
	Delete(ctx context.Context, namespace, key string) error
	// List returns every key of namespace with its value.
	List(ctx context.Context, namespace string) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
