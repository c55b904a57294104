package cache

import "context"

// GenericCache is a byte key-value store backing the HTTP response stores
type GenericCache interface {
	// initializes the cache (e.g., creates necessary directories or schema)
	Init(ctx context.Context) error
	// retrieves cached data if it exists and is not expired.
	// returns nil, nil when not found or expired
	Get(ctx context.Context, key string) ([]byte, error)
	// stores data at the specified key, replacing any previous value
	Set(ctx context.Context, key string, value []byte) error
	// removes the key; missing keys are not an error
	Delete(ctx context.Context, key string) error
	// lists the stored keys starting with prefix
	Keys(ctx context.Context, prefix string) ([]string, error)
	// releases the backend
	Close() error
}
