package port

import "context"

type CacheRepository interface {
	// SetIdempotency claims a command request key, returns false if a request
	// with the same key was already accepted
	SetIdempotency(ctx context.Context, key string) (bool, error)
}
