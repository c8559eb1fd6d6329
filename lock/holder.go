package lock

import "context"

type holderKey struct{}

// WithHolder returns a context that identifies the caller as holder id.
// Calls carrying the same holder reenter a lock they already hold.
// Calls without a holder are never reentrant, like sync.Mutex.
func WithHolder(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, holderKey{}, id)
}

// HolderFromContext returns the holder id carried by ctx, or "".
func HolderFromContext(ctx context.Context) string {
	id, _ := ctx.Value(holderKey{}).(string)
	return id
}
