// Package locker serializes work on a single key, either within one process
// or across replicas through Redis.
package locker

import "context"

// Locker acquires an exclusive lock on key. The returned unlock function
// is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
