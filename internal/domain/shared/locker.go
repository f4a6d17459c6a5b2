package shared

import "context"

// UnlockFunc releases a lock obtained from a Locker. It is safe to call more than once.
type UnlockFunc func()

// Locker provides mutual exclusion per key
type Locker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (UnlockFunc, error)
}
