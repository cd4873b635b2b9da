package reconcile

import "context"

// Locker serializes runs that write to the same accounting system. Obtain returns a
// release func that must be called once the run is over.
type Locker interface {
	Obtain(ctx context.Context, key string) (release func(), err error)
}
