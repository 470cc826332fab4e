// Package lock provides the advisory lock service used to serialize
// snapshot and rollback operations across independent process
// invocations. Locks are mutually exclusive, non-reentrant, and must be
// acquired in the fixed order run -> manifest -> document; that ordering
// convention is the sole deadlock-avoidance mechanism.
package lock

import (
	"context"
)

// Class is the kind of resource being locked.
type Class string

const (
	ClassRun      Class = "run"
	ClassManifest Class = "manifest"
	ClassDocument Class = "document"
)

// Lock is a held advisory lock. Release must be called on every exit
// path, success or failure.
type Lock interface {
	// Resource returns the locked resource identifier.
	Resource() string
	// Release gives the lock up. Releasing twice is a no-op.
	Release() error
}

// Service grants advisory locks with a bounded wait. On timeout the
// caller receives a LockTimeout domain error and decides whether to
// retry or abort; no caller waits forever.
type Service interface {
	Acquire(ctx context.Context, resource string, class Class) (Lock, error)
}
