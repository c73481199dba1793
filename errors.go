package salvage

import "errors"

var (
	// Configuration errors.
	ErrInvalidConfig = errors.New("salvage: invalid configuration")
	ErrUnknownPolicy = errors.New("salvage: unknown retry policy")
	ErrNoStore       = errors.New("salvage: no store configured")
	ErrNoRuntime     = errors.New("salvage: no runtime configured")

	// Not found errors.
	ErrRecordNotFound  = errors.New("salvage: dead letter record not found")
	ErrHandlerNotFound = errors.New("salvage: no handler registered for job")

	// Coordination errors.
	ErrLockNotAcquired = errors.New("salvage: index lock not acquired")
)
