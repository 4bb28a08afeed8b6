package model

import "github.com/m-mizutani/goerr/v2"

// Error taxonomy of the memory subsystem. Concrete errors wrap one of these
// sentinels so callers classify them with errors.Is.
var (
	// ErrTransientIO means the store or the log was temporarily unavailable
	ErrTransientIO = goerr.New("transient I/O failure")

	// ErrOptimisticConflict means a concurrent writer advanced the checkpoint first
	ErrOptimisticConflict = goerr.New("optimistic commit conflict")

	// ErrCompletion means the completion call failed, timed out or returned garbage
	ErrCompletion = goerr.New("completion failure")

	// ErrPermanentEntry means an entry can never be processed
	ErrPermanentEntry = goerr.New("permanent entry failure")

	// ErrNoProfile means there is no readable profile
	ErrNoProfile = goerr.New("no profile available")

	// ErrCheckpointRegression means a commit tried to move the checkpoint backward
	ErrCheckpointRegression = goerr.New("checkpoint must not move backward")
)
