package persist

import (
	"errors"
	"fmt"
)

// ErrStorageExceeded means the collection does not fit the quota even with
// every eligible artifact at its lowest tier.
var ErrStorageExceeded = errors.New("storage quota exceeded")

// ExceededMessage is shown to the user when a save is refused.
const ExceededMessage = "storage quota exceeded: delete old artifacts and retry"

// ExceededError reports a refused save. Nothing was written.
type ExceededError struct {
	OwnerID     string
	NeededBytes int64
	QuotaBytes  int64
}

func (e *ExceededError) Error() string {
	return ExceededMessage
}

// Detail describes the shortfall for logs.
func (e *ExceededError) Detail() string {
	return fmt.Sprintf("owner %s needs %d bytes, quota is %d", e.OwnerID, e.NeededBytes, e.QuotaBytes)
}

func (e *ExceededError) Unwrap() error {
	return ErrStorageExceeded
}
