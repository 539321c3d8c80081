package processor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrProcessorBusy is returned when ProcessJobs is called while a prior
// pass is still in flight. Callers get it immediately; nothing queues.
var ErrProcessorBusy = errors.New("processor is already running")

// APIIntegrationError means the courier call itself failed or returned an
// unusable payload. It is the only error class eligible for automatic
// retry.
type APIIntegrationError struct {
	TrackingNumber string
	Err            error
}

func (e *APIIntegrationError) Error() string {
	return fmt.Sprintf("courier api call for %s failed: %v", e.TrackingNumber, e.Err)
}

func (e *APIIntegrationError) Unwrap() error { return e.Err }

// JobProcessingError covers everything else that can go wrong while
// handling a job. Retrying a bug doesn't help, so these terminate the
// job.
type JobProcessingError struct {
	JobID  uint64
	Reason string
}

func (e *JobProcessingError) Error() string {
	return fmt.Sprintf("job %d: %s", e.JobID, e.Reason)
}

// isRetriable reports whether the error came from the courier
// integration rather than from our own handling.
func isRetriable(err error) bool {
	var apiErr *APIIntegrationError
	return errors.As(err, &apiErr)
}
