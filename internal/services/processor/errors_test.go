package processor

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestIsRetriable(t *testing.T) {
	apiErr := &APIIntegrationError{TrackingNumber: "EP1", Err: errors.New("502")}
	require.True(t, isRetriable(apiErr))
	// Wrapping keeps the class visible.
	require.True(t, isRetriable(errors.Wrap(apiErr, "handle tracking")))

	require.False(t, isRetriable(&JobProcessingError{JobID: 1, Reason: "no cache row"}))
	require.False(t, isRetriable(errors.New("something else")))
	require.False(t, isRetriable(ErrProcessorBusy))
}
