package checkr

import (
	"errors"
	"fmt"
)

var (
	// ErrProviderRejected is wrapped by every ProviderError
	ErrProviderRejected = errors.New("checkr rejected the request")

	// ErrProviderUnavailable is returned on transport failures and timeouts
	ErrProviderUnavailable = errors.New("checkr is unavailable")

	// ErrProviderInvalidResponse is returned when a 2xx body cannot be used
	ErrProviderInvalidResponse = errors.New("invalid response from checkr")
)

// ProviderError carries a non-2xx Checkr response. Body is the provider's
// payload verbatim so callers can surface it unchanged.
type ProviderError struct {
	Op         string
	StatusCode int
	Body       []byte
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("checkr %s failed with status %d", e.Op, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return ErrProviderRejected
}
