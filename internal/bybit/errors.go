package bybit

import (
	"fmt"
)

// ConfigurationError is returned by NewClient when the key or secret is missing.
type ConfigurationError struct {
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("bybit: %s is required", e.Missing)
}

// TransportError covers network failures and non-2xx HTTP responses.
type TransportError struct {
	Path       string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("bybit %s: http %d: %v", e.Path, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("bybit %s: %v", e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RemoteError is a well-formed response carrying a non-zero ret_code.
type RemoteError struct {
	Path    string
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("bybit %s: ret_code %d: %s", e.Path, e.Code, e.Message)
}
