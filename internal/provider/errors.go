package provider

import "fmt"

// ConfigError indicates a missing required option or an unknown provider
// identifier. Surfaced to the caller as HTTP 400.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return e.Reason
}

// AuthError indicates the vendor rejected the supplied credential.
type AuthError struct {
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("invalid %s API key (authentication failed)", e.Provider)
}

// ValidationError indicates malformed caller input or an empty/malformed
// vendor response.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UpstreamError wraps any other vendor-side failure, carrying the vendor's
// status code and message when known.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s API error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("error communicating with %s API: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// TimeoutError distinguishes a slow vendor from an unreachable one on the
// model-listing fallback path.
type TimeoutError struct {
	Provider string
	URL      string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout connecting to %s API at %s", e.Provider, e.URL)
}
