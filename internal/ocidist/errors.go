package ocidist

import (
	"errors"
	"fmt"
	"net/http"
)

type staticError string

func (err staticError) Error() string {
	return string(err)
}

// ErrMetadataMissing reports that an optional field the caller asked for
// was absent from an otherwise valid response. The enrichment pipelines use
// it to choose a degraded result and never surface it to API clients.
const ErrMetadataMissing = staticError("metadata field missing")

// ErrDigestHeaderMissing reports that the registry answered a manifest HEAD
// request without a usable Docker-Content-Digest header, which usually means
// it did not honor the v2 content negotiation.
const ErrDigestHeaderMissing = staticError("Docker-Content-Digest header missing from response")

// maxErrorBodyLen is how much of an unparseable response body we keep in
// a [DecodeError].
const maxErrorBodyLen = 512

// NetworkError wraps a failure to complete the HTTP round trip at all, such
// as a connection, TLS or timeout problem.
type NetworkError struct {
	Wrapped error
}

func (err *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s", err.Wrapped)
}

func (err *NetworkError) Unwrap() error {
	return err.Wrapped
}

// UpstreamError is returned when the registry responds with a non-2xx
// status. The status code is kept exactly as the registry sent it.
type UpstreamError struct {
	StatusCode int
	Method     string
	Path       string
}

func (err *UpstreamError) Error() string {
	return fmt.Sprintf("registry error: %s %s returned %d %s", err.Method, err.Path, err.StatusCode, http.StatusText(err.StatusCode))
}

// DecodeError is returned when a response body doesn't match the shape we
// expected. Body holds a prefix of the raw response, because manifest
// formats vary enough that the raw text is usually the quickest way to see
// what went wrong.
type DecodeError struct {
	Wrapped error
	Body    string
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("response is not in the expected format: %s (body: %q)", err.Wrapped, err.Body)
}

func (err *DecodeError) Unwrap() error {
	return err.Wrapped
}

func newDecodeError(wrapped error, body []byte) *DecodeError {
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return &DecodeError{
		Wrapped: wrapped,
		Body:    string(body),
	}
}

// HTTPStatus chooses the status code that an API response should use to
// report the given error to its caller.
//
// Network failures are our problem rather than the caller's, so they
// become 502 Bad Gateway. Registry status codes are forwarded verbatim so
// that callers can tell authentication failures, rate limiting and
// missing repositories apart. Decode failures become 400 Bad Request.
func HTTPStatus(err error) int {
	var upstreamErr *UpstreamError
	var networkErr *NetworkError
	var decodeErr *DecodeError
	switch {
	case errors.As(err, &upstreamErr):
		return upstreamErr.StatusCode
	case errors.As(err, &networkErr):
		return http.StatusBadGateway
	case errors.As(err, &decodeErr):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
