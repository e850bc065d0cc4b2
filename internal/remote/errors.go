package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/imroc/req/v3"
)

var (
	ErrNoBaseURL       = errors.New("remote: base url missing")
	ErrNotTree         = errors.New("remote: artifact has no file tree")
	ErrInvalidEncoding = errors.New("remote: recipe payload is not valid UTF-8")
)

// RemoteError is a failed call to the content server: a non-2xx answer, or a
// transport failure with StatusCode 0 and the cause in Err.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("remote: %s: %s", e.Op, e.Message)
	}
	if e.Message == "" {
		return fmt.Sprintf("remote: %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("remote: %s: %d %s", e.Op, e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the request may succeed if repeated.
func (e *RemoteError) Temporary() bool {
	if e.StatusCode == 0 {
		return !errors.Is(e.Err, context.Canceled)
	}
	return isRetryableStatus(e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the content server.
func IsNotFound(err error) bool {
	var remoteErr *RemoteError
	return errors.As(err, &remoteErr) && remoteErr.StatusCode == http.StatusNotFound
}

// StatusCode extracts the HTTP status of a RemoteError, or 0.
func StatusCode(err error) int {
	var remoteErr *RemoteError
	if errors.As(err, &remoteErr) {
		return remoteErr.StatusCode
	}
	return 0
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// 429 is the one 4xx worth repeating: the server asks to come back later.
func isRetryableStatus(code int) bool {
	return code >= http.StatusInternalServerError || code == http.StatusTooManyRequests
}

// handleAPIError turns a transport failure or a non-2xx response into an error.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if requestErr != nil {
		return &RemoteError{Op: operation, Message: requestErr.Error(), Err: requestErr}
	}

	if resp.IsErrorState() {
		remoteErr := &RemoteError{Op: operation, StatusCode: resp.StatusCode}
		body := resp.Bytes()
		var parsed errorBody
		if err := jsonUnmarshal(body, &parsed); err == nil && (parsed.Error != "" || parsed.Message != "") {
			remoteErr.Message = parsed.Error
			if remoteErr.Message == "" {
				remoteErr.Message = parsed.Message
			}
		} else {
			remoteErr.Message = strings.TrimSpace(string(body))
		}
		return remoteErr
	}

	return nil
}
