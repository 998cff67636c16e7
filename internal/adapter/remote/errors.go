// internal/adapter/remote/errors.go

package remote

import (
	"fmt"
	"net/http"
)

// RemoteError is a failure reported by a remote function
type RemoteError struct {
	Function string
	Status   int
	Message  string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d %s", e.Function, e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("%s: status %d: %s", e.Function, e.Status, e.Message)
}

// StatusCode returns the HTTP status of the failed call
func (e *RemoteError) StatusCode() int {
	return e.Status
}
