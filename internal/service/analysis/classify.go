// internal/service/analysis/classify.go

package analysis

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrorClass decides whether a failed call is retried
type ErrorClass int

const (
	ClassTerminal ErrorClass = iota
	ClassNetwork
	ClassTransient
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNetwork:
		return "network"
	case ClassTransient:
		return "transient"
	default:
		return "terminal"
	}
}

// StatusCoder is implemented by errors that carry an HTTP status
type StatusCoder interface {
	StatusCode() int
}

var (
	networkMarkers   = []string{"network", "fetch"}
	transientMarkers = []string{"503", "429", "temporarily"}
)

// Classify inspects structured errors first and falls back to the message
// markers the remote functions are known to produce. A per-request timeout
// is a network failure; callers check their own context before classifying.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTerminal
	}
	if errors.Is(err, context.Canceled) {
		return ClassTerminal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch sc.StatusCode() {
		case http.StatusServiceUnavailable, http.StatusTooManyRequests:
			return ClassTransient
		}
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, m := range networkMarkers {
		if strings.Contains(msg, m) {
			return ClassNetwork
		}
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return ClassTransient
		}
	}
	return ClassTerminal
}

// IsRetryable reports whether err is worth another attempt
func IsRetryable(err error) bool {
	return Classify(err) != ClassTerminal
}
