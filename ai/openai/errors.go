package openai

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/ragqa/core"
)

var (
	errNoChoices     = errors.New("model returned no choices")
	errEmptyAnswer   = errors.New("model returned an empty answer")
	errCountMismatch = errors.New("provider returned a different number of embeddings than inputs")
)

var statusCodePattern = regexp.MustCompile(`status code:? (\d{3})`)

// transientMarkers are lowercase fragments of error messages that indicate a
// failure worth retrying when no status code is available.
var transientMarkers = []string{
	"connection refused",
	"connection reset",
	"unexpected eof",
	"timeout",
	"rate limit",
	"would exceed context deadline",
	"temporarily unavailable",
	"overloaded",
}

// classify wraps err as a *core.ExternalServiceError for service and op.
func classify(service, op string, err error) error {
	if err == nil {
		return nil
	}
	var svcErr *core.ExternalServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	return &core.ExternalServiceError{
		Service:   service,
		Op:        op,
		Transient: isTransient(err),
		Err:       err,
	}
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, context.DeadlineExceeded):
		return true
	}

	if code, ok := statusCode(err); ok {
		return code == 408 || code == 429 || code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// statusCode extracts the HTTP status code langchaingo embeds in API errors.
func statusCode(err error) (int, bool) {
	m := statusCodePattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	code, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0, false
	}
	return code, true
}

func isThrottled(err error) bool {
	code, ok := statusCode(err)
	return ok && code == 429
}
