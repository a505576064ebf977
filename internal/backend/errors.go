package backend

import (
	"fmt"
	"net/http"
	"strings"

	"storybook/internal/services"
)

// StatusError reports a non-2xx response from the job API.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	if body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// HTTPStatus exposes the status code to services.IsTransient.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

func (e *StatusError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return services.ErrNotFound
	case http.StatusConflict:
		return services.ErrConflict
	default:
		return services.ErrRemote
	}
}
