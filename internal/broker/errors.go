package broker

import (
	"errors"
	"fmt"
)

// ErrNotConnected is returned when an operation requires a live broker
// connection and none exists.
var ErrNotConnected = errors.New("broker: not connected")

// ConnectionError wraps failures during connection establishment or teardown.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker: connection %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// PublishError wraps subject validation failures and send failures. Subject
// validation fails before any I/O is attempted.
type PublishError struct {
	Subject string
	Err     error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("broker: publish %s: %v", e.Subject, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// SubscribeError wraps subject validation failures and subscribe failures.
type SubscribeError struct {
	Subject string
	Err     error
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("broker: subscribe %s: %v", e.Subject, e.Err)
}

func (e *SubscribeError) Unwrap() error { return e.Err }

// HealthCheckError reports consecutive health-check failures.
type HealthCheckError struct {
	Failures int
	Err      error
}

func (e *HealthCheckError) Error() string {
	return fmt.Sprintf("broker: health check failed %d times: %v", e.Failures, e.Err)
}

func (e *HealthCheckError) Unwrap() error { return e.Err }
