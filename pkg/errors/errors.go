package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a session failure by what caused it and whether the
// current attempt can survive it.
type Kind string

const (
	// KindPermission covers camera/microphone capture denials. Recoverable:
	// the controller stays in its acquiring state and the action can be retried.
	KindPermission Kind = "PERMISSION"
	// KindRegistry covers stream-registry call failures and malformed
	// registry payloads. Fatal to the current session attempt.
	KindRegistry Kind = "REGISTRY"
	// KindMedia covers media-room connect and publish failures. Fatal to the
	// current attempt; local media must be released.
	KindMedia Kind = "MEDIA"
	// KindTransport covers channel socket drops without an explicit
	// stream-ended. Recoverable via reconnect.
	KindTransport Kind = "TRANSPORT"
	// KindProtocol covers error events delivered on the channel itself.
	KindProtocol Kind = "PROTOCOL"
)

// Failure is a classified session error.
type Failure struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error
}

func (f *Failure) Error() string {
	if f.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", f.Kind, f.Message, f.Cause)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

func NewPermission(message string, cause error) *Failure {
	return &Failure{Kind: KindPermission, Message: message, Retryable: true, Cause: cause}
}

func NewRegistry(message string, cause error) *Failure {
	return &Failure{Kind: KindRegistry, Message: message, Cause: cause}
}

func NewMedia(message string, cause error) *Failure {
	return &Failure{Kind: KindMedia, Message: message, Cause: cause}
}

func NewTransport(message string, cause error) *Failure {
	return &Failure{Kind: KindTransport, Message: message, Retryable: true, Cause: cause}
}

func NewProtocol(message string, retryable bool) *Failure {
	return &Failure{Kind: KindProtocol, Message: message, Retryable: retryable}
}

// Wrap attaches a kind and message to an existing error.
func Wrap(err error, kind Kind, message string) *Failure {
	return &Failure{Kind: kind, Message: message, Cause: err}
}

// KindOf extracts the failure kind from an error chain. Unclassified errors
// report KindProtocol, the most conservative bucket.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindProtocol
}

// IsRetryable reports whether the current session attempt can survive err.
func IsRetryable(err error) bool {
	var f *Failure
	if errors.As(err, &f) {
		return f.Retryable
	}
	return false
}
