// Package nserr defines the tagged error taxonomy shared by every
// component of the network stack. Components never return bare
// string-wrapped errors at a package boundary; they return *Error
// with a Kind and, where relevant, an underlying cause.
package nserr

import (
	"errors"
	"fmt"
	"time"
)

// Kind tags the category of a network stack failure.
type Kind int

const (
	KindInvalidURL Kind = iota
	KindInvalidConfig
	KindAborted
	KindTimeout
	KindDNS
	KindConnectionFailed
	KindTLS
	KindCertificate
	KindProtocol
	KindTooManyRedirects
	KindCache
	KindProxy
	KindCORS
	KindMixedContent
	KindCSPViolation
	KindWebSocket
	KindIO
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindInvalidURL:
		return "InvalidUrl"
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindAborted:
		return "Aborted"
	case KindTimeout:
		return "Timeout"
	case KindDNS:
		return "DnsError"
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindTLS:
		return "TlsError"
	case KindCertificate:
		return "CertificateError"
	case KindProtocol:
		return "ProtocolError"
	case KindTooManyRedirects:
		return "TooManyRedirects"
	case KindCache:
		return "CacheError"
	case KindProxy:
		return "ProxyError"
	case KindCORS:
		return "CorsError"
	case KindMixedContent:
		return "MixedContent"
	case KindCSPViolation:
		return "CspViolation"
	case KindWebSocket:
		return "WebSocketError"
	case KindIO:
		return "Io"
	default:
		return "Other"
	}
}

// Error is the single tagged error type returned across the stack.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// Duration carries the elapsed time for KindTimeout.
	Duration time.Duration
	// Reason carries the CORS failure reason for KindCORS.
	Reason string
	// Directive carries the violated CSP directive for KindCSPViolation.
	Directive string
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindTimeout:
		return fmt.Sprintf("%s: timed out after %s", e.Kind, e.Duration)
	case e.Kind == KindCORS && e.Reason != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	case e.Kind == KindCSPViolation:
		return fmt.Sprintf("%s: directive %q violated", e.Kind, e.Directive)
	case e.Cause != nil && e.Message != "":
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is a *Error with the same Kind, so callers
// can write errors.Is(err, nserr.New(nserr.KindTimeout, "")) style checks
// as well as the more common KindOf(err) == ... check.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags cause with kind and message. If cause already carries a *Error
// somewhere in its chain (e.g. a certificate-pin mismatch surfacing through
// several dial/pool/protocol layers), that Error's Kind and kind-specific
// fields are preserved instead of being overwritten by kind — a caller
// further up the stack that re-wraps a cause it merely passed through must
// not relabel KindCertificate as KindConnectionFailed.
func Wrap(kind Kind, message string, cause error) *Error {
	var existing *Error
	if errors.As(cause, &existing) {
		return &Error{
			Kind:      existing.Kind,
			Message:   message,
			Cause:     cause,
			Duration:  existing.Duration,
			Reason:    existing.Reason,
			Directive: existing.Directive,
		}
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Timeout(d time.Duration) *Error {
	return &Error{Kind: KindTimeout, Duration: d}
}

func Dns(cause error) *Error              { return Wrap(KindDNS, "", cause) }
func ConnectionFailed(cause error) *Error { return Wrap(KindConnectionFailed, "", cause) }
func Tls(cause error) *Error              { return Wrap(KindTLS, "", cause) }
func Certificate(cause error) *Error      { return Wrap(KindCertificate, "", cause) }
func Protocol(cause error) *Error         { return Wrap(KindProtocol, "", cause) }
func Proxy(cause error) *Error            { return Wrap(KindProxy, "", cause) }
func WebSocket(cause error) *Error        { return Wrap(KindWebSocket, "", cause) }
func Io(cause error) *Error               { return Wrap(KindIO, "", cause) }

func Cors(reason string) *Error {
	return &Error{Kind: KindCORS, Reason: reason}
}

func CspViolation(directive string) *Error {
	return &Error{Kind: KindCSPViolation, Directive: directive}
}

// KindOf extracts the Kind from err, or KindOther if err is not a *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}
