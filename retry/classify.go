package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// Class is a caller-assigned failure classification. Handlers mark errors
// whose class the built-in detectors cannot infer.
type Class int

const (
	// ClassUnknown means the error carries no marker.
	ClassUnknown Class = iota
	// ClassTransient marks a temporary operational storage failure.
	ClassTransient
	// ClassIntegrity marks a constraint violation that fails identically on retry.
	ClassIntegrity
	// ClassTransport marks a connection, timeout, or OS transport failure.
	ClassTransport
	// ClassValidation marks a deterministic input failure.
	ClassValidation
)

// String returns the string representation of Class.
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassIntegrity:
		return "integrity"
	case ClassTransport:
		return "transport"
	case ClassValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with a Class.
type ClassifiedError struct {
	Class Class
	Err   error
}

// Error implements the error interface.
func (e *ClassifiedError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error.
func (e *ClassifiedError) Unwrap() error { return e.Err }

func classify(err error, c Class) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{Class: c, Err: err}
}

// Transient marks err as a temporary operational storage failure.
func Transient(err error) error { return classify(err, ClassTransient) }

// Integrity marks err as a constraint violation.
func Integrity(err error) error { return classify(err, ClassIntegrity) }

// Transport marks err as a connection or transport failure.
func Transport(err error) error { return classify(err, ClassTransport) }

// Validation marks err as a deterministic input failure.
func Validation(err error) error { return classify(err, ClassValidation) }

// ClassOf returns the outermost marker class in err's chain.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassUnknown
}

// TypeName returns the dynamic type of the innermost classified cause, or
// of err itself, e.g. "*net.OpError".
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return fmt.Sprintf("%T", ce.Err)
	}
	return fmt.Sprintf("%T", err)
}

// ── Storage ──

// Postgres SQLSTATE codes that succeed on a later attempt.
var transientSQLStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled (statement timeout)
	"53300": true, // too_many_connections
}

// IsIntegrity reports whether err is a constraint or integrity violation.
func IsIntegrity(err error) bool {
	if err == nil {
		return false
	}
	if ClassOf(err) == ClassIntegrity {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "23")
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrConstraint
	}

	return mongo.IsDuplicateKeyError(err)
}

// IsTransientStorage reports whether err is a lock, timeout, deadlock, or
// connection-class database failure. Integrity violations are never
// transient.
func IsTransientStorage(err error) bool {
	if err == nil || IsIntegrity(err) {
		return false
	}
	if ClassOf(err) == ClassTransient {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return transientSQLStates[pgErr.Code] || strings.HasPrefix(pgErr.Code, "08")
	}

	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}

	if mongo.IsTimeout(err) || mongo.IsNetworkError(err) {
		return true
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	return IsTransport(err)
}

// ── Transport ──

var transportErrnos = []error{
	syscall.ECONNREFUSED,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.EPIPE,
	syscall.ETIMEDOUT,
	syscall.EHOSTUNREACH,
	syscall.ENETUNREACH,
}

// IsTransport reports whether err is a connection, timeout, or OS
// transport failure.
func IsTransport(err error) bool {
	if err == nil {
		return false
	}
	switch ClassOf(err) {
	case ClassTransport:
		return true
	case ClassValidation, ClassIntegrity:
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	for _, errno := range transportErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// ── External API ──

var rateLimitHints = []string{
	"rate limit",
	"rate-limit",
	"ratelimit",
	"429",
	"too many requests",
	"timeout",
	"timed out",
}

// HasRateLimitOrTimeoutHint reports whether err's message mentions a rate
// limit or timeout, case-insensitively.
func HasRateLimitOrTimeoutHint(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range rateLimitHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
