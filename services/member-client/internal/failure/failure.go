// Package failure classifies errors from every layer of the client into a
// small set of kinds and turns them into messages fit for the user.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Kind string

const (
	KindInternal    Kind = "internal"
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindPermission  Kind = "permission"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindUnavailable Kind = "unavailable"
	KindStorage     Kind = "storage"
)

// Error carries a kind and an optional user-facing message.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Op != "" && e.Message != "":
		return e.Op + ": " + e.Message
	case e.Message != "":
		return e.Message
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

var (
	ErrNotFound = New(KindNotFound, "not found")
	ErrConflict = New(KindConflict, "already exists")
)

// Postgres SQLSTATE codes the document store can surface.
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgInsufficientPrivs    = "42501"
	pgInvalidPassword      = "28P01"
	pgInvalidAuthorization = "28000"
)

// Classify returns the kind of err. Unknown errors are internal.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return KindNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return KindConflict
		case pgForeignKeyViolation:
			return KindNotFound
		case pgCheckViolation:
			return KindValidation
		case pgInsufficientPrivs:
			return KindPermission
		case pgInvalidPassword, pgInvalidAuthorization:
			return KindAuth
		}
		// 08xxx connection exceptions, 57P0x operator intervention (shutdown).
		if len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:4] == "57P0") {
			return KindUnavailable
		}
		return KindInternal
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.Status)
	}

	if IsConnectivity(err) {
		return KindUnavailable
	}
	return KindInternal
}

// IsConnectivity reports whether err means the backend could not be reached,
// as opposed to the backend answering with a rejection.
func IsConnectivity(err error) bool {
	if err == nil {
		return false
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind == KindUnavailable {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ENETUNREACH)
}

// HTTPError is a non-2xx answer from an HTTP collaborator.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Status)
	}
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		return KindAuth
	case status == http.StatusForbidden:
		return KindPermission
	case status == http.StatusNotFound:
		return KindNotFound
	case status == http.StatusConflict:
		return KindConflict
	case status == http.StatusTooManyRequests || status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return KindUnavailable
	default:
		return KindInternal
	}
}

// UserMessage renders err for display.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Message != "" && (fe.Kind == KindValidation || fe.Err == nil) {
		return fe.Message
	}
	switch Classify(err) {
	case KindValidation:
		return "Some of the information entered is not valid."
	case KindAuth:
		return "Your session is not valid. Please sign in again."
	case KindPermission:
		return "You do not have permission to do that."
	case KindNotFound:
		return "The requested item no longer exists."
	case KindConflict:
		return "That item already exists."
	case KindUnavailable:
		return "The service is unreachable. Changes will be sent when you are back online."
	case KindStorage:
		return "Local storage could not be read or written."
	default:
		return "Something went wrong. Please try again."
	}
}
