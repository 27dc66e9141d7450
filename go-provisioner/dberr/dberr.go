package dberr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"syscall"

	"github.com/lib/pq"
)

// Kind is a coarse classification of a backend failure.
type Kind int

const (
	Unknown Kind = iota
	Network
	Unauthorized
	Malformed
	Conflict
	NotFound
)

var kindNames = map[Kind]string{
	Unknown:      "unknown",
	Network:      "network",
	Unauthorized: "unauthorized",
	Malformed:    "malformed",
	Conflict:     "conflict",
	NotFound:     "not_found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

type kindError Kind

func (e kindError) Error() string {
	return Kind(e).String() + " error"
}

func (e kindError) Is(target error) bool {
	if t, ok := target.(kindError); ok {
		return e == t
	}
	return false
}

// Sentinels for errors.Is checks against a classified *Error.
var (
	ErrUnknown      error = kindError(Unknown)
	ErrNetwork      error = kindError(Network)
	ErrUnauthorized error = kindError(Unauthorized)
	ErrMalformed    error = kindError(Malformed)
	ErrConflict     error = kindError(Conflict)
	ErrNotFound     error = kindError(NotFound)
)

// Error is a classified backend error.
type Error struct {
	Kind Kind
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Code != "" {
		b.WriteString(" (")
		b.WriteString(e.Code)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	if t, ok := target.(kindError); ok {
		return Kind(t) == e.Kind
	}
	return false
}

// New builds a classified error of the given kind without inspecting err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of a classified error, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Classify wraps err in an *Error describing what failed. A nil err stays nil.
// An already classified error keeps its kind; a bare *Error without an op is
// returned as a copy carrying op, and the original is left untouched.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		if existing.Op == "" && err == error(existing) {
			withOp := *existing
			withOp.Op = op
			return &withOp
		}
		return err
	}
	kind, code := classify(err)
	return &Error{Kind: kind, Op: op, Code: code, Err: err}
}

func classify(err error) (Kind, string) {
	// Cancellation is the caller stopping, not the backend failing.
	if errors.Is(err, context.Canceled) {
		return Unknown, ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Network, ""
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return KindForSQLState(code), code
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return Network, ""
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network, ""
	}

	if code, ok := restErrorCode(err.Error()); ok {
		return KindForRESTCode(code), code
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"),
		strings.Contains(msg, "i/o timeout"), strings.Contains(msg, "connection reset"):
		return Network, ""
	case strings.Contains(msg, "password authentication failed"), strings.Contains(msg, "jwt"),
		strings.Contains(msg, "permission denied"), strings.Contains(msg, "invalid api key"):
		return Unauthorized, ""
	}
	return Unknown, ""
}

// KindForSQLState maps a five character SQLSTATE to a Kind.
func KindForSQLState(code string) Kind {
	switch code {
	case "42501":
		return Unauthorized
	case "42P01", "42704", "3F000":
		return NotFound
	case "42P07", "42710", "42P06":
		return Conflict
	}
	if len(code) < 2 {
		return Unknown
	}
	switch code[:2] {
	case "08", "57":
		return Network
	case "28":
		return Unauthorized
	case "23":
		return Conflict
	case "42", "22":
		return Malformed
	}
	return Unknown
}

// KindForRESTCode maps a PostgREST error code, which is either a PGRSTnnn code
// or a passed-through SQLSTATE, to a Kind.
func KindForRESTCode(code string) Kind {
	if !strings.HasPrefix(code, "PGRST") {
		return KindForSQLState(code)
	}
	switch code {
	case "PGRST301", "PGRST302", "PGRST303":
		return Unauthorized
	case "PGRST205", "PGRST116", "PGRST202":
		return NotFound
	case "PGRST001", "PGRST002", "PGRST003":
		return Network
	}
	if strings.HasPrefix(code, "PGRST1") {
		return Malformed
	}
	return Unknown
}

// postgrest-go reports HTTP errors as "(CODE) message".
var restCodePattern = regexp.MustCompile(`^\(([0-9A-Z]{5}|PGRST[0-9]{3})\)`)

func restErrorCode(msg string) (string, bool) {
	m := restCodePattern.FindStringSubmatch(strings.TrimSpace(msg))
	if m == nil {
		return "", false
	}
	return m[1], true
}
