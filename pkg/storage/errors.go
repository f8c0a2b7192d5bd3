// Package storage is the encrypted-at-rest repository layer. A shared
// Manager owns a pool of SQLCipher connections keyed by a caller-supplied
// secret; repositories dispatch blocking SQL work onto a worker pool and
// translate driver errors into a small domain taxonomy.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the domain-level classification of a storage failure.
type ErrorKind int

const (
	// KindDatabase covers driver and I/O failures.
	KindDatabase ErrorKind = iota
	// KindSecurity covers key and cipher failures.
	KindSecurity
	// KindInvalidInput covers constraint violations and bad arguments.
	KindInvalidInput
	// KindNotFound covers missing rows.
	KindNotFound
	// KindInternal covers dispatch and cancellation failures.
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindDatabase:
		return "database"
	case KindSecurity:
		return "security"
	case KindInvalidInput:
		return "invalid input"
	case KindNotFound:
		return "not found"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the storage layer's public error type.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage %s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a storage Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// mapError translates a driver error into the domain taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &Error{Kind: KindNotFound, Op: op, Err: err}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "file is not a database"),
		strings.Contains(msg, "SQLITE_NOTADB"),
		strings.Contains(msg, "hmac check failed"):
		return &Error{Kind: KindSecurity, Op: op, Err: err}
	case strings.Contains(msg, "constraint"):
		return &Error{Kind: KindInvalidInput, Op: op, Err: err}
	default:
		return &Error{Kind: KindDatabase, Op: op, Err: err}
	}
}

func invalidInput(op, reason string) error {
	return &Error{Kind: KindInvalidInput, Op: op, Err: errors.New(reason)}
}

func notFound(op string) error {
	return &Error{Kind: KindNotFound, Op: op, Err: sql.ErrNoRows}
}

func internal(op string, err error) error {
	return &Error{Kind: KindInternal, Op: op, Err: err}
}
