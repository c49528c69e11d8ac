// Package protocol implements the binary request/response format spoken
// between clients and the server.
//
// Every frame starts with an 8 byte signed big-endian length that counts the
// bytes following it. A request continues with the header
//
//	id(1) | flags(1) | method(1) | resource(1) | session(32, absent for LOGIN)
//
// and a body made of DataEntry values. A negative length asks the server to
// close the connection. A response is
//
//	length(8) | id(1) | status(1) | entries
//
// where id echoes the request so out of order responses can be matched.
package protocol

import (
	"errors"
	"fmt"
)

const (
	// FramePrefixSize is the size of the length prefix of every frame.
	FramePrefixSize = 8

	// SessionIDSize is the size of a session identifier on the wire.
	SessionIDSize = 32
)

var (
	ErrUnknownMethod   = errors.New("unknown method")
	ErrUnknownResource = errors.New("unknown resource")
)

// Method is the operation requested on a resource.
type Method byte

const (
	MethodLogin Method = iota
	MethodLogout
	MethodCreate
	MethodRead
	MethodUpdate
	MethodDelete
)

var methodNames = [...]string{
	MethodLogin:  "LOGIN",
	MethodLogout: "LOGOUT",
	MethodCreate: "CREATE",
	MethodRead:   "READ",
	MethodUpdate: "UPDATE",
	MethodDelete: "DELETE",
}

// Valid reports whether m is a known method code.
func (m Method) Valid() bool {
	return int(m) < len(methodNames)
}

func (m Method) String() string {
	if m.Valid() {
		return methodNames[m]
	}
	return fmt.Sprintf("METHOD(%d)", byte(m))
}

// Status is the outcome code of a response.
type Status byte

const (
	StatusOK Status = iota
	StatusBadFormatting
	StatusUnknownMethod
	StatusUnknownResource
	StatusMethodNotAllowed
	StatusUnauthorized
	StatusNotFound
	StatusDatabaseConnection
	StatusDatabaseIntegrity
	StatusDatabaseSyntax
	StatusDatabaseUnknown
	StatusInternalError
	StatusTooLarge
)

var statusNames = [...]string{
	StatusOK:                 "OK",
	StatusBadFormatting:      "BAD_FORMATTING",
	StatusUnknownMethod:      "UNKNOWN_METHOD",
	StatusUnknownResource:    "UNKNOWN_RESOURCE",
	StatusMethodNotAllowed:   "METHOD_NOT_ALLOWED",
	StatusUnauthorized:       "UNAUTHORIZED",
	StatusNotFound:           "NOT_FOUND",
	StatusDatabaseConnection: "DATABASE_CONNECTION",
	StatusDatabaseIntegrity:  "DATABASE_INTEGRITY",
	StatusDatabaseSyntax:     "DATABASE_SYNTAX",
	StatusDatabaseUnknown:    "DATABASE_UNKNOWN",
	StatusInternalError:      "INTERNAL_ERROR",
	StatusTooLarge:           "TOO_LARGE",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("STATUS(%d)", byte(s))
}

// FormatError reports a request that is well framed but whose content cannot
// be understood. Message is safe to send back to the client.
type FormatError struct {
	Message string
	Err     error
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Formatf builds a FormatError with a formatted client-safe message.
func Formatf(format string, args ...any) *FormatError {
	return &FormatError{Message: fmt.Sprintf(format, args...)}
}

// IsFormatError reports whether err is, or wraps, a FormatError.
func IsFormatError(err error) bool {
	var fe *FormatError
	return errors.As(err, &fe)
}
