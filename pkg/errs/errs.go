// Package errs provides a structured error type that carries the operation
// trail, a classification (Kind) and optional request context through the
// service layers, so that the transport can translate it into the BigQuery
// remote-function error envelope.
//
// Based on the design in upspin.io/errors and github.com/gilcrest/diygoapi/errs.
package errs

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error is the type that implements the error interface.
type Error struct {
	// Op is the operation being performed, usually the name of the method
	// being invoked.
	Op Op
	// Kind is the class of error, such as an invalid request.
	Kind Kind
	// Param represents the parameter related to the error.
	Param Parameter
	// Code is a human-readable, short representation of the error.
	Code Code
	// Err is the underlying error that triggered this one, if any.
	Err error
}

func (e *Error) isZero() bool {
	return e.Op == "" && e.Kind == 0 && e.Param == "" && e.Code == "" && e.Err == nil
}

// Unwrap method allows for unwrapping errors using errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Error() string {
	b := new(strings.Builder)

	if e.Op != "" {
		pad(b, ": ")
		b.WriteString(string(e.Op))
	}

	if e.Kind != 0 {
		pad(b, ": ")
		b.WriteString(e.Kind.String())
	}

	if e.Param != "" {
		pad(b, ": ")
		b.WriteString("parameter ")
		b.WriteString(string(e.Param))
	}

	if e.Err != nil {
		var prevErr *Error
		if errors.As(e.Err, &prevErr) {
			if !prevErr.isZero() {
				pad(b, ": ")
				b.WriteString(e.Err.Error())
			}
		} else {
			pad(b, ": ")
			b.WriteString(e.Err.Error())
		}
	}

	if b.Len() == 0 {
		return "no error"
	}

	return b.String()
}

// pad appends str to the buffer if the buffer already has some data.
func pad(b *strings.Builder, str string) {
	if b.Len() == 0 {
		return
	}

	b.WriteString(str)
}

// Op describes an operation, usually as the package and method,
// such as "remoteFunctionService.Call".
type Op string

// Parameter represents the parameter related to the error.
type Parameter string

// Code is a human-readable, short representation of the error
type Code string

// Kind defines the kind of error this is.
type Kind uint8

// Kinds of errors.
//
// The values of the error kinds are common between both
// clients and servers. Do not reorder this list or remove
// any items since that will change their values.
// New items must be added only to the end.
const (
	Other           Kind = iota // Unclassified error. This value is not printed in the error message.
	Invalid                     // Invalid operation for this type of item.
	IO                          // External I/O error such as network failure.
	Exist                       // Item already exists.
	NotExist                    // Item does not exist.
	Internal                    // Internal error or inconsistency.
	Database                    // Error from database.
	Validation                  // Input validation error.
	InvalidRequest              // Invalid Request
	Unauthenticated             // Unauthenticated Request
	Unauthorized                // Unauthorized request
	Function                    // A remote function failed on a row.
	Timeout                     // The operation ran out of time.
	Unavailable                 // A dependency is temporarily unavailable.
	TooManyRequests             // The caller should back off.
	TooLarge                    // The request exceeds a size limit.
)

func (k Kind) String() string {
	switch k {
	case Other:
		return "other error"
	case Invalid:
		return "invalid operation"
	case IO:
		return "I/O error"
	case Exist:
		return "item already exists"
	case NotExist:
		return "item does not exist"
	case Internal:
		return "internal error"
	case Database:
		return "database error"
	case Validation:
		return "input validation error"
	case InvalidRequest:
		return "invalid request error"
	case Unauthenticated:
		return "unauthenticated request"
	case Unauthorized:
		return "unauthorized request"
	case Function:
		return "function error"
	case Timeout:
		return "timeout"
	case Unavailable:
		return "unavailable"
	case TooManyRequests:
		return "too many requests"
	case TooLarge:
		return "request too large"
	}

	return "unknown error kind"
}

// E builds an error value from its arguments.
// There must be at least one argument or E panics.
// The type of each argument determines its meaning.
// If more than one argument of a given type is presented,
// only the last one is recorded.
//
// The types are:
//
//	errs.Op
//		The operation being performed, usually the method
//		being invoked (Get, Put, etc.).
//	errs.Parameter
//		The parameter related to the error.
//	errs.Code
//		A short, human-readable code for the error.
//	string
//		Treated as an error message and assigned to the
//		Err field after a call to errors.New.
//	errs.Kind
//		The class of error, such as an invalid request.
//	error
//		The underlying error that triggered this one.
//
// If the error is printed, only those items that have been
// set to non-zero values will appear in the result.
//
// If Kind is not specified or Other, we set it to the Kind of
// the underlying error. A context.DeadlineExceeded underneath
// an unclassified error is reported as Timeout.
func E(args ...interface{}) error {
	if len(args) == 0 {
		panic("call to errs.E with no arguments")
	}

	e := &Error{}

	for _, arg := range args {
		switch arg := arg.(type) {
		case Op:
			e.Op = arg
		case string:
			e.Err = errors.New(arg)
		case Kind:
			e.Kind = arg
		case *Error:
			errorCopy := *arg
			e.Err = &errorCopy
		case error:
			e.Err = arg
		case Code:
			e.Code = arg
		case Parameter:
			e.Param = arg
		default:
			_, file, line, _ := runtime.Caller(1)

			return fmt.Errorf("errors.E: bad call from %s:%d: %v, unknown type %T, value %v in error call", file, line, args, arg, arg)
		}
	}

	var prev *Error
	if !errors.As(e.Err, &prev) {
		if e.Kind == Other && errors.Is(e.Err, context.DeadlineExceeded) {
			e.Kind = Timeout
		}

		return e
	}

	// If this error has Kind unset or Other, pull up the inner one.
	if e.Kind == Other {
		e.Kind = prev.Kind
		prev.Kind = Other
	}

	if prev.Code == e.Code {
		prev.Code = ""
	}

	// If this error has Code == "", pull up the inner one.
	if e.Code == "" {
		e.Code = prev.Code
		prev.Code = ""
	}

	if prev.Param == e.Param {
		prev.Param = ""
	}

	// If this error has Param == "", pull up the inner one.
	if e.Param == "" {
		e.Param = prev.Param
		prev.Param = ""
	}

	return e
}

// Str returns an error that formats as the given text. It is intended to
// be used as the error-typed argument to the E function.
func Str(text string) error {
	return &errorString{text}
}

// errorString is a trivial implementation of error.
type errorString struct {
	s string
}

func (e *errorString) Error() string {
	return e.s
}

// Errorf is equivalent to fmt.Errorf, but allows clients to import only this
// package for all error handling.
func Errorf(format string, args ...interface{}) error {
	return &errorString{fmt.Sprintf(format, args...)}
}

// Match compares its two error arguments. It can be used to check for
// expected errors in tests. Both arguments must have underlying type
// *Error or Match will return false. Otherwise, it returns true iff every
// non-zero element of the first error is equal to the corresponding
// element of the second. If the Err field is a *Error, Match recurs on
// that field; otherwise it compares the strings returned by the Error
// methods. Elements that are in the second argument but not present in
// the first are ignored.
func Match(err1, err2 error) bool {
	var e1 *Error
	if !errors.As(err1, &e1) {
		return false
	}

	var e2 *Error
	if !errors.As(err2, &e2) {
		return false
	}

	if e1.Op != "" && e2.Op != e1.Op {
		return false
	}

	if e1.Kind != Other && e2.Kind != e1.Kind {
		return false
	}

	if e1.Param != "" && e2.Param != e1.Param {
		return false
	}

	if e1.Code != "" && e2.Code != e1.Code {
		return false
	}

	if e1.Err != nil {
		var inner *Error
		if errors.As(e1.Err, &inner) {
			return Match(e1.Err, e2.Err)
		}

		if e2.Err == nil || e2.Err.Error() != e1.Err.Error() {
			return false
		}
	}

	return true
}

// KindIs reports whether err is an *Error of the given Kind.
// If err is nil then KindIs returns false.
func KindIs(kind Kind, err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	if e.Kind != Other {
		return e.Kind == kind
	}

	if e.Err != nil {
		return KindIs(kind, e.Err)
	}

	return false
}

// OpStack returns the op stack from the outermost to the innermost operation.
func OpStack(err error) []string {
	var stack []string

	var e *Error
	for errors.As(err, &e) {
		if e.Op != "" {
			stack = append(stack, string(e.Op))
		}

		err = e.Err
	}

	return stack
}
