package host

import (
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/agentpkg/tsx/pkg/resolve"
)

// UnknownExtensionError is returned by the native ESM loader for files it
// cannot classify.
type UnknownExtensionError struct {
	Ext string
	URL string
}

func (e *UnknownExtensionError) Error() string {
	return fmt.Sprintf("Unknown file extension %q for %s", e.Ext, e.URL)
}

func (e *UnknownExtensionError) Code() string { return "ERR_UNKNOWN_FILE_EXTENSION" }

type UnknownFormatError struct {
	Format resolve.Format
	URL    string
}

func (e *UnknownFormatError) Error() string {
	return fmt.Sprintf("Unknown module format %q for %s", e.Format, e.URL)
}

func (e *UnknownFormatError) Code() string { return "ERR_UNKNOWN_MODULE_FORMAT" }

// RequireESMError is returned when the native CommonJS loader meets ESM.
type RequireESMError struct {
	Filename string
}

func (e *RequireESMError) Error() string {
	return fmt.Sprintf("require() of ES Module %s not supported", e.Filename)
}

func (e *RequireESMError) Code() string { return "ERR_REQUIRE_ESM" }

// ChainError reports a hook that neither called next nor short-circuited.
type ChainError struct {
	Stage    string
	Position int
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s hook at position %d did not call the next hook in its chain and did not explicitly signal a short circuit",
		e.Stage, e.Position)
}

func (e *ChainError) Code() string { return "ERR_LOADER_CHAIN_INCOMPLETE" }

// ScriptError is an exception thrown by JS. When the exception carries a Go
// error, Cause holds it so callers can match it with errors.As.
type ScriptError struct {
	Exception *goja.Exception
	Cause     error
}

func (e *ScriptError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Exception.Error()
}

// Stack returns the JS stack trace of the exception.
func (e *ScriptError) Stack() string {
	return e.Exception.String()
}

func (e *ScriptError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Exception, e.Cause}
	}
	return []error{e.Exception}
}

// RejectionError is a promise rejection surfaced to Go.
type RejectionError struct {
	Reason goja.Value
	Cause  error
}

func newRejectionError(reason goja.Value) *RejectionError {
	return &RejectionError{Reason: reason, Cause: goError(reason)}
}

func (e *RejectionError) Error() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if o, ok := e.Reason.(*goja.Object); ok {
		if stack := o.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
			return stack.String()
		}
	}
	if e.Reason == nil {
		return "promise rejected"
	}
	return e.Reason.String()
}

func (e *RejectionError) Unwrap() error { return e.Cause }

// wrapError turns JS exceptions into *ScriptError and leaves Go errors
// untouched.
func wrapError(err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return err
	}
	return &ScriptError{Exception: ex, Cause: goError(ex.Value())}
}

// goError extracts the Go error behind a value created by NewGoError.
func goError(v goja.Value) error {
	o, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	inner := o.Get("value")
	if inner == nil {
		return nil
	}
	if err, ok := inner.Export().(error); ok {
		return err
	}
	return nil
}

// throw raises err in the running JS. It does not return.
func (r *Runtime) throw(err error) {
	panic(r.errorValue(err))
}

// errorValue is the JS value err is thrown as: JS exceptions keep their
// original value, Go errors become Error objects carrying the Go error and,
// when it has one, its code.
func (r *Runtime) errorValue(err error) goja.Value {
	var se *ScriptError
	if errors.As(err, &se) {
		return se.Exception.Value()
	}
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}

	obj := r.vm.NewGoError(err)
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		obj.Set("code", coded.Code())
	}
	return obj
}
