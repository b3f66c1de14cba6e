// Package fatal is the single exit point for unrecoverable allocator errors.
//
// Allocators in this module never return errors. Out of memory, an illegal
// release mark or a trampled canary all end up in Fatal, which logs the
// condition and terminates the process. Tests swap the terminating handler
// with Intercept.
package fatal

import (
	"os"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Causes of fatal errors. Use errors.Is to classify the error passed to a handler.
var (
	ErrOutOfMemory     = errors.New("out of memory")
	ErrIllegalRelease  = errors.New("illegal release size")
	ErrCanaryViolation = errors.New("memory canary violated")
	ErrNilPointer      = errors.New("nil pointer with non-zero size")
	ErrInvalidSize     = errors.New("invalid allocation size")
)

// ExitCode is the status the default handler exits with.
const ExitCode = 2

// Error is the panic value raised while Intercept is running.
type Error struct {
	Err error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

var (
	mtx     sync.Mutex
	logger  = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	handler = exit
)

func exit(error) {
	os.Exit(ExitCode)
}

// SetLogger replaces the logger fatal conditions are reported to and returns
// a function restoring the previous one.
func SetLogger(l log.Logger) (restore func()) {
	mtx.Lock()
	defer mtx.Unlock()
	prev := logger
	logger = l
	return func() {
		mtx.Lock()
		logger = prev
		mtx.Unlock()
	}
}

// Fatal logs err together with keyvals and terminates. It never returns.
func Fatal(err error, keyvals ...any) {
	mtx.Lock()
	l, h := logger, handler
	mtx.Unlock()

	kvs := append([]any{"msg", "fatal allocator error", "err", err}, keyvals...)
	level.Error(l).Log(kvs...)

	h(err)
	// Handlers must not return.
	panic(&Error{Err: err})
}

// Fatalf wraps cause with a formatted message and calls Fatal.
func Fatalf(cause error, format string, args ...any) {
	Fatal(errors.Wrapf(cause, format, args...))
}

// Intercept runs fn with a handler that unwinds instead of exiting and
// returns the error fn died with, or nil if fn completed.
// Intercept is meant for tests and is not safe to use from concurrent goroutines.
func Intercept(fn func()) (err error) {
	mtx.Lock()
	prev := handler
	handler = func(err error) { panic(&Error{Err: err}) }
	mtx.Unlock()

	defer func() {
		mtx.Lock()
		handler = prev
		mtx.Unlock()

		if r := recover(); r != nil {
			fe, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = fe.Err
		}
	}()

	fn()
	return nil
}
