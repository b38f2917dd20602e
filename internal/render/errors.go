package render

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when an export is requested while another runs.
	ErrBusy = errors.New("another export session is active")

	// ErrWatchdog means a load or seek did not settle in time.
	ErrWatchdog = errors.New("watchdog timeout")

	// ErrNoEncoder means the host has no usable video encoder.
	ErrNoEncoder = errors.New("no usable video encoder")

	// ErrNotRecording is returned by Tick outside the RECORDING state.
	ErrNotRecording = errors.New("session is not recording")

	// ErrNotStarted is returned by Stop before Prepare succeeded.
	ErrNotStarted = errors.New("session was never started")

	// ErrNoFrames means finalization was asked for with nothing captured.
	ErrNoFrames = errors.New("no frames captured")
)

// DecodeError reports a source that cannot be loaded, seeked or decoded.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// EncodingError reports a missing encoder or a failure while encoding.
type EncodingError struct {
	Op  string
	Err error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding %s: %v", e.Op, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// ResourceError reports that memory or disk is insufficient for the render.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("resource %s: %v", e.Op, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Error kinds recorded against failed exports.
const (
	KindDecode   = "decode"
	KindEncoding = "encoding"
	KindResource = "resource"
	KindBusy     = "busy"
	KindAborted  = "aborted"
	KindInternal = "internal"
)

// ErrorKind classifies err for persistence and API responses.
func ErrorKind(err error) string {
	var de *DecodeError
	var ee *EncodingError
	var re *ResourceError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &de):
		return KindDecode
	case errors.As(err, &ee):
		return KindEncoding
	case errors.As(err, &re):
		return KindResource
	case errors.Is(err, ErrBusy):
		return KindBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindAborted
	default:
		return KindInternal
	}
}

// asDecode wraps err as a DecodeError unless it is already typed.
func asDecode(op string, err error) error {
	if typed(err) {
		return err
	}
	return &DecodeError{Op: op, Err: err}
}

// asEncoding wraps err as an EncodingError unless it is already typed.
func asEncoding(op string, err error) error {
	if typed(err) {
		return err
	}
	return &EncodingError{Op: op, Err: err}
}

func typed(err error) bool {
	var de *DecodeError
	var ee *EncodingError
	var re *ResourceError
	return errors.As(err, &de) || errors.As(err, &ee) || errors.As(err, &re)
}
