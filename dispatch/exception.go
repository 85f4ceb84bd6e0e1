package dispatch

import (
	"fmt"
	"runtime/debug"

	"github.com/maxpert/engage/event"
	"github.com/rs/zerolog/log"
)

// FailureRecorder counts failures per event type
type FailureRecorder interface {
	RecordFailed(t event.Type)
}

// ExceptionSink receives every handler error and recovered panic
type ExceptionSink interface {
	HandleEventException(err error, seq int64, ev *event.Event)
}

// PanicError carries a recovered handler panic
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panic: %v", e.Value)
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

// LoggingSink logs the failure and bumps the per-type failure count
type LoggingSink struct {
	recorder FailureRecorder
}

func NewLoggingSink(recorder FailureRecorder) *LoggingSink {
	return &LoggingSink{recorder: recorder}
}

func (s *LoggingSink) HandleEventException(err error, seq int64, ev *event.Event) {
	if s.recorder != nil {
		s.recorder.RecordFailed(ev.Type)
	}

	l := log.Error().
		Err(err).
		Int64("seq", seq).
		Str("type", string(ev.Type)).
		Str("payload", fmt.Sprintf("%+v", ev.Payload))

	if pe, ok := err.(*PanicError); ok {
		l = l.Str("stack", string(pe.Stack))
	}
	l.Msg("Event processing failed")
}
