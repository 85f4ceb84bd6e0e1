package counter

import (
	"errors"
	"fmt"
)

var ErrWriterStopped = errors.New("counter: batch writer stopped")

// StoreError describes a durable store failure for one key or batch
type StoreError struct {
	Op  string
	Key Key
	Err error
}

func (e *StoreError) Error() string {
	if e.Key == (Key{}) {
		return fmt.Sprintf("counter store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("counter store %s %s failed: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
