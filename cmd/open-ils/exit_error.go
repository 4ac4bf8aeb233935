package main

import (
	"context"
	"errors"
	"fmt"
)

type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) Error() string {
	if e == nil {
		return ""
	}
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("exit %d", e.code)
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// commandResult maps a command failure to its exit status. A cancellation
// exits 130 without further output.
func commandResult(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return &exitError{code: 130, err: err, silent: true}
	}
	return &exitError{code: 1, err: err}
}
