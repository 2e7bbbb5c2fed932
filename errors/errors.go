// Package errors provides error construction with call-site context plus the
// typed failure kinds the conversation engine surfaces to its callers.
package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// New creates an error prefixed with the caller's file and line, so a
// failure deep in a provider adapter or tool handler still names its origin.
func New(format string, a ...interface{}) error {
	return fmt.Errorf("[%s] %s", callSite(), fmt.Sprintf(format, a...))
}

// Wrapf adds context and the caller's file and line to an existing error.
// The wrapped error stays reachable through Is/As. A nil error stays nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s: %w", callSite(), fmt.Sprintf(format, a...), err)
}

func callSite() string {
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		return "???:0"
	}
	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}
