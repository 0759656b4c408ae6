// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/dataview/lib/dataset"
)

// Process exit codes. Every failure without a more specific code
// exits with ExitFailure.
const (
	ExitFailure     = 1
	ExitNotFound    = 2
	ExitMalformed   = 3
	ExitUnsupported = 4
	ExitAuth        = 5
	ExitNetwork     = 6
)

// ExitError signals a non-zero exit code without printing an extra
// error message. When a command handler returns an ExitError, main
// exits with the specified code without printing the error string:
// the command is expected to have already written its own output.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit code %d", e.Code)
}

// ExitCode returns the exit code.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// ExitCode returns the process exit code for err: the code of an
// ExitError, else the code for err's dataset kind. A nil error is 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	switch dataset.KindOf(err) {
	case dataset.KindNotFound:
		return ExitNotFound
	case dataset.KindMalformed, dataset.KindInvalidCursor:
		return ExitMalformed
	case dataset.KindUnsupported:
		return ExitUnsupported
	case dataset.KindAuthRequired:
		return ExitAuth
	case dataset.KindNetwork, dataset.KindTimeout, dataset.KindRangeUnsupported:
		return ExitNetwork
	}
	return ExitFailure
}
