// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package arbiter

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBusy is returned when another consumer holds a conflicting flag.
	// Callers may retry.
	ErrBusy = errors.New("arbiter: busy")

	// ErrForbidden is returned when the caller releases something it does
	// not hold.
	ErrForbidden = errors.New("arbiter: forbidden")

	// ErrInvalid is returned when ending an operation that was not started.
	ErrInvalid = errors.New("arbiter: invalid request")

	// ErrTimeout is returned when a handshake the caller depends on was
	// not acknowledged in time.
	ErrTimeout = errors.New("arbiter: handshake timed out")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("arbiter: closed")

	// ErrRail wraps supply rail failures.
	ErrRail = errors.New("arbiter: rail failure")
)

// ResultCode is the externally visible outcome of an operation.
type ResultCode int

const (
	CodeSuccess ResultCode = iota
	CodeBusy
	CodeForbidden
	CodeInvalid
	CodeTimeout
	CodeIO
	CodeClosed
)

var codeNames = [...]string{
	CodeSuccess:   "success",
	CodeBusy:      "busy",
	CodeForbidden: "forbidden",
	CodeInvalid:   "invalid",
	CodeTimeout:   "timeout",
	CodeIO:        "io",
	CodeClosed:    "closed",
}

func (c ResultCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// ParseResultCode is the inverse of String.
func ParseResultCode(s string) (ResultCode, error) {
	for i, name := range codeNames {
		if strings.EqualFold(name, s) {
			return ResultCode(i), nil
		}
	}
	return CodeIO, fmt.Errorf("arbiter: unknown result code %q", s)
}

// Err returns the sentinel error for c, or nil for CodeSuccess.
func (c ResultCode) Err() error {
	switch c {
	case CodeSuccess:
		return nil
	case CodeBusy:
		return ErrBusy
	case CodeForbidden:
		return ErrForbidden
	case CodeInvalid:
		return ErrInvalid
	case CodeTimeout:
		return ErrTimeout
	case CodeClosed:
		return ErrClosed
	default:
		return ErrRail
	}
}

// CodeOf maps an error returned by the arbiter to its result code. A
// timed-out priority handoff matches both ErrBusy and ErrTimeout and is
// reported as CodeTimeout.
func CodeOf(err error) ResultCode {
	switch {
	case err == nil:
		return CodeSuccess
	case errors.Is(err, ErrClosed):
		return CodeClosed
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrBusy):
		return CodeBusy
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalid):
		return CodeInvalid
	default:
		return CodeIO
	}
}
