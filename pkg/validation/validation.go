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

// Package validation checks untrusted input arriving over the daemon
// socket and the command line before it reaches the arbiter.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jeremyhahn/go-eseaccess/pkg/notify"
)

var (
	// filterPattern matches audit event types and outcome names, e.g.
	// "access.spi_acquire" or "busy".
	filterPattern = regexp.MustCompile(`^[a-z][a-z_\.]*$`)
)

// MaxFilterLength bounds audit filter values.
const MaxFilterLength = 64

// ParseIdentity parses a caller identity. Identities are positive
// decimal int32 values; zero is reserved for "no identity".
func ParseIdentity(s string) (notify.Identity, error) {
	if s == "" {
		return notify.None, fmt.Errorf("identity cannot be empty")
	}
	if len(s) > 10 {
		return notify.None, fmt.Errorf("identity too long (max 10 digits)")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return notify.None, fmt.Errorf("identity must be a positive decimal integer")
		}
	}
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return notify.None, fmt.Errorf("identity out of range")
	}
	if n == 0 {
		return notify.None, fmt.Errorf("identity must be positive")
	}
	return notify.Identity(n), nil
}

// ValidateFilter validates an audit query filter value.
func ValidateFilter(kind, value string) error {
	if value == "" {
		return fmt.Errorf("%s filter cannot be empty", kind)
	}
	if len(value) > MaxFilterLength {
		return fmt.Errorf("%s filter too long (max %d characters)", kind, MaxFilterLength)
	}
	if !filterPattern.MatchString(value) {
		return fmt.Errorf("%s filter contains invalid characters (allowed: a-z, _, .)", kind)
	}
	return nil
}

// SanitizeForLog sanitizes a string for safe logging (prevents log injection).
func SanitizeForLog(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)

	if len(s) > 128 {
		s = s[:128] + "...[truncated]"
	}

	return s
}
