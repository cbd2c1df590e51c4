//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: https://github.com/rbmk-project/rbmk/blob/v0.17.0/pkg/common/errclass
// (the classify function completing the {unix,windows}.go errno tables
// the teacher pack carries for this package).
//

// Package errclass maps network errors to short, stable classification
// strings suitable for structured logging and measurement analysis.
package errclass

import (
	"context"
	"errors"
	"net"
	"os"
	"syscall"
)

// Well-known classification strings. These are intentionally terse and
// POSIX-errno-flavored so logs are greppable across platforms.
const (
	EADDRNOTAVAIL   = "EADDRNOTAVAIL"
	EADDRINUSE      = "EADDRINUSE"
	ECONNABORTED    = "ECONNABORTED"
	ECONNREFUSED    = "ECONNREFUSED"
	ECONNRESET      = "ECONNRESET"
	EHOSTUNREACH    = "EHOSTUNREACH"
	EINVAL          = "EINVAL"
	EINTR           = "EINTR"
	ENETDOWN        = "ENETDOWN"
	ENETUNREACH     = "ENETUNREACH"
	ENOBUFS         = "ENOBUFS"
	ENOTCONN        = "ENOTCONN"
	EPROTONOSUPPORT = "EPROTONOSUPPORT"
	ETIMEDOUT       = "ETIMEDOUT"
	ECANCELED       = "ECANCELED"
	EEOF            = "EEOF"
	EGENERIC        = "EGENERIC"
)

// New classifies err into one of the constants above. It returns "" for
// a nil error, so callers can log the result unconditionally.
func New(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, context.Canceled) {
		return ECANCELED
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ETIMEDOUT
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ETIMEDOUT
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if class := classifyErrno(errno); class != "" {
			return class
		}
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ECONNREFUSED
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return ECONNRESET
	}
	if errors.Is(err, syscall.ETIMEDOUT) {
		return ETIMEDOUT
	}

	return EGENERIC
}

func classifyErrno(errno syscall.Errno) string {
	switch errno {
	case errEADDRNOTAVAIL:
		return EADDRNOTAVAIL
	case errEADDRINUSE:
		return EADDRINUSE
	case errECONNABORTED:
		return ECONNABORTED
	case errECONNREFUSED:
		return ECONNREFUSED
	case errECONNRESET:
		return ECONNRESET
	case errEHOSTUNREACH:
		return EHOSTUNREACH
	case errEINVAL:
		return EINVAL
	case errEINTR:
		return EINTR
	case errENETDOWN:
		return ENETDOWN
	case errENETUNREACH:
		return ENETUNREACH
	case errENOBUFS:
		return ENOBUFS
	case errENOTCONN:
		return ENOTCONN
	case errEPROTONOSUPPORT:
		return EPROTONOSUPPORT
	case errETIMEDOUT:
		return ETIMEDOUT
	default:
		return ""
	}
}
