// SPDX-License-Identifier: GPL-3.0-or-later

package netcore

import (
	"context"
	"net"
	"time"
)

// Dialer abstracts dialing a network connection, satisfied by
// [*net.Dialer] and by [github.com/webengine-project/netcore/socket.Socket]'s
// own dialer field.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds common configuration shared across this package's
// constructors.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// Dialer is used to dial raw TCP/UDP connections before they are
	// wrapped by a [socket.Socket] or a TLS handshake.
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:        &net.Dialer{},
		ErrClassifier: DefaultErrClassifier,
		TimeNow:       time.Now,
	}
}
