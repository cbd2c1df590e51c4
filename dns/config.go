// SPDX-License-Identifier: GPL-3.0-or-later

package dns

import "net/http"

// Config holds the resolver's configuration surface.
type Config struct {
	// Nameservers is the ordered list of "host:port" UDP nameservers
	// tried after DoH (if configured) fails or is not configured.
	Nameservers []string

	// DoHEndpoint, if non-empty, is tried first via HTTP GET per RFC 8484.
	DoHEndpoint string

	// HTTPClient is the client used for DoH requests. NewConfig sets it
	// to http.DefaultClient; a nil value makes DoH requests use
	// http.DefaultClient as well.
	HTTPClient *http.Client

	// CleanupIntervalMs is how often, in milliseconds, the cache's
	// auto-cleanup timer fires.
	CleanupIntervalMs int
}

// NewConfig returns a Config with the defaults from §6: Google's public
// resolvers and a 60s cache-cleanup interval.
func NewConfig() *Config {
	return &Config{
		Nameservers:       []string{"8.8.8.8:53", "8.8.4.4:53"},
		HTTPClient:        http.DefaultClient,
		CleanupIntervalMs: 60000,
	}
}
