// SPDX-License-Identifier: GPL-3.0-or-later

package dns

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/webengine-project/netcore"
	"github.com/webengine-project/netcore/dnswire"
)

// exchangeDoH performs a DNS-over-HTTPS exchange per RFC 8484: the query
// is base64url-encoded (no padding) into the "dns" query parameter of a
// GET request against the configured endpoint.
func (r *Resolver) exchangeDoH(ctx context.Context, query []byte) (dnswire.Response, error) {
	spanID := netcore.NewSpanID()
	t0 := r.TimeNow()
	endpoint := r.Config.DoHEndpoint
	r.Logger.Info("dnsExchangeStart", slog.String("serverProtocol", "doh"), slog.String("remoteAddr", endpoint), slog.String("spanID", spanID), slog.Time("t", t0))

	encoded := base64.RawURLEncoding.EncodeToString(query)
	url := fmt.Sprintf("%s?dns=%s", endpoint, encoded)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r.logDone(t0, spanID, "doh", endpoint, err)
		return dnswire.Response{}, err
	}
	req.Header.Set("Accept", "application/dns-message")

	client := r.Config.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		r.logDone(t0, spanID, "doh", endpoint, err)
		return dnswire.Response{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("dns: doh endpoint returned status %d", resp.StatusCode)
		r.logDone(t0, spanID, "doh", endpoint, err)
		return dnswire.Response{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		r.logDone(t0, spanID, "doh", endpoint, err)
		return dnswire.Response{}, err
	}

	parsed, err := dnswire.ParseResponse(body)
	r.logDone(t0, spanID, "doh", endpoint, err)
	if err != nil {
		return dnswire.Response{}, err
	}
	if parsed.Header.RCode != dnswire.RCodeSuccess {
		return dnswire.Response{}, fmt.Errorf("dns: doh response rcode %s", parsed.Header.RCode)
	}
	return parsed, nil
}
