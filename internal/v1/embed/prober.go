// Package embed answers whether a website may be shown inside an iframe, by
// probing the target and reading its framing headers.
package embed

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gridlands/pusher/internal/v1/logging"
	"github.com/gridlands/pusher/internal/v1/messages"
	"github.com/gridlands/pusher/internal/v1/metrics"
)

// probeTimeout bounds one probe; a slow site must not stall the asking
// client's query.
const probeTimeout = 5 * time.Second

// Prober checks URLs for embeddability. Domains on the allowlist are trusted
// without probing, which also covers intranet sites the pusher cannot reach.
type Prober struct {
	allowlist []string
	http      *http.Client
}

// NewProber builds a prober. Allowlist entries are matched as substrings of
// the URL's host.
func NewProber(allowlist []string) *Prober {
	return &Prober{
		allowlist: allowlist,
		http: &http.Client{
			Timeout: probeTimeout,
		},
	}
}

// Probe decides whether the URL can be iframed. It never returns an error;
// unreachable or undecidable targets yield a negative answer with a message,
// because the asking client needs an answer either way.
func (p *Prober) Probe(ctx context.Context, rawURL string) *messages.EmbeddableWebsiteAnswer {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		metrics.EmbedProbes.WithLabelValues("invalid_url").Inc()
		return &messages.EmbeddableWebsiteAnswer{
			URL:     rawURL,
			State:   false,
			Message: "invalid website url",
		}
	}

	for _, entry := range p.allowlist {
		if strings.Contains(parsed.Host, entry) {
			metrics.EmbedProbes.WithLabelValues("allowlisted").Inc()
			return &messages.EmbeddableWebsiteAnswer{URL: rawURL, State: true, Embeddable: true}
		}
	}

	resp, err := p.request(ctx, http.MethodHead, rawURL)
	if err == nil && resp.StatusCode == http.StatusMethodNotAllowed {
		// Some servers reject HEAD outright; retry with GET before giving up.
		resp.Body.Close()
		resp, err = p.request(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		metrics.EmbedProbes.WithLabelValues("unreachable").Inc()
		logging.Debug(ctx, "Embed probe failed", zap.String("url", rawURL), zap.Error(err))
		return &messages.EmbeddableWebsiteAnswer{
			URL:     rawURL,
			State:   false,
			Message: "website is not reachable",
		}
	}
	defer resp.Body.Close()

	// Status 999 is the bot rejection some large sites answer probes with;
	// a real browser iframe would load fine.
	if resp.StatusCode >= 400 && resp.StatusCode != 999 {
		metrics.EmbedProbes.WithLabelValues("http_error").Inc()
		return &messages.EmbeddableWebsiteAnswer{
			URL:     rawURL,
			State:   false,
			Message: "website answered with an error",
		}
	}

	if denied, directive := framingDenied(resp.Header); denied {
		metrics.EmbedProbes.WithLabelValues("denied").Inc()
		return &messages.EmbeddableWebsiteAnswer{
			URL:        rawURL,
			State:      true,
			Embeddable: false,
			Message:    "website forbids framing (" + directive + ")",
		}
	}

	metrics.EmbedProbes.WithLabelValues("embeddable").Inc()
	return &messages.EmbeddableWebsiteAnswer{URL: rawURL, State: true, Embeddable: true}
}

func (p *Prober) request(ctx context.Context, method, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return p.http.Do(req)
}

// framingDenied reads X-Frame-Options and the frame-ancestors CSP directive.
// The pusher serves many origins, so sameorigin counts as a denial.
func framingDenied(h http.Header) (bool, string) {
	switch strings.ToLower(strings.TrimSpace(h.Get("X-Frame-Options"))) {
	case "deny":
		return true, "x-frame-options: deny"
	case "sameorigin":
		return true, "x-frame-options: sameorigin"
	}

	csp := strings.ToLower(h.Get("Content-Security-Policy"))
	for _, directive := range strings.Split(csp, ";") {
		directive = strings.TrimSpace(directive)
		if !strings.HasPrefix(directive, "frame-ancestors") {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(directive, "frame-ancestors"))
		if value == "'none'" || value == "'self'" {
			return true, "frame-ancestors " + value
		}
	}
	return false, ""
}
