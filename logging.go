package replane

import (
	"log/slog"
	"net/http"
)

// loggingRoundTripper wraps an http.RoundTripper to log request/response
// metadata through slog, adapting net/http's transport hook into the
// application's structured logger the same way a foreign logging
// interface would be adapted into it.
type loggingRoundTripper struct {
	next   http.RoundTripper
	logger *slog.Logger
}

// WithLoggingTransport wraps next so every request/response pair made
// through it is logged at Debug level with method, URL path, and
// status. Useful when diagnosing reconnect storms against a
// WithHTTPClient-injected *http.Client.
func WithLoggingTransport(next http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingRoundTripper{next: next, logger: logger.With("component", "http")}
}

func (rt *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.logger.Debug("request", "method", req.Method, "path", req.URL.Path)

	resp, err := rt.next.RoundTrip(req)
	if err != nil {
		rt.logger.Debug("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		return resp, err
	}

	rt.logger.Debug("response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
	return resp, nil
}
