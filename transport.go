package replane

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"
	"golang.org/x/net/http2"
)

// HTTPDoer is the HTTP primitive the Transport is parameterized by, so
// tests can inject a fake that enqueues deliveries deterministically.
// *http.Client satisfies it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// wireEntry is the wire shape shared by initial-load responses, live-
// channel delivery records, and snapshots: a config entry carrying its
// name, base value, and overrides.
type wireEntry = Entry

type initialLoadResponse struct {
	Configs []wireEntry `json:"configs"`
}

// delivery is one atomic batch of upserts from the live channel.
type delivery struct {
	Configs []wireEntry `json:"configs"`
}

// TransportOptions configures a Transport. BaseURLs must be non-empty;
// a single entry is the common case, more than one enables the
// multi-endpoint preference policy below.
type TransportOptions struct {
	BaseURLs          []string
	SDKKey            string
	Agent             string
	Client            HTTPDoer
	Logger            *slog.Logger
	RequestTimeout    time.Duration
	RetryDelay        time.Duration
	InactivityTimeout time.Duration
}

// Transport owns the two channels over HTTP(S): a single initial-load
// request, and a long-lived live channel with reconnection, an
// inactivity watchdog, and at-least-once convergence on every
// reconnect.
type Transport struct {
	endpoints []string
	preferred string
	sdkKey    string
	agent     string
	client    HTTPDoer
	logger    *slog.Logger

	requestTimeout    time.Duration
	retryDelay        time.Duration
	inactivityTimeout time.Duration

	mu           sync.Mutex
	closed       bool
	cancelActive context.CancelFunc
	stopStream   chan struct{}
	streamDone   chan struct{}
}

// NewTransport builds a Transport. It does not issue any request; call
// InitialLoad and StartLiveChannel explicitly.
func NewTransport(opts TransportOptions) (*Transport, error) {
	if len(opts.BaseURLs) == 0 {
		return nil, fmt.Errorf("replane: at least one base URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "transport")

	client := opts.Client
	if client == nil {
		httpTransport := &http.Transport{}
		// A long-lived streaming GET benefits from HTTP/2's per-stream
		// flow control over HTTP/1.1 chunked transfer; falls back to
		// HTTP/1.1 transparently against servers that don't speak h2.
		if err := http2.ConfigureTransport(httpTransport); err != nil {
			logger.Warn("failed to configure http2, continuing on http/1.1", "error", err)
		}
		client = &http.Client{Transport: httpTransport}
	}

	requestTimeout := opts.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	} else if retryDelay < minRetryDelay {
		retryDelay = minRetryDelay
	}
	inactivityTimeout := opts.InactivityTimeout
	if inactivityTimeout <= 0 {
		inactivityTimeout = defaultInactivityTimeout
	}
	agent := opts.Agent
	if agent == "" {
		agent = defaultAgent
	}

	preferred := opts.BaseURLs[0]
	if len(opts.BaseURLs) > 1 {
		r := rendezvous.New(opts.BaseURLs, rendezvousHasher)
		preferred = r.Lookup(opts.SDKKey)
	}

	return &Transport{
		endpoints:         opts.BaseURLs,
		preferred:         preferred,
		sdkKey:            opts.SDKKey,
		agent:             agent,
		client:            client,
		logger:            logger,
		requestTimeout:    requestTimeout,
		retryDelay:        retryDelay,
		inactivityTimeout: inactivityTimeout,
	}, nil
}

// rendezvousHasher adapts xxhash to go-rendezvous's (key, seed) Hasher
// shape, used to pick a stable preferred endpoint per SDK key across
// multiple configured base URLs.
func rendezvousHasher(s string, seed uint64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	h := xxhash.New()
	h.Write(buf[:])
	h.Write([]byte(s))
	return h.Sum64()
}

// orderedEndpoints returns the configured base URLs with the rendezvous
// preference first. InitialLoad tries them in this order; live-channel
// reconnects use only the first (preferred) entry and do not fall back
// to the rest.
func (t *Transport) orderedEndpoints() []string {
	out := make([]string, 0, len(t.endpoints))
	out = append(out, t.preferred)
	for _, e := range t.endpoints {
		if e != t.preferred {
			out = append(out, e)
		}
	}
	return out
}

// InitialLoad issues a single bounded request that returns the full
// Store contents. It tries each configured endpoint, preferred first,
// until one succeeds or all fail.
func (t *Transport) InitialLoad(ctx context.Context) ([]Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	var lastErr error
	for _, base := range t.orderedEndpoints() {
		entries, err := t.fetchInitialLoad(ctx, base)
		if err == nil {
			return entries, nil
		}
		lastErr = err
		t.logger.Warn("initial load failed against endpoint, trying next", "endpoint", base, "error", err)
	}
	return nil, lastErr
}

func (t *Transport) fetchInitialLoad(ctx context.Context, base string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+initialLoadPath, nil)
	if err != nil {
		return nil, errNetwork(err)
	}
	t.addHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, errNetwork(err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, errInvalidSDKKey(resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errRequestFailed(resp.StatusCode, string(body))
	}
	if readErr != nil {
		return nil, errNetwork(readErr)
	}

	var decoded initialLoadResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, errNetwork(fmt.Errorf("decode initial load response: %w", err))
	}
	return decoded.Configs, nil
}

// ForceSync posts to the testing-sync hook, asking the server to force
// replica convergence before the next read. It exists
// for test harnesses racing an upsert against a read on another
// connection; production callers never need it, and the live channel's
// own at-least-once resync on reconnect makes it unnecessary there too.
func (t *Transport) ForceSync(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.preferredForThisAttempt()+testingSyncPath, nil)
	if err != nil {
		return errNetwork(err)
	}
	t.addHeaders(req)

	resp, err := t.client.Do(req)
	if err != nil {
		return errNetwork(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return errRequestFailed(resp.StatusCode, string(body))
	}
	return nil
}

func (t *Transport) addHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+t.sdkKey)
	req.Header.Set("User-Agent", t.agent)
	req.Header.Set("Accept", "application/x-ndjson")
}
