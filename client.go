package replane

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// State is one of initializing, ready, closed, or failed.
type State string

const (
	StateInitializing State = "initializing"
	StateReady        State = "ready"
	StateClosed       State = "closed"
	StateFailed       State = "failed"
)

// GetOptions configures a single Get call.
type GetOptions struct {
	// Context is merged over the client's default context, per-call
	// keys winning.
	Context Context
	// Default, if non-nil, is returned (dereferenced) with no error if
	// the named entry is absent. Use Default(v) to construct this
	// field: a nil *any means "no default supplied," which is distinct
	// from a supplied default whose value is itself nil.
	Default *any
}

// Default wraps v for use as GetOptions.Default, distinguishing "no
// default supplied" from "default supplied as the nil/zero value."
func Default(v any) *any { return &v }

// ClientOptions configures NewClient / Restore. Construct via
// functional Options rather than a literal, the common pattern for
// configuring a client with a long, mostly-defaulted option set.
type ClientOptions struct {
	baseURLs []string
	sdkKey   string
	snapshot *Snapshot

	context  Context
	defaults map[string]any
	required []string

	requestTimeout        time.Duration
	initializationTimeout time.Duration
	retryDelay            time.Duration
	inactivityTimeout     time.Duration

	httpClient HTTPDoer
	logger     *slog.Logger
	agent      string

	startLiveChannel bool
}

// Option configures a ClientOptions value.
type Option interface {
	apply(*ClientOptions)
}

type optionFunc func(*ClientOptions)

func (f optionFunc) apply(o *ClientOptions) { f(o) }

// WithContext sets the client-scope default context.
func WithContext(ctx Context) Option {
	return optionFunc(func(o *ClientOptions) { o.context = ctx })
}

// WithDefaults sets the fallback values Get consults when an entry is
// absent and no per-call default is supplied.
func WithDefaults(defaults map[string]any) Option {
	return optionFunc(func(o *ClientOptions) { o.defaults = defaults })
}

// WithRequired names configs that MUST appear in the Store before the
// client transitions to Ready; otherwise initialization fails with
// ErrKindMissingRequired.
func WithRequired(names ...string) Option {
	return optionFunc(func(o *ClientOptions) { o.required = names })
}

// WithRequestTimeout bounds a single HTTP request (default 2s).
func WithRequestTimeout(d time.Duration) Option {
	return optionFunc(func(o *ClientOptions) { o.requestTimeout = d })
}

// WithInitializationTimeout bounds the whole initialization sequence
// regardless of how many retries occur inside it (default 5s).
func WithInitializationTimeout(d time.Duration) Option {
	return optionFunc(func(o *ClientOptions) { o.initializationTimeout = d })
}

// WithRetryDelay sets the fixed delay before a live-channel reconnect
// attempt (default 200ms).
func WithRetryDelay(d time.Duration) Option {
	return optionFunc(func(o *ClientOptions) { o.retryDelay = d })
}

// WithInactivityTimeout sets how long the live channel tolerates
// silence before being considered stale (default 30s).
func WithInactivityTimeout(d time.Duration) Option {
	return optionFunc(func(o *ClientOptions) { o.inactivityTimeout = d })
}

// WithHTTPClient injects the HTTP primitive the Transport issues its
// requests through, so tests can supply a fake in place of a real
// *http.Client.
func WithHTTPClient(c HTTPDoer) Option {
	return optionFunc(func(o *ClientOptions) { o.httpClient = c })
}

// WithLogger injects a *slog.Logger; defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(o *ClientOptions) { o.logger = logger })
}

// WithAgent sets the User-Agent identifying this client to the server.
func WithAgent(agent string) Option {
	return optionFunc(func(o *ClientOptions) { o.agent = agent })
}

// WithLiveChannel controls whether Restore also starts the live
// channel. NewClient always starts it; Restore defaults to not
// starting it (a read-only frozen view) unless this is set true
// alongside base URLs.
func WithLiveChannel(enabled bool) Option {
	return optionFunc(func(o *ClientOptions) { o.startLiveChannel = enabled })
}

// TestingOptions returns options tuned for fast test execution: short
// timeouts and a fast retry delay, so a test exercising reconnects or
// initialization failures doesn't wait out the production defaults.
func TestingOptions() []Option {
	return []Option{
		WithRequestTimeout(200 * time.Millisecond),
		WithInitializationTimeout(500 * time.Millisecond),
		WithRetryDelay(10 * time.Millisecond),
		WithInactivityTimeout(500 * time.Millisecond),
	}
}

// Client is the public entry point: Get, Subscribe, GetSnapshot, and
// Close, composing a Store, Evaluator, Transport, and Registry into a
// single handle.
type Client struct {
	store     *Store
	registry  *Registry
	transport *Transport
	logger    *slog.Logger

	context  Context
	defaults map[string]any

	mu    sync.RWMutex
	state State

	closed    atomic.Bool
	closeOnce sync.Once
	initGroup singleflight.Group
}

// NewClient constructs a Client against baseURL/sdkKey and blocks,
// honoring ctx, until it is Ready or initialization fails. Use Restore
// instead when starting from a previously frozen Snapshot.
func NewClient(ctx context.Context, baseURL, sdkKey string, opts ...Option) (*Client, error) {
	co := ClientOptions{baseURLs: []string{baseURL}, sdkKey: sdkKey, startLiveChannel: true}
	for _, o := range opts {
		o.apply(&co)
	}
	return newClientAndInit(ctx, co)
}

func newClient(co ClientOptions) (*Client, error) {
	return newClientAndInit(context.Background(), co)
}

func newClientAndInit(ctx context.Context, co ClientOptions) (*Client, error) {
	logger := co.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "client")

	c := &Client{
		store:    NewStore(),
		registry: NewRegistry(logger),
		logger:   logger,
		context:  co.context,
		defaults: co.defaults,
		state:    StateInitializing,
	}

	if co.snapshot != nil {
		return c.restoreFromSnapshot(ctx, co)
	}
	return c.initializeFromServer(ctx, co)
}

// restoreFromSnapshot implements the Restore path: populate the Store
// synchronously, enter Ready immediately, and only then (optionally)
// start the live channel. No initial-load request is issued.
func (c *Client) restoreFromSnapshot(ctx context.Context, co ClientOptions) (*Client, error) {
	if co.snapshot.Context != nil {
		c.context = *co.snapshot.Context
	}
	if _, err := c.store.UpsertAll(co.snapshot.Configs); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	if len(co.baseURLs) > 0 && co.sdkKey != "" && co.startLiveChannel {
		transport, err := c.buildTransport(co)
		if err != nil {
			c.logger.Warn("restored client could not start live channel", "error", err)
			return c, nil
		}
		c.transport = transport
		c.startLiveChannel(ctx)
	}
	return c, nil
}

// initializeFromServer implements the no-snapshot initialization
// sequence: open Transport, issue initial load, populate Store,
// validate required names, transition to Ready, start the live
// channel. The whole sequence is bounded by initializationTimeout.
func (c *Client) initializeFromServer(ctx context.Context, co ClientOptions) (*Client, error) {
	timeout := co.initializationTimeout
	if timeout <= 0 {
		timeout = defaultInitializationTimeout
	}
	initCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	transport, err := c.buildTransport(co)
	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return nil, err
	}
	c.transport = transport

	_, err, _ = c.initGroup.Do("init", func() (any, error) {
		entries, err := transport.InitialLoad(initCtx)
		if err != nil {
			if initCtx.Err() != nil {
				return nil, errInitializationTimeout(initCtx.Err())
			}
			return nil, err
		}

		if _, err := c.store.UpsertAll(entries); err != nil {
			return nil, err
		}

		if missing := missingRequired(c.store, co.required); len(missing) > 0 {
			return nil, errMissingRequired(missing)
		}

		if err := initCtx.Err(); err != nil {
			return nil, errInitializationTimeout(err)
		}
		return nil, nil
	})

	if err != nil {
		c.mu.Lock()
		c.state = StateFailed
		c.mu.Unlock()
		return nil, err
	}

	c.mu.Lock()
	c.state = StateReady
	c.mu.Unlock()

	c.startLiveChannel(ctx)
	return c, nil
}

func missingRequired(store *Store, required []string) []string {
	var missing []string
	for _, name := range required {
		if !store.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

func (c *Client) buildTransport(co ClientOptions) (*Transport, error) {
	if len(co.baseURLs) == 0 {
		return nil, nil
	}
	return NewTransport(TransportOptions{
		BaseURLs:          co.baseURLs,
		SDKKey:            co.sdkKey,
		Agent:             co.agent,
		Client:            co.httpClient,
		Logger:            c.logger,
		RequestTimeout:    co.requestTimeout,
		RetryDelay:        co.retryDelay,
		InactivityTimeout: co.inactivityTimeout,
	})
}

// startLiveChannel wires Transport deliveries into the Store and
// Registry: each delivery upserts into the Store, then the Registry
// dispatches exactly once per delivery.
func (c *Client) startLiveChannel(ctx context.Context) {
	if c.transport == nil {
		return
	}
	c.transport.StartLiveChannel(ctx, func(entries []Entry) {
		// Deliveries only ever add or replace: a name the server stops
		// sending is never removed here, and keeps serving its last known
		// value indefinitely. There is no delivery shape for "delete name."
		if c.closed.Load() {
			return
		}
		changed, err := c.store.UpsertAll(entries)
		if err != nil {
			c.logger.Warn("failed to apply delivery", "error", err)
			return
		}
		if c.closed.Load() {
			return
		}
		c.registry.Dispatch(changed)
	})
}

// Get evaluates the named entry against the client context merged with
// opts.Context, per-call keys winning. Absent entries fall back to
// opts.Default, then to the client's construction-time default, then
// fail with ErrKindNotFound. After Close, Get still returns the
// last-known value; it does not itself return ErrClosed.
func (c *Client) Get(name string, opts ...GetOptions) (any, error) {
	var o GetOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	entry, ok := c.store.Read(name)
	if !ok {
		if o.Default != nil {
			return *o.Default, nil
		}
		if v, ok := c.defaults[name]; ok {
			return v, nil
		}
		return nil, errNotFound(name)
	}

	merged := c.context.Merge(o.Context)
	return Evaluate(entry, merged), nil
}

// GetWithDefault is a convenience wrapper around Get for callers that
// want a per-call default without constructing a GetOptions value.
func (c *Client) GetWithDefault(name string, def any, ctx Context) any {
	v, _ := c.Get(name, GetOptions{Context: ctx, Default: Default(def)})
	return v
}

// Subscribe registers listener to fire whenever the value Get(name)
// would return changes. After Close, Subscribe is a no-op returning a
// no-op Unsubscribe.
func (c *Client) Subscribe(name string, listener Listener) Unsubscribe {
	if c.closed.Load() {
		return func() {}
	}
	return c.registry.Subscribe(name, listener)
}

// SubscribeAll registers listener to fire once per delivery batch,
// regardless of how many names it changed.
func (c *Client) SubscribeAll(listener Listener) Unsubscribe {
	if c.closed.Load() {
		return func() {}
	}
	return c.registry.SubscribeAll(listener)
}

// GetSnapshot freezes the current Store and bound context. See Freeze.
func (c *Client) GetSnapshot() Snapshot {
	return Freeze(c)
}

// State returns the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Close transitions the client to Closed: releases the live channel,
// unregisters all listeners, and is idempotent. Cached values remain
// readable afterward.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()

		if c.transport != nil {
			c.transport.Close()
		}
		c.registry.Close()
	})
}
