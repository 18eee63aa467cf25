package replane

import (
	"log/slog"
	"sync"
)

// Listener is invoked when the value returned by Get(name) would
// change. Errors panicking out of a Listener are caught and logged;
// they never interrupt delivery or fail subsequent listeners.
type Listener func()

// Unsubscribe removes a previously registered listener. Calling it more
// than once, or after Close, is a no-op.
type Unsubscribe func()

// Registry holds per-name listener sets plus a global listener set and
// dispatches deliveries to them: per-name listeners fire once per
// changed name, global listeners fire once per delivery batch
// regardless of how many names changed.
type Registry struct {
	mu     sync.Mutex
	byName map[string]map[int]Listener
	global map[int]Listener
	nextID int
	closed bool
	logger *slog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]map[int]Listener),
		global: make(map[int]Listener),
		logger: logger.With("component", "registry"),
	}
}

// Subscribe registers a listener for a single config name and returns
// its Unsubscribe handle. Registering after Close is a no-op that
// returns a no-op unsubscribe.
func (r *Registry) Subscribe(name string, l Listener) Unsubscribe {
	return r.subscribe(name, l)
}

// SubscribeAll registers a listener invoked once per delivery batch,
// regardless of which names changed within it.
func (r *Registry) SubscribeAll(l Listener) Unsubscribe {
	return r.subscribe(globalListenerKey, l)
}

func (r *Registry) subscribe(name string, l Listener) Unsubscribe {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}

	id := r.nextID
	r.nextID++

	if name == globalListenerKey {
		r.global[id] = l
	} else {
		set, ok := r.byName[name]
		if !ok {
			set = make(map[int]Listener)
			r.byName[name] = set
		}
		set[id] = l
	}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if name == globalListenerKey {
				delete(r.global, id)
				return
			}
			if set, ok := r.byName[name]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(r.byName, name)
				}
			}
		})
	}
}

// Dispatch notifies subscribers of one delivery: every changed name's
// per-name listeners fire, exactly once each, followed by every global
// listener firing exactly once, not once per changed name. Listener
// panics are recovered and logged, never propagated.
func (r *Registry) Dispatch(changed []string) {
	if len(changed) == 0 {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	toCall := make([]Listener, 0, len(changed))
	for _, name := range changed {
		if set, ok := r.byName[name]; ok {
			for _, l := range set {
				toCall = append(toCall, l)
			}
		}
	}
	for _, l := range r.global {
		toCall = append(toCall, l)
	}
	r.mu.Unlock()

	for _, l := range toCall {
		r.invoke(l)
	}
}

func (r *Registry) invoke(l Listener) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("subscriber listener panicked", "panic", rec)
		}
	}()
	l()
}

// Close marks the Registry closed: after it returns, no subscriber is
// ever invoked again, and Subscribe/SubscribeAll become no-ops.
// Idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.byName = make(map[string]map[int]Listener)
	r.global = make(map[int]Listener)
}
