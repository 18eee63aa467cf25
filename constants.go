package replane

import "time"

const (
	// Network Timeouts

	// defaultRequestTimeout bounds a single HTTP request: the initial
	// load, the resync fetch that opens each live-channel connection
	// attempt, or a testing-sync request.
	defaultRequestTimeout = 2 * time.Second

	// defaultInitializationTimeout is the upper envelope spanning the
	// whole initialization sequence (open transport, initial load,
	// required-set validation), regardless of how many retries happen
	// inside it.
	defaultInitializationTimeout = 5 * time.Second

	// defaultRetryDelay is the fixed delay before a live-channel
	// reconnect attempt. Kept intentionally simple: exponential backoff
	// with jitter is a reasonable extension, not a requirement here.
	defaultRetryDelay = 200 * time.Millisecond

	// defaultInactivityTimeout is how long the live channel tolerates
	// silence (no record line, no heartbeat line) before being considered
	// stale.
	defaultInactivityTimeout = 30 * time.Second

	// minRetryDelay is the floor applied to a caller-supplied positive
	// retry delay, so a tiny value can't spin the reconnect loop; a
	// zero/negative value falls back to defaultRetryDelay.
	minRetryDelay = 10 * time.Millisecond

	// Event Handling

	// globalListenerKey is the Registry's reserved key for the
	// subscribe-to-everything listener set, distinct from any real
	// config name.
	globalListenerKey = ""

	// Wire Paths

	initialLoadPath = "/api/v1/configs"
	liveChannelPath = "/api/v1/stream"
	testingSyncPath = "/api/v1/testing/sync"

	// EmbeddableGlobalName is the stable global the snapshot codec
	// assigns into when embedding a snapshot in server-rendered HTML,
	// and that a matching browser-side provider reads back.
	EmbeddableGlobalName = "__REPLANE_SNAPSHOT__"

	scriptCloseTag = "</script"
)

// defaultAgent identifies this client in the User-Agent header when the
// caller doesn't supply one of their own via WithAgent.
const defaultAgent = "replane-go/1"
