package replane

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Snapshot is a serializable freeze of a Store plus its bound context,
// intentionally identical in shape to the initial-load wire format so
// a restored client is indistinguishable from one that just
// initialized.
type Snapshot struct {
	Configs []Entry  `json:"configs"`
	Context *Context `json:"context,omitempty"`
}

// Freeze reads c's Store in a single pass (no lock held across
// serialization) and copies its bound context verbatim.
func Freeze(c *Client) Snapshot {
	entries := c.store.snapshotEntries()

	snap := Snapshot{Configs: entries}
	if len(c.context) > 0 {
		ctxCopy := make(Context, len(c.context))
		for k, v := range c.context {
			ctxCopy[k] = v
		}
		snap.Context = &ctxCopy
	}
	return snap
}

// ToEmbeddableScript returns a payload suitable for inlining in
// server-rendered HTML as an assignment to EmbeddableGlobalName. The
// output never contains a case-insensitive substring equal to a script
// close tag, so a string value the server embeds verbatim cannot break
// out of the script context it's embedded in.
func ToEmbeddableScript(s Snapshot) (string, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("replane: marshal snapshot: %w", err)
	}
	escaped := escapeScriptCloseTags(string(b))
	return fmt.Sprintf("window.%s = %s;", EmbeddableGlobalName, escaped), nil
}

// escapeScriptCloseTags rewrites every case-insensitive occurrence of
// "</script" so it can never terminate an enclosing <script> element,
// regardless of where in the JSON payload an attacker-controlled string
// value placed it. The escape (inserting a backslash before the
// forward slash) is valid inside a JSON string per the JSON spec, which
// permits an escaped solidus, and is inert outside of one since no
// other JSON token contains a literal "/".
func escapeScriptCloseTags(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	lower := strings.ToLower(s)
	target := strings.ToLower(scriptCloseTag)

	i := 0
	for {
		idx := strings.Index(lower[i:], target)
		if idx < 0 {
			b.WriteString(s[i:])
			break
		}
		matchStart := i + idx
		// Everything up to and including the "<" before "script".
		b.WriteString(s[i : matchStart+1])
		b.WriteString(`\`)
		// Resume after the "<", re-scanning "script" onward so
		// overlapping/adjacent occurrences are still caught.
		i = matchStart + 1
	}
	return b.String()
}

// Restore constructs a Client as if initialization completed from
// snapshot: the Store is populated synchronously, the client enters
// Ready immediately, and no initial-load request is ever issued. If
// baseURLs/sdkKey are supplied and WithLiveChannel is enabled via
// opts, a live channel is also started; otherwise the result is a
// read-only frozen view: Get works, subscriptions never fire.
func Restore(snapshot Snapshot, baseURLs []string, sdkKey string, opts ...Option) (*Client, error) {
	co := ClientOptions{baseURLs: baseURLs, sdkKey: sdkKey, snapshot: &snapshot}
	for _, o := range opts {
		o.apply(&co)
	}
	return newClient(co)
}
