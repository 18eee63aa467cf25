package replane

// StaticSnapshot builds a Snapshot directly from entries and an
// optional context, without ever talking to a server. It is the
// smallest building block for tests and for the localfile package,
// which decodes a YAML fixture into the same shape to serve config
// definitions from a local file instead of the network.
func StaticSnapshot(entries []Entry, ctx Context) Snapshot {
	snap := Snapshot{Configs: entries}
	if ctx != nil {
		snap.Context = &ctx
	}
	return snap
}
