// Package replane is a client-side runtime for a remote dynamic-
// configuration / feature-flag service. It keeps a live, in-memory view
// of a set of named configs consistent with a server via a streaming
// transport, evaluates per-call overrides against a caller-supplied
// context, and can freeze/restore that view as a snapshot for
// server-render hand-off.
//
// # Basic Usage
//
//	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
//	defer cancel()
//	client, err := replane.NewClient(ctx, "https://config.example.com", "YOUR_SDK_KEY",
//	    replane.WithContext(replane.Context{"env": "production"}),
//	    replane.WithRequired("checkout-enabled"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	enabled, _ := client.Get("checkout-enabled", replane.GetOptions{
//	    Default: replane.Default(false),
//	})
//
// # Subscriptions
//
//	unsubscribe := client.Subscribe("checkout-enabled", func() {
//	    log.Println("checkout-enabled changed")
//	})
//	defer unsubscribe()
//
// # Server-render hand-off
//
// A server process freezes its view with Client.GetSnapshot and embeds
// it with ToEmbeddableScript; a browser process restores an identical
// view with Restore, with or without resuming live updates:
//
//	snap := client.GetSnapshot()
//	script, _ := replane.ToEmbeddableScript(snap)
//	// script is safe to inline inside a <script> tag: it contains no
//	// case-insensitive "</script" substring even if a config value does.
//
//	restored, _ := replane.Restore(snap, nil, "")
//	// restored.Get returns identical values; Subscribe never fires,
//	// since no endpoint was supplied.
//
// # Concurrency
//
// Client is safe for concurrent use. Get, GetSnapshot, Subscribe, and
// SubscribeAll never block. Close blocks until the live channel and any
// in-flight request have fully released.
package replane
