// Command relay runs the in-memory store-and-forward relay devices use to
// exchange pre-key bundles and encrypted envelopes.
//
// Usage:
//
//	relay [--config whisper.toml] [--listen :8080]
//
// The HTTP API is described in package internal/relay. Prometheus metrics,
// including Go runtime and process collectors, are served on /metrics.
//
// All state is held in memory and lost on exit. The relay never sees
// plaintext or private keys.
package main
