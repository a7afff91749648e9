// Package relay is the store-and-forward service between devices and the
// HTTP client devices use to reach it.
//
// HTTP API (JSON):
//
//	PUT    /v1/keys/:name/:device          publish identity, signed and one-time pre-keys
//	GET    /v1/keys/:name/:device          fetch a bundle; pops one one-time pre-key
//	PUT    /v1/messages/:name/:device      queue an envelope; replies with its id
//	GET    /v1/messages/:name/:device      list queued envelopes, ?limit=N
//	DELETE /v1/messages/:name/:device/:id  acknowledge an envelope
//	GET    /metrics                        prometheus collectors
//
// Published keys are checked for well-formed points and a valid signed
// pre-key signature. Envelopes are opaque. State lives in memory and is lost
// when the process exits. Every response carries an X-Request-ID header.
//
// Non-2xx responses surface on the client as *StatusError; a 404 matches
// ErrNotFound.
package relay
