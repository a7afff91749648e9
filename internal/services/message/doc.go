// Package message is the protocol driver that sits between the application
// and the session engine.
//
// Outgoing plaintext is framed as Content, encrypted by the engine and handed
// to the Transport. A peer without an established session is resolved
// through the BundleFetcher first, so the first message to a new peer, or
// the first one after END_SESSION, is handshake-tagged.
//
// Incoming envelopes are decrypted one sender at a time in fetch order while
// different senders proceed concurrently. An envelope is acknowledged once it
// decrypted or once the engine rejected it; anything else (storage, context)
// leaves it queued. A handshake that consumed a one-time pre-key triggers
// replenishment of the published set.
package message
