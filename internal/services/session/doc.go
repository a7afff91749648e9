// Package session is the session engine.
//
// # Overview
//
// A Service owns no state of its own. Each peer device has one SessionRecord
// in the KeyStore, and every call loads it, works on a clone and commits the
// clone through KeyStore.CommitSession once the message has been accepted.
//
// # Flows
//
//   - EstablishOutgoing verifies a fetched bundle and seeds a record as
//     initiator. Outgoing envelopes stay handshake-tagged until the first
//     reply decrypts.
//   - Decrypt of a handshake envelope either continues the session that the
//     same base key created or establishes a new one as responder, consuming
//     the referenced one-time pre-key in the same commit.
//   - Decrypt of a ratchet envelope requires an established session.
//   - Close marks the record closed; the next Encrypt needs a new bundle.
//
// # Errors
//
// Rejections are returned wrapped around the domain sentinels
// (ErrAuthentication, ErrDuplicateMessage, ErrNoSession, ErrPreKeyNotFound,
// ErrStaleSession, ErrInvalidMessage, ErrInvalidSignature,
// ErrUntrustedIdentity, ErrTooManySkipped). None of them change the stored
// record.
package session
