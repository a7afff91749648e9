// Package x3dh implements the X3DH key agreement that bootstraps a double
// ratchet session between two devices.
//
// # Overview
//
// X3DH lets an initiator derive a shared root key and chain key with a
// responder who has published a pre-key bundle. The bundle contains:
//   - Identity key (Curve25519)
//   - Signed pre-key (Curve25519) and its XEdDSA signature
//   - Optionally one one-time pre-key (Curve25519)
//
// # Flows
//
// Initiator:
//  1. Verify the signed pre-key signature (VerifySignedPreKey).
//  2. Generate a base key pair.
//  3. Compute DH values (IKa·SPKb, EKa·IKb, EKa·SPKb[, EKa·OPKb]).
//  4. HKDF over 0xFF*32 || transcript with info "WhisperText".
//
// Responder:
//  1. Receive the handshake message (initiator IK, base key, SPK id[, OPK id]).
//  2. Look up the SPK and the OPK by id.
//  3. Compute the mirrored DH set (SPKb·IKa, IKb·EKa, SPKb·EKa[, OPKb·EKa]).
//  4. HKDF the same transcript to the identical root and chain keys.
//
// # Errors
//
// domain.ErrInvalidSignature is returned when the SPK signature fails and
// domain.ErrInvalidPoint when any public key is of low order.
package x3dh
