// Package identity bootstraps the local installation.
//
// It drives KeyStore.Init, which never replaces an existing identity, reports
// identity fingerprints and enforces the passphrase policy for new keystores.
package identity
