// Package interfaces declares the contracts between the protocol engine and
// its collaborators: key-value storage, the key store, transport and services.
package interfaces
