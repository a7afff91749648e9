package domain

import (
	interfaces "whisper/internal/domain/interfaces"
	types "whisper/internal/domain/types"
)

// Type aliases expose domain types from the types subpackage for compact imports.
type (
	Address          = types.Address
	Fingerprint      = types.Fingerprint
	RegistrationID   = types.RegistrationID
	SignedPreKeyID   = types.SignedPreKeyID
	PreKeyID         = types.PreKeyID
	PublicKey        = types.PublicKey
	PrivateKey       = types.PrivateKey
	KeyPair          = types.KeyPair
	IdentityKeyPair  = types.IdentityKeyPair
	MessageKeys      = types.MessageKeys
	SignedPreKey     = types.SignedPreKey
	OneTimePreKey    = types.OneTimePreKey
	PreKeyPublic     = types.PreKeyPublic
	PreKeyBundle     = types.PreKeyBundle
	PublishedKeys    = types.PublishedKeys
	SessionStatus    = types.SessionStatus
	SendingChain     = types.SendingChain
	ReceivingChain   = types.ReceivingChain
	SkippedKey       = types.SkippedKey
	PendingPreKey    = types.PendingPreKey
	SessionRecord    = types.SessionRecord
	EnvelopeType     = types.EnvelopeType
	Envelope         = types.Envelope
	DecryptedMessage = types.DecryptedMessage
	Namespace        = types.Namespace
	Batch            = types.Batch
	BatchOp          = types.BatchOp
)

// Interface aliases expose domain interfaces from the interfaces subpackage.
type (
	KeyValueStore   = interfaces.KeyValueStore
	KeyStore        = interfaces.KeyStore
	Transport       = interfaces.Transport
	BundleFetcher   = interfaces.BundleFetcher
	KeyDirectory    = interfaces.KeyDirectory
	SessionEngine   = interfaces.SessionEngine
	PreKeyService   = interfaces.PreKeyService
	IdentityService = interfaces.IdentityService
)

const (
	PublicKeySize = types.PublicKeySize
	KeyTypeDJB    = types.KeyTypeDJB

	StatusUninitialized = types.StatusUninitialized
	StatusEstablished   = types.StatusEstablished
	StatusClosed        = types.StatusClosed

	EnvelopeCiphertext = types.EnvelopeCiphertext
	EnvelopePreKey     = types.EnvelopePreKey

	NamespaceEncrypted   = types.NamespaceEncrypted
	NamespaceUnencrypted = types.NamespaceUnencrypted
)

// ParseAddress parses the "name.device" form; see types.ParseAddress.
func ParseAddress(s string) (Address, error) { return types.ParseAddress(s) }
