package ratchet

import (
	"errors"
	"fmt"
	"io"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/util/memzero"
)

const (
	// MaxReceivingChains bounds the peer ratchet keys we keep chains for.
	MaxReceivingChains = 5
	// MaxSkippedKeys bounds the skipped message key cache.
	MaxSkippedKeys = 2000
	// MaxMessagesAhead bounds how far a counter may jump within one chain.
	MaxMessagesAhead = 2000
)

var (
	infoRatchet     = []byte("WhisperRatchet")
	infoMessageKeys = []byte("WhisperMessageKeys")
	messageKeySeed  = []byte{0x01}
	chainKeySeed    = []byte{0x02}

	errChainUninitialised = errors.New("ratchet chain key is uninitialised")
)

// Header identifies the message key a ratchet message was sealed with.
type Header struct {
	RatchetKey      domain.PublicKey
	Counter         uint32
	PreviousCounter uint32
}

// InitAsInitiator seeds rec after the initiator side of the handshake.
// The peer's signed pre-key acts as its first ratchet key: it gets the
// handshake chain, and a fresh local ratchet key opens the sending chain.
func InitAsInitiator(rec *domain.SessionRecord, rootKey, chainKey []byte, theirRatchet domain.PublicKey, rnd io.Reader) error {
	ours, err := crypto.GenerateKeyPair(rnd)
	if err != nil {
		return err
	}
	root, sendCK, err := rootStep(rootKey, ours.Private, theirRatchet)
	if err != nil {
		return err
	}
	rec.RootKey = root
	rec.Sending = domain.SendingChain{RatchetKey: ours, ChainKey: sendCK}
	rec.Receiving = []domain.ReceivingChain{{RatchetKey: theirRatchet, ChainKey: chainKey}}
	rec.PreviousCounter = 0
	rec.Skipped = nil
	return nil
}

// InitAsResponder seeds rec after the responder side of the handshake.
// Our signed pre-key is the first sending ratchet key.
func InitAsResponder(rec *domain.SessionRecord, rootKey, chainKey []byte, ourRatchet domain.KeyPair) {
	rec.RootKey = rootKey
	rec.Sending = domain.SendingChain{RatchetKey: ourRatchet, ChainKey: chainKey}
	rec.Receiving = nil
	rec.PreviousCounter = 0
	rec.Skipped = nil
}

// NextSendingKeys advances the sending chain by one step and returns the
// message keys and header for the next outgoing message.
func NextSendingKeys(rec *domain.SessionRecord) (domain.MessageKeys, Header, error) {
	ch := &rec.Sending
	if len(ch.ChainKey) == 0 {
		return domain.MessageKeys{}, Header{}, errChainUninitialised
	}
	keys, err := advance(&ch.ChainKey, ch.Counter)
	if err != nil {
		return domain.MessageKeys{}, Header{}, err
	}
	h := Header{
		RatchetKey:      ch.RatchetKey.Public,
		Counter:         ch.Counter,
		PreviousCounter: rec.PreviousCounter,
	}
	ch.Counter++
	return keys, h, nil
}

// ReceivingKeys returns the message keys for h, stepping the DH ratchet when h
// carries a new peer ratchet key and caching keys for skipped counters.
//
// rec is mutated; callers work on a clone and keep it only if the message
// authenticates.
func ReceivingKeys(rec *domain.SessionRecord, h Header, rnd io.Reader) (domain.MessageKeys, error) {
	ch := findChain(rec, h.RatchetKey)
	if ch == nil {
		if err := step(rec, h.RatchetKey, rnd); err != nil {
			return domain.MessageKeys{}, err
		}
		ch = &rec.Receiving[len(rec.Receiving)-1]
	}

	if h.Counter < ch.Counter {
		seed, ok := takeSkipped(rec, h.RatchetKey, h.Counter)
		if !ok {
			return domain.MessageKeys{}, fmt.Errorf("%w: counter %d", domain.ErrDuplicateMessage, h.Counter)
		}
		defer memzero.Zero(seed)
		return deriveMessageKeys(seed, h.Counter)
	}
	if h.Counter-ch.Counter > MaxMessagesAhead {
		return domain.MessageKeys{}, fmt.Errorf("%w: counter %d, chain at %d", domain.ErrTooManySkipped, h.Counter, ch.Counter)
	}

	for ch.Counter < h.Counter {
		seed := crypto.MAC(ch.ChainKey, messageKeySeed)
		addSkipped(rec, domain.SkippedKey{RatchetKey: ch.RatchetKey, Counter: ch.Counter, Seed: seed})
		next := crypto.MAC(ch.ChainKey, chainKeySeed)
		memzero.Zero(ch.ChainKey)
		ch.ChainKey = next
		ch.Counter++
	}
	keys, err := advance(&ch.ChainKey, ch.Counter)
	if err != nil {
		return domain.MessageKeys{}, err
	}
	ch.Counter++
	return keys, nil
}

// step performs the DH ratchet for a new peer ratchet key: a receiving chain
// from our current ratchet key, then a fresh ratchet key for the sending chain.
func step(rec *domain.SessionRecord, theirRatchet domain.PublicKey, rnd io.Reader) error {
	root, recvCK, err := rootStep(rec.RootKey, rec.Sending.RatchetKey.Private, theirRatchet)
	if err != nil {
		return err
	}
	ours, err := crypto.GenerateKeyPair(rnd)
	if err != nil {
		return err
	}
	root2, sendCK, err := rootStep(root, ours.Private, theirRatchet)
	memzero.Zero(root)
	if err != nil {
		return err
	}

	rec.Receiving = append(rec.Receiving, domain.ReceivingChain{RatchetKey: theirRatchet, ChainKey: recvCK})
	if n := len(rec.Receiving); n > MaxReceivingChains {
		for i := range rec.Receiving[:n-MaxReceivingChains] {
			memzero.Zero(rec.Receiving[i].ChainKey)
		}
		rec.Receiving = append([]domain.ReceivingChain(nil), rec.Receiving[n-MaxReceivingChains:]...)
	}

	memzero.Zero(rec.RootKey, rec.Sending.ChainKey)
	rec.RootKey = root2
	rec.PreviousCounter = rec.Sending.Counter
	rec.Sending = domain.SendingChain{RatchetKey: ours, ChainKey: sendCK}
	return nil
}

// rootStep mixes DH(ourPrivate, theirPublic) into the root key.
func rootStep(rootKey []byte, ourPrivate domain.PrivateKey, theirPublic domain.PublicKey) (newRoot, chainKey []byte, err error) {
	dh, err := crypto.SharedSecret(ourPrivate, theirPublic)
	if err != nil {
		return nil, nil, err
	}
	blocks, err := crypto.DeriveBlocks(dh[:], rootKey, infoRatchet, 2)
	memzero.Zero(dh[:])
	if err != nil {
		return nil, nil, err
	}
	return blocks[0], blocks[1], nil
}

// advance derives the message keys at counter and replaces *ck with the next chain key.
func advance(ck *[]byte, counter uint32) (domain.MessageKeys, error) {
	seed := crypto.MAC(*ck, messageKeySeed)
	defer memzero.Zero(seed)
	next := crypto.MAC(*ck, chainKeySeed)
	memzero.Zero(*ck)
	*ck = next
	return deriveMessageKeys(seed, counter)
}

func deriveMessageKeys(seed []byte, counter uint32) (domain.MessageKeys, error) {
	okm, err := crypto.Derive(seed, nil, infoMessageKeys, 80)
	if err != nil {
		return domain.MessageKeys{}, err
	}
	return domain.MessageKeys{
		CipherKey: okm[:32:32],
		MacKey:    okm[32:64:64],
		IV:        okm[64:80:80],
		Counter:   counter,
	}, nil
}

// Wipe zeroes the key material in k.
func Wipe(k *domain.MessageKeys) {
	memzero.Zero(k.CipherKey, k.MacKey, k.IV)
}

func findChain(rec *domain.SessionRecord, key domain.PublicKey) *domain.ReceivingChain {
	for i := range rec.Receiving {
		if rec.Receiving[i].RatchetKey == key {
			return &rec.Receiving[i]
		}
	}
	return nil
}

func addSkipped(rec *domain.SessionRecord, sk domain.SkippedKey) {
	rec.Skipped = append(rec.Skipped, sk)
	if n := len(rec.Skipped); n > MaxSkippedKeys {
		for i := range rec.Skipped[:n-MaxSkippedKeys] {
			memzero.Zero(rec.Skipped[i].Seed)
		}
		rec.Skipped = append([]domain.SkippedKey(nil), rec.Skipped[n-MaxSkippedKeys:]...)
	}
}

func takeSkipped(rec *domain.SessionRecord, key domain.PublicKey, counter uint32) ([]byte, bool) {
	for i, sk := range rec.Skipped {
		if sk.RatchetKey == key && sk.Counter == counter {
			rec.Skipped = append(rec.Skipped[:i], rec.Skipped[i+1:]...)
			return sk.Seed, true
		}
	}
	return nil, false
}
