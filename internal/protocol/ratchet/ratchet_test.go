package ratchet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"whisper/internal/crypto"
	"whisper/internal/domain"
	"whisper/internal/protocol/ratchet"
	"whisper/internal/protocol/x3dh"
)

// makeKeyPair returns a fresh Curve25519 key pair.
func makeKeyPair(t *testing.T) domain.KeyPair {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(nil)
	require.NoError(t, err)
	return kp
}

// makeSessions runs a handshake and returns the initiator and responder records.
func makeSessions(t *testing.T) (alice, bob *domain.SessionRecord) {
	t.Helper()
	aliceID, base := makeKeyPair(t), makeKeyPair(t)
	bobID, spk := makeKeyPair(t), makeKeyPair(t)

	as, err := x3dh.Initiator(aliceID, base, bobID.Public, spk.Public, nil)
	require.NoError(t, err)
	bs, err := x3dh.Responder(bobID, spk, nil, aliceID.Public, base.Public)
	require.NoError(t, err)

	alice, bob = &domain.SessionRecord{}, &domain.SessionRecord{}
	require.NoError(t, ratchet.InitAsInitiator(alice, as.RootKey, as.ChainKey, spk.Public, nil))
	ratchet.InitAsResponder(bob, bs.RootKey, bs.ChainKey, spk)
	return alice, bob
}

// send advances from's sending chain and checks to derives the same keys.
func send(t *testing.T, from, to *domain.SessionRecord) ratchet.Header {
	t.Helper()
	sent, h, err := ratchet.NextSendingKeys(from)
	require.NoError(t, err)
	got, err := ratchet.ReceivingKeys(to, h, nil)
	require.NoError(t, err)
	require.Equal(t, sent, got)
	return h
}

func TestRatchet_FirstMessage(t *testing.T) {
	alice, bob := makeSessions(t)
	h := send(t, alice, bob)
	require.Equal(t, uint32(0), h.Counter)
	require.Equal(t, alice.Sending.RatchetKey.Public, h.RatchetKey)
	require.Len(t, bob.Receiving, 1)
}

func TestRatchet_PingPong(t *testing.T) {
	alice, bob := makeSessions(t)
	seen := map[string]bool{}

	for round := 0; round < 6; round++ {
		for i := 0; i < 3; i++ {
			keys, h, err := ratchet.NextSendingKeys(alice)
			require.NoError(t, err)
			got, err := ratchet.ReceivingKeys(bob, h, nil)
			require.NoError(t, err)
			require.Equal(t, keys, got)
			require.False(t, seen[string(keys.CipherKey)], "message key reused")
			seen[string(keys.CipherKey)] = true
		}
		aliceRatchet := alice.Sending.RatchetKey.Public
		h := send(t, bob, alice)
		require.NotEqual(t, aliceRatchet, h.RatchetKey)
		require.NotEqual(t, aliceRatchet, alice.Sending.RatchetKey.Public, "ratchet key replaced on DH step")
	}
}

func TestRatchet_ChainKeyReplacedEachMessage(t *testing.T) {
	alice, _ := makeSessions(t)
	prev := append([]byte(nil), alice.Sending.ChainKey...)
	for i := 0; i < 4; i++ {
		_, _, err := ratchet.NextSendingKeys(alice)
		require.NoError(t, err)
		require.NotEqual(t, prev, alice.Sending.ChainKey)
		prev = append([]byte(nil), alice.Sending.ChainKey...)
	}
	require.Equal(t, uint32(4), alice.Sending.Counter)
}

func TestRatchet_ReorderAndDuplicate(t *testing.T) {
	alice, bob := makeSessions(t)

	var (
		keys    [3]domain.MessageKeys
		headers [3]ratchet.Header
	)
	for i := range keys {
		var err error
		keys[i], headers[i], err = ratchet.NextSendingKeys(alice)
		require.NoError(t, err)
	}

	got, err := ratchet.ReceivingKeys(bob, headers[0], nil)
	require.NoError(t, err)
	require.Equal(t, keys[0], got)

	got, err = ratchet.ReceivingKeys(bob, headers[2], nil)
	require.NoError(t, err)
	require.Equal(t, keys[2], got)
	require.Len(t, bob.Skipped, 1, "counter 1 cached")

	got, err = ratchet.ReceivingKeys(bob, headers[1], nil)
	require.NoError(t, err)
	require.Equal(t, keys[1], got)
	require.Empty(t, bob.Skipped)

	_, err = ratchet.ReceivingKeys(bob, headers[1], nil)
	require.ErrorIs(t, err, domain.ErrDuplicateMessage)
	_, err = ratchet.ReceivingKeys(bob, headers[0], nil)
	require.ErrorIs(t, err, domain.ErrDuplicateMessage)
}

func TestRatchet_LateMessageFromOldChain(t *testing.T) {
	alice, bob := makeSessions(t)

	send(t, alice, bob)
	lateKeys, late, err := ratchet.NextSendingKeys(alice)
	require.NoError(t, err)

	// A full round trip moves both sides to new chains.
	send(t, bob, alice)
	send(t, alice, bob)

	got, err := ratchet.ReceivingKeys(bob, late, nil)
	require.NoError(t, err)
	require.Equal(t, lateKeys, got)
}

func TestRatchet_TooFarAhead(t *testing.T) {
	alice, bob := makeSessions(t)
	_, h, err := ratchet.NextSendingKeys(alice)
	require.NoError(t, err)

	h.Counter = ratchet.MaxMessagesAhead + 1
	_, err = ratchet.ReceivingKeys(bob, h, nil)
	require.ErrorIs(t, err, domain.ErrTooManySkipped)
}

func TestRatchet_ReceivingChainsBounded(t *testing.T) {
	alice, bob := makeSessions(t)
	for i := 0; i < ratchet.MaxReceivingChains+3; i++ {
		send(t, alice, bob)
		send(t, bob, alice)
	}
	require.Len(t, bob.Receiving, ratchet.MaxReceivingChains)
	require.Len(t, alice.Receiving, ratchet.MaxReceivingChains)
	require.Equal(t, bob.Sending.RatchetKey.Public, alice.Receiving[len(alice.Receiving)-1].RatchetKey)
}

func TestRatchet_SkippedCacheBounded(t *testing.T) {
	alice, bob := makeSessions(t)

	// Three bursts each skipping most of their counters.
	for burst := 0; burst < 3; burst++ {
		var last ratchet.Header
		var lastKeys domain.MessageKeys
		for i := 0; i < 1000; i++ {
			var err error
			lastKeys, last, err = ratchet.NextSendingKeys(alice)
			require.NoError(t, err)
		}
		got, err := ratchet.ReceivingKeys(bob, last, nil)
		require.NoError(t, err)
		require.Equal(t, lastKeys, got)
		send(t, bob, alice)
	}
	require.Len(t, bob.Skipped, ratchet.MaxSkippedKeys)
}

func TestRatchet_CloneIsolation(t *testing.T) {
	alice, bob := makeSessions(t)
	send(t, alice, bob)

	snapshot := bob.Clone()
	_, h, err := ratchet.NextSendingKeys(alice)
	require.NoError(t, err)
	h.Counter += 3

	work := bob.Clone()
	_, err = ratchet.ReceivingKeys(work, h, nil)
	require.NoError(t, err)
	require.Equal(t, snapshot, bob, "original untouched by work on a clone")
	require.NotEqual(t, snapshot.Receiving[0].ChainKey, work.Receiving[0].ChainKey)
}
