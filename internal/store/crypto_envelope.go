package store

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// The current supported version of the sealed keystore format.
	keystoreFormatVersion = 1

	checkName = "whisper-keystore-check"
)

var (
	// ErrWrongPassphrase is returned when the passphrase does not open the keystore.
	ErrWrongPassphrase = errors.New("wrong passphrase or corrupted keystore")

	errCorrupted = errors.New("sealed value is corrupted")
)

var checkPlaintext = []byte("whisper keystore v1")

// kdfParams is the persisted scrypt configuration plus a sealed check value
// used to tell a wrong passphrase apart from a corrupted entry.
type kdfParams struct {
	V     int    `json:"v"`
	Salt  []byte `json:"salt"`
	N     int    `json:"scrypt_N"`
	R     int    `json:"scrypt_r"`
	P     int    `json:"scrypt_p"`
	Check []byte `json:"check"`
}

// sealer encrypts encrypted-namespace values under a passphrase-derived key.
// Each value is bound to its key name as associated data so values cannot
// be swapped between keys.
type sealer struct {
	aead cipher.AEAD
}

// newParams creates fresh KDF parameters and the matching sealer.
func newParams(passphrase string, N, r, p int) (*kdfParams, *sealer, error) {
	var salt [16]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, nil, err
	}
	params := &kdfParams{V: keystoreFormatVersion, Salt: salt[:], N: N, R: r, P: p}
	s, err := deriveSealer(passphrase, params)
	if err != nil {
		return nil, nil, err
	}
	if params.Check, err = s.seal(checkName, checkPlaintext); err != nil {
		return nil, nil, err
	}
	return params, s, nil
}

// openParams derives the sealer for stored params and checks the passphrase.
func openParams(passphrase string, params *kdfParams) (*sealer, error) {
	if params.V > keystoreFormatVersion {
		return nil, fmt.Errorf("unsupported keystore version %d", params.V)
	}
	s, err := deriveSealer(passphrase, params)
	if err != nil {
		return nil, err
	}
	if _, err := s.open(checkName, params.Check); err != nil {
		return nil, ErrWrongPassphrase
	}
	return s, nil
}

func deriveSealer(passphrase string, params *kdfParams) (*sealer, error) {
	key, err := scrypt.Key([]byte(passphrase), params.Salt, params.N, params.R, params.P, chacha20poly1305.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &sealer{aead: aead}, nil
}

// seal returns nonce || ciphertext.
func (s *sealer) seal(name string, pt []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(pt)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, pt, []byte(name)), nil
}

func (s *sealer) open(name string, b []byte) ([]byte, error) {
	ns := s.aead.NonceSize()
	if len(b) < ns+s.aead.Overhead() {
		return nil, errCorrupted
	}
	pt, err := s.aead.Open(nil, b[:ns], b[ns:], []byte(name))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errCorrupted, name)
	}
	return pt, nil
}

// Tunables for scrypt key derivation.
func scryptParamsDefault() (N, r, p int) { return 1 << 15, 8, 1 }
