package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"

	"whisper/internal/domain"
)

// MACSize is the truncated tag length carried by ratchet messages.
const MACSize = 8

// EncryptCBC encrypts plaintext with AES-CBC and PKCS#7 padding.
func EncryptCBC(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cbc: iv length %d", len(iv))
	}
	pad := aes.BlockSize - len(plaintext)%aes.BlockSize
	buf := make([]byte, len(plaintext)+pad)
	copy(buf, plaintext)
	copy(buf[len(plaintext):], bytes.Repeat([]byte{byte(pad)}, pad))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(buf, buf)
	return buf, nil
}

// DecryptCBC reverses EncryptCBC. Bad lengths or padding return domain.ErrAuthentication.
func DecryptCBC(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("cbc: iv length %d", len(iv))
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", domain.ErrAuthentication, len(ciphertext))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)

	pad := int(out[len(out)-1])
	if pad == 0 || pad > aes.BlockSize {
		return nil, fmt.Errorf("%w: bad padding", domain.ErrAuthentication)
	}
	for _, b := range out[len(out)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("%w: bad padding", domain.ErrAuthentication)
		}
	}
	return out[:len(out)-pad], nil
}

// EncryptCTR applies AES-CTR keyed with key starting at the 16 byte counter block.
func EncryptCTR(key, counter, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(counter) != aes.BlockSize {
		return nil, fmt.Errorf("ctr: counter length %d", len(counter))
	}
	out := make([]byte, len(plaintext))
	cipher.NewCTR(block, counter).XORKeyStream(out, plaintext)
	return out, nil
}

// DecryptCTR is EncryptCTR; the keystream is symmetric.
func DecryptCTR(key, counter, ciphertext []byte) ([]byte, error) {
	return EncryptCTR(key, counter, ciphertext)
}

// MAC returns the full HMAC-SHA256 of the concatenated parts.
func MAC(key []byte, parts ...[]byte) []byte {
	m := hmac.New(sha256.New, key)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// VerifyMAC compares tag against the leading bytes of the HMAC in constant time.
func VerifyMAC(key, tag []byte, parts ...[]byte) error {
	full := MAC(key, parts...)
	if len(tag) == 0 || len(tag) > len(full) {
		return fmt.Errorf("%w: tag length %d", domain.ErrAuthentication, len(tag))
	}
	if subtle.ConstantTimeCompare(full[:len(tag)], tag) != 1 {
		return domain.ErrAuthentication
	}
	return nil
}
