package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// BlockSize is the length of one HKDF-SHA256 output block.
const BlockSize = sha256.Size

// DeriveBlocks runs HKDF-SHA256 extract-then-expand and returns n ordered 32 byte blocks.
// A nil salt is treated as 32 zero bytes.
func DeriveBlocks(ikm, salt, info []byte, n int) ([][]byte, error) {
	okm, err := Derive(ikm, salt, info, n*BlockSize)
	if err != nil {
		return nil, err
	}
	blocks := make([][]byte, n)
	for i := range blocks {
		blocks[i] = okm[i*BlockSize : (i+1)*BlockSize : (i+1)*BlockSize]
	}
	return blocks, nil
}

// Derive returns length bytes of HKDF-SHA256 output.
func Derive(ikm, salt, info []byte, length int) ([]byte, error) {
	if salt == nil {
		salt = make([]byte, BlockSize)
	}
	okm := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), okm); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return okm, nil
}
