package memzero_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"whisper/internal/util/memzero"
)

func TestZero(t *testing.T) {
	a := []byte{1, 2, 3}
	b := [4]byte{9, 9, 9, 9}
	memzero.Zero(a, b[:], nil, []byte{})
	require.Equal(t, []byte{0, 0, 0}, a)
	require.Equal(t, [4]byte{}, b)
}
