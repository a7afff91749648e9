package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync"
)

// ExhaustedTestFixtureError is returned by a KeyQueue that has handed out
// every byte it was loaded with. It is a fixture failure, not a protocol error.
type ExhaustedTestFixtureError struct {
	Fixture string
	Wanted  int
}

func (e *ExhaustedTestFixtureError) Error() string {
	return fmt.Sprintf("test fixture %q exhausted: wanted %d more bytes", e.Fixture, e.Wanted)
}

// KeyQueue is an io.Reader that replays fixed key material in order. It is
// used as the randomness source so generated keys are known in advance.
type KeyQueue struct {
	name string

	mu      sync.Mutex
	pending [][]byte
}

// NewKeyQueue returns a queue named name that yields chunks back to back.
func NewKeyQueue(name string, chunks ...[]byte) *KeyQueue {
	q := &KeyQueue{name: name}
	for _, c := range chunks {
		q.pending = append(q.pending, append([]byte(nil), c...))
	}
	return q
}

// Push appends more material to the queue.
func (q *KeyQueue) Push(chunks ...[]byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range chunks {
		q.pending = append(q.pending, append([]byte(nil), c...))
	}
}

// Remaining returns the number of unread bytes.
func (q *KeyQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, c := range q.pending {
		n += len(c)
	}
	return n
}

func (q *KeyQueue) Read(p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for n < len(p) && len(q.pending) > 0 {
		c := copy(p[n:], q.pending[0])
		n += c
		q.pending[0] = q.pending[0][c:]
		if len(q.pending[0]) == 0 {
			q.pending = q.pending[1:]
		}
	}
	if n < len(p) {
		return n, &ExhaustedTestFixtureError{Fixture: q.name, Wanted: len(p) - n}
	}
	return n, nil
}

// Seeded is an endless deterministic byte stream: SHA-256 over a label and
// a block counter. Two Seeded readers with the same label agree byte for byte.
type Seeded struct {
	label []byte

	mu    sync.Mutex
	block uint64
	buf   []byte
}

// NewSeeded returns a Seeded stream for label.
func NewSeeded(label string) *Seeded {
	return &Seeded{label: []byte(label)}
}

func (s *Seeded) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for n < len(p) {
		if len(s.buf) == 0 {
			var ctr [8]byte
			binary.BigEndian.PutUint64(ctr[:], s.block)
			s.block++
			h := sha256.Sum256(append(append([]byte(nil), s.label...), ctr[:]...))
			s.buf = h[:]
		}
		c := copy(p[n:], s.buf)
		s.buf = s.buf[c:]
		n += c
	}
	return n, nil
}

// Bytes returns n bytes filled with b.
func Bytes(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}
