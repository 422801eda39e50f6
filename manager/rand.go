package manager

import (
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20"
)

// ceremonyRand is a ChaCha20 keystream seeded from the system source. Each
// ceremony gets its own, so no two ceremonies draw from one stream.
type ceremonyRand struct {
	c *chacha20.Cipher
}

func newCeremonyRand() (io.Reader, error) {
	key := make([]byte, chacha20.KeySize)
	defer clear(key)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("manager: seeding ceremony rng: %w", err)
	}
	c, err := chacha20.NewUnauthenticatedCipher(key, make([]byte, chacha20.NonceSize))
	if err != nil {
		return nil, err
	}
	return &ceremonyRand{c: c}, nil
}

func (r *ceremonyRand) Read(p []byte) (int, error) {
	clear(p)
	r.c.XORKeyStream(p, p)
	return len(p), nil
}
